package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"
)

// helperEnv selects the fake provider when the test binary re-executes itself
const helperEnv = "MINICODE_BRIDGE_HELPER"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "1":
		runFakeProvider()
		os.Exit(0)
	case "sleep":
		// a long-lived child of a wrapper launcher holding its stdout
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type fakeFrame struct {
	ID     json.RawMessage        `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// runFakeProvider is a minimal MCP server used by the tests
func runFakeProvider() {
	var mu sync.Mutex
	out := bufio.NewWriter(os.Stdout)
	send := func(v interface{}) {
		data, _ := json.Marshal(v)
		mu.Lock()
		defer mu.Unlock()
		out.Write(data)
		out.WriteByte('\n')
		out.Flush()
	}
	sendRaw := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		out.WriteString(line + "\n")
		out.Flush()
	}
	reply := func(id json.RawMessage, result interface{}) {
		send(map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": result})
	}

	var held []fakeFrame

	fmt.Fprintln(os.Stderr, "fake provider started")

	if os.Getenv("FAKE_PROVIDER_WRAPPER") == "1" {
		child := exec.Command(os.Args[0], "-test.run=^$")
		child.Env = append(os.Environ(), helperEnv+"=sleep")
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		if err := child.Start(); err != nil {
			fmt.Fprintln(os.Stderr, "failed to start child:", err)
			os.Exit(1)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	for scanner.Scan() {
		var f fakeFrame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			continue
		}

		switch f.Method {
		case "initialize":
			if os.Getenv("FAKE_PROVIDER_SILENT") == "1" {
				continue
			}
			if delay, err := time.ParseDuration(os.Getenv("FAKE_PROVIDER_INIT_DELAY")); err == nil {
				time.Sleep(delay)
			}
			reply(f.ID, map[string]interface{}{
				"protocolVersion": f.Params["protocolVersion"],
				"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
				"serverInfo":      map[string]interface{}{"name": "fake", "version": "1"},
			})
		case "notifications/initialized":
		case "ping":
			reply(f.ID, map[string]interface{}{})
		case "env":
			reply(f.ID, map[string]interface{}{"value": os.Getenv(f.Params["name"].(string))})
		case "hold":
			// answer held requests in reverse order once enough arrived
			held = append(held, f)
			if len(held) == int(f.Params["count"].(float64)) {
				for i := len(held) - 1; i >= 0; i-- {
					reply(held[i].ID, map[string]interface{}{
						"id":  json.RawMessage(held[i].ID),
						"tag": held[i].Params["tag"],
					})
				}
				held = nil
			}
		case "noisy":
			sendRaw("this is not json")
			sendRaw(`{"jsonrpc":"2.0","id":424242,"result":{"tag":"stray"}}`)
			sendRaw(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s}`, f.ID))
			sendRaw(`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"}}`)
			reply(f.ID, map[string]interface{}{"tag": "real"})
		case "never":
		case "stall":
			// stop draining stdin
			time.Sleep(time.Minute)
		case "null":
			sendRaw(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":null}`, f.ID))
		case "fail":
			send(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      f.ID,
				"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
			})
		case "exit":
			os.Exit(3)
		case "tools/list":
			cursor, _ := f.Params["cursor"].(string)
			if cursor == "" {
				reply(f.ID, map[string]interface{}{
					"tools": []map[string]interface{}{{
						"name":        "echo",
						"description": "Echo text",
						"inputSchema": map[string]interface{}{
							"type":       "object",
							"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
							"required":   []string{"text"},
						},
					}},
					"nextCursor": "page2",
				})
				continue
			}
			reply(f.ID, map[string]interface{}{
				"tools": []map[string]interface{}{
					{"name": "read_file", "description": "Remote read"},
					{"name": "broken", "description": "Bad schema", "inputSchema": map[string]interface{}{"type": "string"}},
				},
			})
		case "tools/call":
			name, _ := f.Params["name"].(string)
			args, _ := f.Params["arguments"].(map[string]interface{})
			switch name {
			case "echo":
				reply(f.ID, map[string]interface{}{
					"content": []map[string]interface{}{
						{"type": "text", "text": args["text"]},
						{"type": "text", "text": "done"},
					},
				})
			case "read_file":
				reply(f.ID, map[string]interface{}{"content": []map[string]interface{}{}})
			default:
				reply(f.ID, map[string]interface{}{
					"content": []map[string]interface{}{{"type": "text", "text": "no such tool"}},
					"isError": true,
				})
			}
		default:
			send(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      f.ID,
				"error":   map[string]interface{}{"code": -32601, "message": "unknown method " + f.Method},
			})
		}
	}
}

// syncBuffer collects log output written from reader goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
