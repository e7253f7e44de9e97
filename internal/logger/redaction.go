package logger

import (
	"io"
	"regexp"
)

const mask = "[REDACTED]"

// rule masks one kind of secret. The replacement may keep capture groups,
// such as the name in "api_key: value", so log lines stay readable.
type rule struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// Redactor masks secrets in log output: provider keys, bearer tokens,
// credentials passed to bridges through env, and key-like assignments in
// shell commands or tool arguments.
type Redactor struct {
	rules []rule
}

// NewRedactor creates a redactor with the default rules
func NewRedactor() *Redactor {
	return &Redactor{rules: defaultRules()}
}

func defaultRules() []rule {
	return []rule{
		{"private_key", regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), "[REDACTED PRIVATE KEY]"},
		// anthropic keys also match the openai shape, so they go first
		{"anthropic_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`), mask},
		{"openai_key", regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`), mask},
		{"github_token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`), mask},
		{"aws_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), mask},
		{"bearer", regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`), "${1}" + mask},
		{"assignment", regexp.MustCompile(`(?i)([A-Za-z0-9_-]*(?:api[_-]?key|token|secret|password|passwd|pwd)["']?\s*[:=]\s*["']?)[^\s"',]+`), "${1}" + mask},
	}
}

// AddPattern adds a custom rule; every match is masked in full
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{name: "custom", re: re, replacement: mask})
	return nil
}

// Redact applies every rule in order
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.re.ReplaceAllString(s, rl.replacement)
	}
	return s
}

// Wrap returns a writer that redacts everything written through it
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since the redacted length differs from the input.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.writer, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
