package cli

import (
	"context"
	"errors"

	"github.com/harun/minicode/internal/tracing"
	"github.com/harun/minicode/pkg/agent"
)

// session keeps one conversation and one todo list across turns
type session struct {
	loop  *agent.Loop
	conv  *agent.Conversation
	runID string
}

func newSession(loop *agent.Loop) *session {
	return &session{
		loop:  loop,
		conv:  agent.NewConversation(""),
		runID: tracing.NewRunID(),
	}
}

// Send runs one user turn. A failed turn leaves the history as it was.
func (s *session) Send(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", errors.New("empty input")
	}
	ctx = tracing.WithRunID(ctx, s.runID)

	before := s.conv.Clone()
	s.conv.AppendUser(text)
	result, err := s.loop.Run(ctx, s.conv)
	if err != nil {
		s.conv = before
		return "", err
	}
	return result.Text, nil
}

// Len returns the number of messages kept
func (s *session) Len() int {
	return s.conv.Len()
}
