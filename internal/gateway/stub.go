package gateway

import (
	"context"
	"time"
)

// StaticCompleter returns a fixed reply. It is used by tests and by
// offline processing runs where no provider is configured.
type StaticCompleter struct {
	Reply string
	Err   error

	// Prompts records every prompt received, in order.
	Prompts []string
	// Refs records the reference date passed with each prompt.
	Refs []time.Time
}

func (s *StaticCompleter) Complete(_ context.Context, prompt string, ref time.Time) (string, error) {
	s.Prompts = append(s.Prompts, prompt)
	s.Refs = append(s.Refs, ref)
	if s.Err != nil {
		return "", s.Err
	}
	return s.Reply, nil
}

func (s *StaticCompleter) Available() bool { return s.Err == nil }

var _ Completer = (*StaticCompleter)(nil)
