// Package pushtest provides a recording push.Sender for tests.
package pushtest

import (
	"context"
	"slices"
	"sync"

	"github.com/albapepper/huddle/internal/push"
)

// Call is one recorded SendMulticast invocation.
type Call struct {
	Tokens  []string
	Message push.Message
}

// Recorder records sends. Err, when set, is returned from every send;
// Unregistered is echoed back in the result.
type Recorder struct {
	mu           sync.Mutex
	calls        []Call
	Err          error
	Unregistered []string
}

func (r *Recorder) SendMulticast(_ context.Context, tokens []string, msg push.Message) (push.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Tokens: slices.Clone(tokens), Message: msg})
	if r.Err != nil {
		return push.Result{FailureCount: len(tokens)}, r.Err
	}
	return push.Result{SuccessCount: len(tokens), Unregistered: r.Unregistered}, nil
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// ByType returns recorded calls whose payload type matches.
func (r *Recorder) ByType(typ string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Message.Type() == typ {
			out = append(out, c)
		}
	}
	return out
}
