package pipeline

import (
	"context"
	"sync"

	"github.com/tombee/cascade/pkg/llm"
)

// scriptedInvoker replays a fixed sequence of responses, one per call.
// When the script runs out it keeps returning the last entry. It
// records every call for assertions.
type scriptedInvoker struct {
	mu     sync.Mutex
	script []scriptedReply
	calls  []scriptedCall
}

type scriptedReply struct {
	text string
	err  error
}

type scriptedCall struct {
	model  string
	prompt string
}

func newScriptedInvoker(replies ...scriptedReply) *scriptedInvoker {
	return &scriptedInvoker{script: replies}
}

func reply(text string) scriptedReply {
	return scriptedReply{text: text}
}

func replyErr(err error) scriptedReply {
	return scriptedReply{err: err}
}

func (s *scriptedInvoker) Invoke(_ context.Context, model, prompt string) (*llm.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.calls)
	s.calls = append(s.calls, scriptedCall{model: model, prompt: prompt})
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	r := s.script[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Result{
		Text: r.text,
		Usage: llm.TokenUsage{
			PromptTokens:     100,
			CompletionTokens: 50,
			TotalTokens:      150,
		},
	}, nil
}

func (s *scriptedInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedInvoker) call(i int) scriptedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}
