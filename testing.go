package contracts

import (
	"context"
	"errors"
	"sync"
)

// FakeChatClient is a scripted ChatClient for tests and offline runs. Each
// Chat call consumes the next scripted reply; when the script is exhausted the
// Fallback reply is returned. Calls are recorded.
type FakeChatClient struct {
	mu       sync.Mutex
	replies  []fakeReply
	Fallback string
	Models   []ModelInfo
	requests []ChatRequest
}

type fakeReply struct {
	text string
	err  error
}

// NewFakeChatClient returns a client answering with replies in order.
func NewFakeChatClient(replies ...string) *FakeChatClient {
	f := &FakeChatClient{Fallback: "{}"}
	for _, r := range replies {
		f.replies = append(f.replies, fakeReply{text: r})
	}
	return f
}

// Reply appends a successful reply to the script.
func (f *FakeChatClient) Reply(text string) *FakeChatClient {
	f.mu.Lock()
	f.replies = append(f.replies, fakeReply{text: text})
	f.mu.Unlock()
	return f
}

// Fail appends a failure to the script. Errors that do not already unwrap to
// ErrInferenceUnavailable are wrapped in an *InferenceError.
func (f *FakeChatClient) Fail(err error) *FakeChatClient {
	if !errors.Is(err, ErrInferenceUnavailable) {
		err = &InferenceError{Backend: "fake", Op: "chat", Err: err}
	}
	f.mu.Lock()
	f.replies = append(f.replies, fakeReply{err: err})
	f.mu.Unlock()
	return f
}

func (f *FakeChatClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &InferenceError{Backend: "fake", Op: "chat", Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.replies) == 0 {
		return f.Fallback, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.text, r.err
}

func (f *FakeChatClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return f.Models, nil
}

// Requests returns the chat requests received so far.
func (f *FakeChatClient) Requests() []ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChatRequest(nil), f.requests...)
}
