package assistant_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tenderwatch/internal/assistant"

	"github.com/stretchr/testify/require"
)

type fakeCredentials struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCredentials) EnsureValid(context.Context) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	return "fresh-token", time.Now().Add(time.Hour), nil
}

type chatServer struct {
	mu       sync.Mutex
	messages []int
	auth     []string
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string            `json:"model"`
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, len(req.Messages))
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	n := len(s.messages)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": %q,
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "answer %d"}}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
	}`, req.Model, n)
}

func newAssistant(t *testing.T, srv *httptest.Server, creds assistant.CredentialSource) *assistant.Assistant {
	t.Helper()

	return assistant.New(assistant.Config{BaseURL: srv.URL + "/api/v1/"}, creds,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAskSendsTokenAndKeepsConversation(t *testing.T) {
	cs := &chatServer{}
	srv := httptest.NewServer(cs)
	defer srv.Close()

	creds := &fakeCredentials{}
	a := newAssistant(t, srv, creds)

	answer, err := a.Ask(context.Background(), 7, "Что такое Huawei OceanStor?")
	require.NoError(t, err)
	require.Equal(t, "answer 1", answer)

	answer, err = a.Ask(context.Background(), 7, "А аналоги?")
	require.NoError(t, err)
	require.Equal(t, "answer 2", answer)

	_, err = a.Ask(context.Background(), 8, "Привет")
	require.NoError(t, err)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	// system + question, then system + previous turn + question, then a new chat.
	require.Equal(t, []int{2, 4, 2}, cs.messages)
	for _, auth := range cs.auth {
		require.Equal(t, "Bearer fresh-token", auth)
	}
	require.Equal(t, 3, creds.calls)
}

func TestAskReset(t *testing.T) {
	cs := &chatServer{}
	srv := httptest.NewServer(cs)
	defer srv.Close()

	a := newAssistant(t, srv, &fakeCredentials{})

	_, err := a.Ask(context.Background(), 7, "first")
	require.NoError(t, err)

	a.Reset(7)

	_, err = a.Ask(context.Background(), 7, "second")
	require.NoError(t, err)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	require.Equal(t, []int{2, 2}, cs.messages)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	srv := httptest.NewServer(&chatServer{})
	defer srv.Close()

	_, err := newAssistant(t, srv, &fakeCredentials{}).Ask(context.Background(), 1, "   ")
	require.ErrorIs(t, err, assistant.ErrEmptyQuestion)
}
