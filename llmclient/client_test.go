package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sensor-agent/config"
	apperrors "sensor-agent/errors"
	"sensor-agent/web/types"

	"go.uber.org/zap"
)

func testConfig(host string) *config.Config {
	return &config.Config{
		LLMHost:           host,
		LLMModel:          "test-model",
		MaxRetries:        2,
		RetryDelaySeconds: time.Millisecond,
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("request path = %q, want /chat/completions", r.URL.Path)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"the mean is 4.2"}}]}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	got, err := c.Chat(context.Background(), []types.AgentMessage{{Role: "user", Content: "mean?"}}, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got != "the mean is 4.2" {
		t.Errorf("Chat() = %q, want %q", got, "the mean is 4.2")
	}
}

func TestChatExhaustedRetriesSurfacesStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	_, err := c.Chat(context.Background(), []types.AgentMessage{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("Chat() should fail when every attempt returns 503")
	}
	if !errors.Is(err, apperrors.ErrLLMCommunication) {
		t.Errorf("error = %v, want ErrLLMCommunication", err)
	}
	if !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("error = %q, want an unavailable-after-retries message", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d attempts, want 2", got)
	}
}

func TestChatStreamAssemblesChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Plan: \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"count the rows.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	chunks, err := c.ChatStream(context.Background(), []types.AgentMessage{{Role: "user", Content: "plan?"}}, nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk)
	}
	if got := b.String(); got != "Plan: count the rows." {
		t.Errorf("assembled stream = %q, want %q", got, "Plan: count the rows.")
	}
}

func TestChatStreamClosesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	chunks, err := c.ChatStream(context.Background(), []types.AgentMessage{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	for range chunks {
		t.Error("no chunks expected from a failed stream")
	}
}
