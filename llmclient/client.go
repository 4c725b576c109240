package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sensor-agent/config"
	apperrors "sensor-agent/errors"
	"sensor-agent/web/types"

	"go.uber.org/zap"
)

type streamChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	Index int `json:"index"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
}

type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []types.AgentMessage `json:"messages"`
	Stream      bool                 `json:"stream"`
	Temperature *float64             `json:"temperature,omitempty"` // Per-request temperature override
}

type chatResponse struct {
	Choices []struct {
		Message types.AgentMessage `json:"message"`
	} `json:"choices"`
}

// Client talks to an OpenAI-compatible chat completions endpoint (the Gemini
// OpenAI-compat surface by default).
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) *Client {
	// Use a client with the configured timeout; streaming requests rely on
	// context cancellation or the server closing the stream.
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.LLMRequestTimeout},
		logger:     logger,
	}
}

// Chat performs a non-streaming chat completion call.
// temperature is optional; pass nil to use server default.
func (c *Client) Chat(ctx context.Context, messages []types.AgentMessage, temperature *float64) (string, error) {
	reqBody := chatRequest{
		Model:       c.cfg.LLMModel,
		Messages:    messages,
		Stream:      false,
		Temperature: temperature,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.cfg.LLMHost, "/"))

	var resp *http.Response
	var lastErr error
	lastStatus := 0
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
		if err != nil {
			return "", fmt.Errorf("create chat request: %w", err)
		}
		c.setHeaders(req)

		r, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			// Do not retry on context cancellation/deadline
			if ctx.Err() != nil {
				break
			}
			c.backoffSleep(attempt)
			continue
		}
		if retryableStatus(r.StatusCode) {
			lastStatus = r.StatusCode
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			c.backoffSleep(attempt)
			continue
		}
		resp = r
		break
	}
	if resp == nil {
		if lastStatus != 0 {
			return "", apperrors.WrapErrorf(apperrors.ErrLLMCommunication,
				"llm server unavailable after %d retries, last status %d", c.cfg.MaxRetries, lastStatus)
		}
		return "", apperrors.WrapErrorf(apperrors.ErrLLMCommunication, "no response from llm server: %v", lastErr)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm server status %s: %s", resp.Status, string(bodyBytes))
	}

	var cr chatResponse
	if err := json.Unmarshal(bodyBytes, &cr); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("no response choices from llm server")
	}
	return cr.Choices[0].Message.Content, nil
}

// ChatStream performs a streaming chat completion call and returns a channel
// of chunks. temperature is optional; pass nil to use server default.
func (c *Client) ChatStream(ctx context.Context, messages []types.AgentMessage, temperature *float64) (<-chan string, error) {
	reqBody := chatRequest{
		Model:       c.cfg.LLMModel,
		Messages:    messages,
		Stream:      true,
		Temperature: temperature,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.cfg.LLMHost, "/"))
	out := make(chan string)

	go func() {
		defer close(out)

		var resp *http.Response
		for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
			if reqErr != nil {
				c.logger.Error("create chat stream request", zap.Error(reqErr))
				return
			}
			c.setHeaders(req)
			req.Header.Set("Accept", "text/event-stream")

			r, err := c.httpClient.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("send chat stream request", zap.Error(err))
				return
			}

			if retryableStatus(r.StatusCode) {
				io.Copy(io.Discard, r.Body)
				r.Body.Close()
				c.logger.Warn("LLM service unavailable, retrying", zap.Int("attempt", attempt+1))
				c.backoffSleep(attempt)
				continue
			}

			resp = r
			break
		}

		if resp == nil {
			c.logger.Error("no response received after retries for stream")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			c.logger.Error("LLM server non-200 for stream",
				zap.String("status", resp.Status),
				zap.String("response", string(bodyBytes)))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}
			var sr streamResponse
			if err := json.Unmarshal([]byte(data), &sr); err != nil {
				continue
			}
			if len(sr.Choices) > 0 && sr.Choices[0].Delta.Content != "" {
				out <- sr.Choices[0].Delta.Content
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Error("read chat stream", zap.Error(err))
		}
	}()

	return out, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.GeminiAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.GeminiAPIKey)
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusServiceUnavailable || code == http.StatusTooManyRequests
}

func (c *Client) backoffSleep(attempt int) {
	// Exponential backoff with a small deterministic jitter
	base := c.cfg.RetryDelaySeconds
	if base <= 0 {
		base = time.Second
	}
	d := base * time.Duration(1<<attempt)
	if max := 30 * time.Second; d > max {
		d = max
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(d/10+1))
	time.Sleep(d + jitter)
}
