package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inferflow/inferflow/internal/jsoncodec"
	"github.com/inferflow/inferflow/internal/wire"
)

const sseDataPrefix = "data: "

// chatCompletionRequest is the body sent to /v1/chat/completions.
type chatCompletionRequest struct {
	Model         string               `json:"model"`
	Messages      []wire.PromptMessage `json:"messages"`
	Stream        bool                 `json:"stream"`
	StreamOptions *streamOptions       `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// OpenAIAdapter streams chat completions from any OpenAI-compatible server
// (vLLM, llama.cpp, OpenAI itself). The server is asked to append a usage
// chunk so the terminal event carries real token counters.
type OpenAIAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAIAdapter builds an adapter against baseURL, e.g.
// "http://vllm:8000". apiKey may be empty for servers without auth.
func NewOpenAIAdapter(baseURL, apiKey string) *OpenAIAdapter {
	return &OpenAIAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// No overall timeout: generations legitimately run for minutes.
		// Cancellation comes from the context.
		client: &http.Client{Timeout: 0},
	}
}

func (a *OpenAIAdapter) Stream(ctx context.Context, model string, prompts []wire.PromptMessage, emit EmitFunc) error {
	body, err := jsoncodec.Marshal(chatCompletionRequest{
		Model:         model,
		Messages:      prompts,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return fmt.Errorf("provider: encoding completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider: completion request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return a.consumeSSE(resp.Body, model, emit)
}

// consumeSSE reads the event stream line by line. A present-but-empty
// choices array is the terminal chunk; servers that just close the stream
// after "[DONE]" get a synthetic terminal instead.
func (a *OpenAIAdapter) consumeSSE(r io.Reader, model string, emit EmitFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	terminalSent := false
	var lastUsage *wire.Usage

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		data := strings.TrimPrefix(line, sseDataPrefix)
		if data == "[DONE]" {
			break
		}

		var result wire.ChunkResult
		if err := jsoncodec.Unmarshal([]byte(data), &result); err != nil {
			return fmt.Errorf("provider: undecodable stream chunk: %w", err)
		}
		if result.Usage != nil {
			lastUsage = result.Usage
		}

		if result.Choices != nil && len(*result.Choices) == 0 {
			terminalSent = true
			if err := emit(Event{Terminal: true, Result: result}); err != nil {
				return err
			}
			continue
		}

		delta := ""
		if result.Choices != nil && len(*result.Choices) > 0 {
			delta = (*result.Choices)[0].Delta.Content
		}
		if err := emit(Event{Delta: delta, Result: result}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("provider: reading stream: %w", err)
	}

	if !terminalSent {
		empty := []wire.Choice{}
		return emit(Event{Terminal: true, Result: wire.ChunkResult{
			Model:   model,
			Created: time.Now().Unix(),
			Choices: &empty,
			Usage:   lastUsage,
		}})
	}
	return nil
}
