package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/inferflow/inferflow/internal/jsoncodec"
	"github.com/inferflow/inferflow/internal/wire"
)

// ollamaMessage is the flattened prompt shape Ollama's native chat API
// accepts. Multimodal parts are flattened to their text.
type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// ollamaChunk is one newline-delimited JSON object from /api/chat.
type ollamaChunk struct {
	Model   string `json:"model"`
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	TotalDuration   int64 `json:"total_duration"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
}

// OllamaAdapter streams from Ollama's native chat API, which uses
// newline-delimited JSON with a done flag instead of SSE.
type OllamaAdapter struct {
	baseURL string
	client  *http.Client
}

func NewOllamaAdapter(baseURL string) *OllamaAdapter {
	return &OllamaAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 0},
	}
}

func (a *OllamaAdapter) Stream(ctx context.Context, model string, prompts []wire.PromptMessage, emit EmitFunc) error {
	messages := make([]ollamaMessage, 0, len(prompts))
	for _, p := range prompts {
		messages = append(messages, ollamaMessage{Role: p.Role, Content: flattenContent(p.Content)})
	}

	body, err := jsoncodec.Marshal(ollamaChatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return fmt.Errorf("provider: encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider: chat request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return a.consumeNDJSON(resp.Body, model, emit)
}

func (a *OllamaAdapter) consumeNDJSON(r io.Reader, model string, emit EmitFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	terminalSent := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChunk
		if err := jsoncodec.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("provider: undecodable stream chunk: %w", err)
		}

		result := wire.ChunkResult{
			Model:         chunk.Model,
			Message:       chunk.Message,
			Done:          chunk.Done,
			TotalDuration: chunk.TotalDuration,
		}
		if chunk.Done {
			result.Usage = &wire.Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			}
			terminalSent = true
			if err := emit(Event{Terminal: true, Result: result}); err != nil {
				return err
			}
			continue
		}

		delta := ""
		if chunk.Message != nil {
			delta = chunk.Message.Content
		}
		if err := emit(Event{Delta: delta, Result: result}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("provider: reading stream: %w", err)
	}

	if !terminalSent {
		return emit(Event{Terminal: true, Result: wire.ChunkResult{Model: model, Done: true}})
	}
	return nil
}

func flattenContent(c wire.MessageContent) string {
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, part := range c.Parts {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
