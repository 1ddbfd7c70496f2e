// Package wire defines the JSON envelopes exchanged over the request and
// response queues, and the normalization rules that make the different
// provider chunk shapes uniform before the aggregator sees them.
package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/inferflow/inferflow/internal/jsoncodec"
)

// Prompt message roles accepted on the request queue.
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Chunk statuses carried on the response queue. An empty status on a
// terminal chunk means the generation completed normally.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrEmptyCorrelationID = errors.New("wire: correlation id is required")

// UnprocessableMessageError marks a payload that can never decode, no matter
// how often the broker redelivers it. Consumers ack and drop these instead
// of retrying.
type UnprocessableMessageError struct {
	Reason string
	Err    error
}

func (e *UnprocessableMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: %s: %v", e.Reason, e.Err)
	}
	return "wire: " + e.Reason
}

func (e *UnprocessableMessageError) Unwrap() error { return e.Err }

// ContentPart is one typed element of a multimodal prompt message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

// ImageRef references an image by URL or data URI.
type ImageRef struct {
	URL string `json:"url"`
}

// MessageContent is either a plain string or a sequence of typed parts,
// matching the OpenAI chat message content shape.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return jsoncodec.Marshal(c.Parts)
	}
	return jsoncodec.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := jsoncodec.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.Parts = nil
		return nil
	}
	var parts []ContentPart
	if err := jsoncodec.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("wire: content is neither string nor parts: %w", err)
	}
	c.Parts = parts
	c.Text = ""
	return nil
}

// PromptMessage is one entry of the ordered prompt sequence.
type PromptMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// Request is the envelope published onto the request queue. Immutable once
// published; the correlation id is generated by the caller before dispatch
// and carried unchanged through every message.
type Request struct {
	CorrelationID  string          `json:"correlationId"`
	ModelName      string          `json:"modelName"`
	PromptMessages []PromptMessage `json:"promptMessages"`
}

// Validate rejects requests that cannot be dispatched at all. An empty
// prompt list is deliberately not an error here: the relay acknowledges and
// drops such requests instead of retrying them.
func (r *Request) Validate() error {
	if r.CorrelationID == "" {
		return ErrEmptyCorrelationID
	}
	return nil
}

// Usage carries the provider-reported token counters. Missing counters are
// tolerated as zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Delta is the incremental message fragment inside an OpenAI-style choice.
type Delta struct {
	Content string `json:"content"`
}

// Choice mirrors the OpenAI streaming choice object.
type Choice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ChunkResult is the provider-specific payload of a response chunk. The
// shape varies by provider: OpenAI-compatible servers use choices[], Ollama's
// native API uses message/response plus a done flag. Fields not understood
// here pass through untouched in the raw payload.
type ChunkResult struct {
	ID      string    `json:"id,omitempty"`
	Model   string    `json:"model,omitempty"`
	Created int64     `json:"created,omitempty"`
	Choices *[]Choice `json:"choices,omitempty"`
	Message *struct {
		Content string `json:"content"`
	} `json:"message,omitempty"`
	Response string `json:"response,omitempty"`
	Done     bool   `json:"done,omitempty"`
	Usage    *Usage `json:"usage,omitempty"`
	// TotalDuration is Ollama's wall time for the whole generation, in
	// nanoseconds. Preferred over our own clock when present.
	TotalDuration int64 `json:"total_duration,omitempty"`
}

// Chunk is the envelope published onto the response queue for every partial
// or final piece of streamed output.
type Chunk struct {
	CorrelationID string      `json:"correlationId"`
	Timestamp     time.Time   `json:"timestamp"`
	Status        string      `json:"status,omitempty"`
	Error         string      `json:"error,omitempty"`
	Result        ChunkResult `json:"result"`
}

// IsTerminal reports whether this chunk ends the stream. Providers signal
// completion either with an explicit done flag or with a present-but-empty
// choices array carrying the final usage counters. Failure chunks published
// by the relay are always terminal.
func (c *Chunk) IsTerminal() bool {
	if c.Status == StatusFailed {
		return true
	}
	if c.Result.Done {
		return true
	}
	return c.Result.Choices != nil && len(*c.Result.Choices) == 0
}

// DeltaText extracts the incremental text from whichever field the provider
// used. Empty on terminal chunks and on shapes with no content.
func (c *Chunk) DeltaText() string {
	if c.Result.Choices != nil && len(*c.Result.Choices) > 0 {
		return (*c.Result.Choices)[0].Delta.Content
	}
	if c.Result.Message != nil {
		return c.Result.Message.Content
	}
	return c.Result.Response
}

// UsageOrZero returns the provider usage counters, tolerating their absence.
func (c *Chunk) UsageOrZero() Usage {
	if c.Result.Usage == nil {
		return Usage{}
	}
	return *c.Result.Usage
}

func EncodeRequest(r *Request) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return jsoncodec.Marshal(r)
}

func DecodeRequest(data []byte) (*Request, error) {
	var r Request
	if err := jsoncodec.Unmarshal(data, &r); err != nil {
		return nil, &UnprocessableMessageError{Reason: "undecodable request", Err: err}
	}
	if err := r.Validate(); err != nil {
		return nil, &UnprocessableMessageError{Reason: "invalid request", Err: err}
	}
	return &r, nil
}

func EncodeChunk(c *Chunk) ([]byte, error) {
	if c.CorrelationID == "" {
		return nil, ErrEmptyCorrelationID
	}
	return jsoncodec.Marshal(c)
}

func DecodeChunk(data []byte) (*Chunk, error) {
	var c Chunk
	if err := jsoncodec.Unmarshal(data, &c); err != nil {
		return nil, &UnprocessableMessageError{Reason: "undecodable chunk", Err: err}
	}
	if c.CorrelationID == "" {
		return nil, &UnprocessableMessageError{Reason: "chunk without correlation id", Err: ErrEmptyCorrelationID}
	}
	return &c, nil
}
