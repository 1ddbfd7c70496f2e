package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terminalChoices() *[]Choice {
	empty := []Choice{}
	return &empty
}

func contentChoices(text string) *[]Choice {
	choices := []Choice{{Delta: Delta{Content: text}}}
	return &choices
}

func TestChunkIsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		chunk    Chunk
		terminal bool
	}{
		{
			name:     "failed status",
			chunk:    Chunk{Status: StatusFailed, Error: "model unavailable"},
			terminal: true,
		},
		{
			name:     "done flag",
			chunk:    Chunk{Result: ChunkResult{Done: true}},
			terminal: true,
		},
		{
			name:     "present but empty choices",
			chunk:    Chunk{Result: ChunkResult{Choices: terminalChoices()}},
			terminal: true,
		},
		{
			name:     "absent choices",
			chunk:    Chunk{Result: ChunkResult{Response: "hi"}},
			terminal: false,
		},
		{
			name:     "content chunk",
			chunk:    Chunk{Result: ChunkResult{Choices: contentChoices("hi")}},
			terminal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.chunk.IsTerminal())
		})
	}
}

func TestChunkDeltaText(t *testing.T) {
	t.Run("openai choices shape", func(t *testing.T) {
		c := Chunk{Result: ChunkResult{Choices: contentChoices("Hel")}}
		assert.Equal(t, "Hel", c.DeltaText())
	})

	t.Run("ollama chat shape", func(t *testing.T) {
		c := Chunk{Result: ChunkResult{
			Message: &struct {
				Content string `json:"content"`
			}{Content: "lo"},
		}}
		assert.Equal(t, "lo", c.DeltaText())
	})

	t.Run("ollama generate shape", func(t *testing.T) {
		c := Chunk{Result: ChunkResult{Response: "world"}}
		assert.Equal(t, "world", c.DeltaText())
	})

	t.Run("choices take precedence over message", func(t *testing.T) {
		c := Chunk{Result: ChunkResult{
			Choices: contentChoices("a"),
			Message: &struct {
				Content string `json:"content"`
			}{Content: "b"},
		}}
		assert.Equal(t, "a", c.DeltaText())
	})

	t.Run("empty on terminal chunk", func(t *testing.T) {
		c := Chunk{Result: ChunkResult{Choices: terminalChoices()}}
		assert.Empty(t, c.DeltaText())
	})
}

func TestChunkUsageOrZero(t *testing.T) {
	c := Chunk{}
	assert.Equal(t, Usage{}, c.UsageOrZero())

	c.Result.Usage = &Usage{PromptTokens: 3, CompletionTokens: 7, TotalTokens: 10}
	assert.Equal(t, 10, c.UsageOrZero().TotalTokens)
}

func TestMessageContentJSON(t *testing.T) {
	t.Run("plain string", func(t *testing.T) {
		var m PromptMessage
		require.NoError(t, m.Content.UnmarshalJSON([]byte(`"hello"`)))
		assert.Equal(t, "hello", m.Content.Text)
		assert.Nil(t, m.Content.Parts)

		data, err := m.Content.MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `"hello"`, string(data))
	})

	t.Run("typed parts", func(t *testing.T) {
		raw := `[{"type":"text","text":"what is this?"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AA=="}}]`
		var c MessageContent
		require.NoError(t, c.UnmarshalJSON([]byte(raw)))
		require.Len(t, c.Parts, 2)
		assert.Equal(t, "what is this?", c.Parts[0].Text)
		assert.Equal(t, "data:image/png;base64,AA==", c.Parts[1].ImageURL.URL)
	})

	t.Run("rejects other shapes", func(t *testing.T) {
		var c MessageContent
		assert.Error(t, c.UnmarshalJSON([]byte(`{"nope":true}`)))
	})
}

func TestRequestRoundTrip(t *testing.T) {
	req := &Request{
		CorrelationID: "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		ModelName:     "llama3.2",
		PromptMessages: []PromptMessage{
			{Role: RoleUser, Content: MessageContent{Text: "hi"}},
		},
	}

	data, err := EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, req.ModelName, decoded.ModelName)
	require.Len(t, decoded.PromptMessages, 1)
	assert.Equal(t, "hi", decoded.PromptMessages[0].Content.Text)
}

func TestDecodeRequestErrors(t *testing.T) {
	_, err := DecodeRequest([]byte(`not json`))
	var unprocessable *UnprocessableMessageError
	require.ErrorAs(t, err, &unprocessable)
	assert.Equal(t, "undecodable request", unprocessable.Reason)

	_, err = DecodeRequest([]byte(`{"modelName":"m"}`))
	assert.ErrorIs(t, err, ErrEmptyCorrelationID)
	assert.ErrorAs(t, err, &unprocessable)
}

func TestDecodeChunkErrors(t *testing.T) {
	var unprocessable *UnprocessableMessageError
	_, err := DecodeChunk([]byte(`{{`))
	require.ErrorAs(t, err, &unprocessable)

	_, err = DecodeChunk([]byte(`{"result":{}}`))
	assert.ErrorIs(t, err, ErrEmptyCorrelationID)
}

func TestEncodeChunkRequiresCorrelationID(t *testing.T) {
	_, err := EncodeChunk(&Chunk{})
	assert.ErrorIs(t, err, ErrEmptyCorrelationID)
}

func TestEmptyPromptsAreValid(t *testing.T) {
	req := &Request{CorrelationID: "id-1"}
	assert.NoError(t, req.Validate())
}
