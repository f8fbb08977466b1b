// Package tokenizer counts tokens for context-length accounting using the
// cl100k_base BPE encoding. When the encoding cannot be initialised, callers
// fall back to EstimateFallback, a rough characters-per-token heuristic.
package tokenizer

import (
	"encoding/json"
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// messageOverheadTokens is the per-message metadata cost added on top of
// the encoded text.
const messageOverheadTokens = 4

// fallbackCharsPerToken is the rough characters-per-token ratio used when
// the BPE encoding is unavailable.
const fallbackCharsPerToken = 2.5

// Tokenizer counts tokens with the cl100k_base encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New initialises the cl100k_base encoding.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("tokenizer: init cl100k_base: %w", err)
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens returns the token count of a text string.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessages returns the token count of a message history: the text
// parts of each content item, tool calls and tool results serialised to
// JSON, plus a small per-message overhead.
func (t *Tokenizer) CountMessages(messages []*types.Message) int {
	total := 0
	for _, msg := range messages {
		total += t.CountTokens(messageText(msg))
		total += messageOverheadTokens
	}
	return total
}

// EstimateFallback estimates the token count of a history without a BPE
// encoding, at roughly 2.5 characters per token.
func EstimateFallback(messages []*types.Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(messageText(msg))
	}
	return int(float64(chars) / fallbackCharsPerToken)
}

// messageText flattens one message into the text that gets counted.
func messageText(msg *types.Message) string {
	text := msg.Text()
	if len(msg.ToolCalls) > 0 {
		if b, err := json.Marshal(msg.ToolCalls); err == nil {
			text += string(b)
		}
	}
	if msg.Result != nil {
		text += msg.Result.MarshalText()
	}
	return text
}
