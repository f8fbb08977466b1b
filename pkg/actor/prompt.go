package actor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// memoryBufferPlaceholder is expanded with recent buffer records inside the
// configured system prompt.
const memoryBufferPlaceholder = "{MEMORY_BUFFER}"

// bufferInjectionLimit caps how many recent records the placeholder
// expansion carries.
const bufferInjectionLimit = 10

// renderSystemPrompt expands every {MEMORY_BUFFER} placeholder with up to
// the last 10 buffer records. Read errors degrade to an empty buffer.
func (w *Worker) renderSystemPrompt() string {
	prompt := w.cfg.SystemPrompt
	if !strings.Contains(prompt, memoryBufferPlaceholder) {
		return prompt
	}

	recent, err := w.buffer.Recent(context.Background(), w.cfg.ActorID, bufferInjectionLimit)
	if err != nil {
		w.log.Errorf("buffer read failed for actor %d: %v", w.cfg.ActorID, err)
		recent = nil
	}

	return strings.ReplaceAll(prompt, memoryBufferPlaceholder, FormatBuffer(recent))
}

// FormatBuffer renders buffer records one per line for prompt injection:
//
//	- [2006-01-02 15:04:05][role:user][id:3][name:alice] hello
//
// An empty buffer renders as "None.".
func FormatBuffer(messages []*types.BufferMessage) string {
	if len(messages) == 0 {
		return "None."
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		ts := time.Unix(msg.Time, 0).Format("2006-01-02 15:04:05")
		lines = append(lines, fmt.Sprintf("- [%s][role:%s][id:%d][name:%s] %s",
			ts, msg.Role, msg.ID, msg.Name, msg.Text))
	}
	return strings.Join(lines, "\n")
}
