package service

import (
	"fmt"
	"strings"

	"github.com/curatorhq/curator/internal/domain"
)

// DefaultMaxChunkSize is the character budget for one document chunk.
const DefaultMaxChunkSize = 500

// Chunker splits inbound content into indexable units.
type Chunker struct {
	maxChunkSize int
}

func NewChunker(maxChunkSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Chunker{maxChunkSize: maxChunkSize}
}

// ChunkDocument splits text on paragraph boundaries and greedily packs
// paragraphs into chunks under the size budget. Paragraphs are never split
// mid-way: one paragraph larger than the budget becomes its own oversized
// chunk.
func (c *Chunker) ChunkDocument(text string) []string {
	paragraphs := strings.Split(text, "\n\n")

	chunks := make([]string, 0, 4)
	var current strings.Builder
	for _, para := range paragraphs {
		if current.Len()+len(para) < c.maxChunkSize {
			current.WriteString(para)
			current.WriteString("\n\n")
			continue
		}
		if flushed := strings.TrimSpace(current.String()); flushed != "" {
			chunks = append(chunks, flushed)
		}
		current.Reset()
		current.WriteString(para)
		current.WriteString("\n\n")
	}
	if flushed := strings.TrimSpace(current.String()); flushed != "" {
		chunks = append(chunks, flushed)
	}
	return chunks
}

// ChunkThread flattens an ordered thread into exactly one "speaker: text"
// story chunk. Threads are deliberately size-unbounded: the conversation is
// one replaceable unit.
func (c *Chunker) ChunkThread(messages []domain.ThreadMessage) []string {
	if len(messages) == 0 {
		return nil
	}
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		author := msg.Author
		if author == "" {
			author = "Unknown"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", author, msg.Text))
	}
	return []string{strings.Join(lines, "\n")}
}
