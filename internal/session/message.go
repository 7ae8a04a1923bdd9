package session

import (
	"encoding/json"
	"strings"
	"time"
)

// Message roles. Assistant messages own tool_use blocks; the immediately
// following tool message carries the matching tool_result blocks.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Block types.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Block is one content element of a message.
type Block struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Data     string `json:"data,omitempty"` // base64
	MimeType string `json:"mime_type,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string  `json:"tool_use_id,omitempty"`
	IsError   bool    `json:"is_error,omitempty"`
	Content   []Block `json:"content,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ImageBlock builds an image block from base64 data.
func ImageBlock(data, mimeType string) Block {
	return Block{Type: BlockImage, Data: data, MimeType: mimeType}
}

// Message is one persisted turn record.
type Message struct {
	Role         string  `json:"role"`
	Content      []Block `json:"content"`
	StopReason   string  `json:"stop_reason,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	Timestamp    int64   `json:"ts,omitempty"` // unix ms
}

// NewUserMessage builds a user message with text and optional images.
func NewUserMessage(text string, images []Block) Message {
	var content []Block
	if text != "" {
		content = append(content, TextBlock(text))
	}
	content = append(content, images...)
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now().UnixMilli()}
}

// Text concatenates all text blocks of the message.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.Content {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Images returns all image blocks, including those nested in tool results.
func (m Message) Images() []Block {
	var images []Block
	for _, b := range m.Content {
		switch b.Type {
		case BlockImage:
			images = append(images, b)
		case BlockToolResult:
			for _, nested := range b.Content {
				if nested.Type == BlockImage {
					images = append(images, nested)
				}
			}
		}
	}
	return images
}

// ToolUseIDs returns the call ids of every tool_use block.
func (m Message) ToolUseIDs() []string {
	var ids []string
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// ToolResultIDs returns the tool_use_id of every tool_result block.
func (m Message) ToolResultIDs() []string {
	var ids []string
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

// EstimateTokens approximates prompt usage as total text chars / 4.
// Tool results and nested blocks count; image payloads count a flat overhead.
func EstimateTokens(msgs []Message) int {
	chars := 0
	for _, m := range msgs {
		chars += blocksChars(m.Content)
	}
	return chars / 4
}

const imageTokenOverheadChars = 6000 // ~1500 tokens per attached image

func blocksChars(blocks []Block) int {
	chars := 0
	for _, b := range blocks {
		chars += len(b.Text)
		chars += len(b.Input)
		if b.Type == BlockImage {
			chars += imageTokenOverheadChars
		}
		chars += blocksChars(b.Content)
	}
	return chars
}
