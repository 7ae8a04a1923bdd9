package tools

import (
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/valet/internal/media"
	"github.com/nextlevelbuilder/valet/internal/session"
)

// MaxResultChars caps the text a single tool result may contribute to the
// transcript.
const MaxResultChars = 50_000

// Truncate caps s at max characters, appending a marker that accounts for
// its own length so the output never exceeds max. Applying Truncate to its
// own output is a no-op.
func Truncate(s string, max int) string {
	if max <= 0 {
		max = MaxResultChars
	}
	if len(s) <= max {
		return s
	}
	marker := fmt.Sprintf("\n[truncated: %d chars total]", len(s))
	cut := max - len(marker)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + marker
}

// ResultBlocks converts a tool result into transcript blocks: text is
// truncated, images are normalized to the endpoint's limits and base64
// encoded. Images that cannot be normalized are dropped with a note so the
// model learns the attachment failed rather than the whole call.
func ResultBlocks(res *Result) []session.Block {
	var blocks []session.Block

	text := Truncate(res.ForLLM, MaxResultChars)
	if text != "" {
		blocks = append(blocks, session.TextBlock(text))
	}

	for _, img := range res.Images {
		norm, err := media.Normalize(img.Data, img.MimeType)
		if err != nil {
			slog.Warn("dropping tool image", "error", err)
			blocks = append(blocks, session.TextBlock(fmt.Sprintf("[image attachment dropped: %v]", err)))
			continue
		}
		if norm.Note != "" {
			blocks = append(blocks, session.TextBlock("["+norm.Note+"]"))
		}
		encoded := base64.StdEncoding.EncodeToString(norm.Data)
		blocks = append(blocks, session.ImageBlock(encoded, norm.MimeType))
	}

	if len(blocks) == 0 {
		blocks = append(blocks, session.TextBlock("(no output)"))
	}
	return blocks
}

// ToolResultBlock wraps one executed call as a tool_result block. All blocks
// for a round are carried by a single tool message following the assistant
// turn that issued the calls.
func ToolResultBlock(toolUseID string, res *Result) session.Block {
	return session.Block{
		Type:      session.BlockToolResult,
		ToolUseID: toolUseID,
		IsError:   res.IsError,
		Content:   ResultBlocks(res),
	}
}
