package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/valet/internal/bus"
	"github.com/nextlevelbuilder/valet/internal/media"
	"github.com/nextlevelbuilder/valet/internal/providers"
	"github.com/nextlevelbuilder/valet/internal/session"
	"github.com/nextlevelbuilder/valet/internal/tools"
)

// turn drives the model/tool iteration loop for one attempt. Every message
// is persisted as soon as it exists so a crash mid-turn loses nothing.
func (o *Orchestrator) turn(ctx context.Context, sessionKey string, history []session.Message, system string) (*RunResult, int, error) {
	return o.turnBounded(ctx, sessionKey, history, system, o.cfg.Agent.MaxIterations)
}

// turnBounded is turn with an explicit iteration cap; the memory flush runs
// with a much smaller one.
func (o *Orchestrator) turnBounded(ctx context.Context, sessionKey string, history []session.Message, system string, maxIterations int) (*RunResult, int, error) {
	msgs := history
	var collectedImages []session.Block

	for iteration := 1; iteration <= maxIterations; iteration++ {
		resp, err := o.provider.Chat(ctx, providers.ChatRequest{
			System:      system,
			Messages:    msgs,
			Tools:       o.tools.Definitions(),
			Model:       o.cfg.Agent.Model,
			MaxTokens:   o.cfg.Agent.MaxTokens,
			Temperature: o.cfg.Provider.Temperature,
		})
		if err != nil {
			return nil, iteration, err
		}

		assistant := resp.Message
		assistant.StopReason = resp.StopReason
		if assistant.Timestamp == 0 {
			assistant.Timestamp = time.Now().UnixMilli()
		}
		if err := o.sessions.Append(sessionKey, assistant); err != nil {
			slog.Warn("persist assistant turn", "session", sessionKey, "error", err)
		}
		msgs = append(msgs, assistant)

		if resp.StopReason == "error" {
			detail := assistant.ErrorMessage
			if detail == "" {
				detail = "model returned an error stop reason"
			}
			return nil, iteration, errors.New(detail)
		}

		toolUses := toolUseBlocks(assistant)
		if len(toolUses) == 0 {
			text := assistant.Text()
			images := append(collectedImages, assistant.Images()...)
			if text == "" {
				text = "(no text response)"
			}
			return &RunResult{Text: text, Images: images}, iteration, nil
		}

		toolCtx := tools.WithSessionKey(ctx, sessionKey)
		resultBlocks := make([]session.Block, 0, len(toolUses))
		for _, tu := range toolUses {
			res := o.tools.Execute(toolCtx, tu.Name, tu.Input)
			block := tools.ToolResultBlock(tu.ID, res)
			resultBlocks = append(resultBlocks, block)
			for _, nested := range block.Content {
				if nested.Type == session.BlockImage {
					collectedImages = append(collectedImages, nested)
				}
			}
		}

		toolMsg := session.Message{
			Role:      session.RoleTool,
			Content:   resultBlocks,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := o.sessions.Append(sessionKey, toolMsg); err != nil {
			slog.Warn("persist tool results", "session", sessionKey, "error", err)
		}
		msgs = append(msgs, toolMsg)
	}

	return &RunResult{
		Text:   "I hit the tool iteration limit before finishing. Ask me to continue if you want me to keep going.",
		Images: collectedImages,
	}, maxIterations, nil
}

func toolUseBlocks(m session.Message) []session.Block {
	var uses []session.Block
	for _, b := range m.Content {
		if b.Type == session.BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// normalizeInbound runs every attached image through the media pipeline
// before it is persisted. Images that cannot be decoded become a text note
// rather than poisoning the transcript.
func normalizeInbound(msg session.Message) session.Message {
	out := make([]session.Block, 0, len(msg.Content))
	for _, b := range msg.Content {
		if b.Type != session.BlockImage {
			out = append(out, b)
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(b.Data)
		if err != nil {
			out = append(out, session.TextBlock("[image attachment dropped: invalid encoding]"))
			continue
		}
		norm, err := media.Normalize(raw, b.MimeType)
		if err != nil {
			out = append(out, session.TextBlock(fmt.Sprintf("[image attachment dropped: %v]", err)))
			continue
		}
		if norm.Note != "" {
			out = append(out, session.TextBlock("["+norm.Note+"]"))
		}
		out = append(out, session.ImageBlock(base64.StdEncoding.EncodeToString(norm.Data), norm.MimeType))
	}
	msg.Content = out
	return msg
}

func inboundImageBlocks(images []bus.ImageAttachment) []session.Block {
	var blocks []session.Block
	for _, img := range images {
		blocks = append(blocks, session.ImageBlock(base64.StdEncoding.EncodeToString(img.Data), img.MimeType))
	}
	return blocks
}

func subagentSuffix() string {
	return "You are running as a background subagent. Work the task to completion " +
		"and reply with a concise result summary. Do not ask the user questions; " +
		"make reasonable assumptions and note them."
}
