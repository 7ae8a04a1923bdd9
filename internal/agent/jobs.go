package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/valet/internal/bus"
	"github.com/nextlevelbuilder/valet/internal/scheduler"
	"github.com/nextlevelbuilder/valet/internal/session"
)

// RunJob executes one scheduled firing as an agent turn; implements the
// scheduler's Runner. Each job gets its own isolated session.
func (o *Orchestrator) RunJob(ctx context.Context, job *scheduler.Job) error {
	sessionKey := session.BuildCronKey(job.ID)

	prompt := job.Payload.Message
	if prompt == "" {
		prompt = fmt.Sprintf("Scheduled job %q fired. Carry out its task.", job.Name)
	}
	msg := session.NewUserMessage("[scheduled] "+prompt, nil)

	result, err := o.Run(ctx, sessionKey, msg, RunOptions{
		ExtraSystem: "This run was triggered by a scheduled job, not a user message. " +
			"Complete the task; your reply is delivered only if the job is configured for delivery.",
	})
	if err != nil {
		return err
	}

	if !job.Payload.Deliver || o.bus == nil {
		return nil
	}
	reply := strings.TrimSpace(result.Text)
	if reply == "" || reply == "NO_REPLY" {
		return nil
	}
	channel := job.Payload.Channel
	chatID := job.Payload.To
	if channel == "" {
		if len(o.cfg.Channels.Enabled) == 0 {
			return nil
		}
		channel = o.cfg.Channels.Enabled[0]
	}
	if chatID == "" {
		chatID = "local"
	}
	return o.bus.PublishOutbound(ctx, bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: reply})
}
