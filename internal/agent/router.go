package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/valet/internal/bus"
	"github.com/nextlevelbuilder/valet/internal/session"
)

// Router consumes inbound channel messages, runs them through the
// orchestrator (or the command handler), and publishes replies.
type Router struct {
	orch *Orchestrator
	bus  *bus.MessageBus
}

func NewRouter(orch *Orchestrator, msgBus *bus.MessageBus) *Router {
	return &Router{orch: orch, bus: msgBus}
}

// Run consumes the inbound queue until ctx is cancelled. Each message is
// handled on its own goroutine; the orchestrator serializes per session.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-r.bus.Inbound():
			if !ok {
				return
			}
			go r.handle(ctx, msg)
		}
	}
}

func (r *Router) handle(ctx context.Context, in bus.InboundMessage) {
	if reply, handled := r.command(in); handled {
		r.reply(ctx, in, reply)
		return
	}

	result, err := r.orch.HandleMessage(ctx, in)
	if err != nil {
		slog.Error("message run failed", "channel", in.Channel, "chat", in.ChatID, "error", err)
		r.reply(ctx, in, "Something went wrong handling that message: "+err.Error())
		return
	}
	r.reply(ctx, in, result.Text)
}

func (r *Router) reply(ctx context.Context, in bus.InboundMessage, text string) {
	text = strings.TrimSpace(text)
	if text == "" || text == "NO_REPLY" {
		return
	}
	if err := r.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: in.Channel,
		ChatID:  in.ChatID,
		Content: text,
	}); err != nil {
		slog.Warn("publish reply", "channel", in.Channel, "chat", in.ChatID, "error", err)
	}
}

// command handles slash commands without a model round-trip. Returns the
// reply text and whether the message was a command.
func (r *Router) command(in bus.InboundMessage) (string, bool) {
	content := strings.TrimSpace(in.Content)
	if !strings.HasPrefix(content, "/") {
		return "", false
	}
	scope := "direct"
	if in.IsGroup {
		scope = "group"
	}
	sessionKey := session.BuildKey(in.Channel, scope, in.ChatID)

	switch strings.Fields(content)[0] {
	case "/stop":
		if r.orch.Stop(sessionKey) {
			return "stopping the current run", true
		}
		return "nothing is running", true
	case "/reset":
		if err := r.orch.sessions.Reset(sessionKey); err != nil {
			return "reset failed: " + err.Error(), true
		}
		return "session history cleared", true
	case "/status":
		keys, _ := r.orch.sessions.List()
		running := "idle"
		if r.orch.ActiveRun(sessionKey) {
			running = "run in flight"
		}
		return fmt.Sprintf("model: %s\nsessions: %d\nthis session: %s\nuptime: %s",
			r.orch.cfg.Agent.Model, len(keys), running, r.orch.Uptime().Round(time.Second)), true
	case "/help":
		return "/stop — cancel the current run\n/reset — clear this session's history\n/status — gateway status\n/help — this text", true
	default:
		return "unknown command; try /help", true
	}
}
