package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nextlevelbuilder/valet/internal/bus"
)

// Loopback is the terminal adapter: stdin lines in, stdout replies out.
// It doubles as the smoke-test surface for the whole pipeline.
type Loopback struct {
	bus *bus.MessageBus
	in  io.Reader
	out io.Writer

	cancel context.CancelFunc
	done   chan struct{}
}

func NewLoopback(msgBus *bus.MessageBus) *Loopback {
	return &Loopback{bus: msgBus, in: os.Stdin, out: os.Stdout}
}

// NewLoopbackWith wires explicit streams; used by tests.
func NewLoopbackWith(msgBus *bus.MessageBus, in io.Reader, out io.Writer) *Loopback {
	return &Loopback{bus: msgBus, in: in, out: out}
}

func (l *Loopback) Name() string { return "loopback" }

func (l *Loopback) Start(ctx context.Context) error {
	readCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		scanner := bufio.NewScanner(l.in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			msg := bus.InboundMessage{
				Channel:  "loopback",
				SenderID: "local",
				ChatID:   "local",
				Content:  line,
			}
			if err := l.bus.PublishInbound(readCtx, msg); err != nil {
				return
			}
		}
	}()
	return nil
}

func (l *Loopback) Stop(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
	}
	return nil
}

func (l *Loopback) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := fmt.Fprintf(l.out, "%s\n", msg.Content)
	return err
}
