package bus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/aide/pkg/models"
)

// ConsoleAdapter is a channel adapter over a reader/writer pair, normally
// stdin/stdout. Each input line becomes one InboundMessage; outbound
// messages are printed with a channel prefix. Used for local runs and as
// the reference Adapter implementation in tests.
type ConsoleAdapter struct {
	in       io.Reader
	out      io.Writer
	senderID string

	mu       sync.Mutex
	messages chan models.InboundMessage
	stopped  bool
}

// NewConsoleAdapter creates a console adapter reading lines from in and
// writing replies to out. senderID labels the local user.
func NewConsoleAdapter(in io.Reader, out io.Writer, senderID string) *ConsoleAdapter {
	if senderID == "" {
		senderID = "local"
	}
	return &ConsoleAdapter{
		in:       in,
		out:      out,
		senderID: senderID,
		messages: make(chan models.InboundMessage, 16),
	}
}

// Type returns "console".
func (c *ConsoleAdapter) Type() models.ChannelType { return models.ChannelConsole }

// Messages returns the inbound message channel.
func (c *ConsoleAdapter) Messages() <-chan models.InboundMessage { return c.messages }

// Start begins reading lines from the input until EOF or Stop.
func (c *ConsoleAdapter) Start(ctx context.Context) error {
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			msg := models.InboundMessage{
				Channel:   models.ChannelConsole,
				SenderID:  c.senderID,
				ChatID:    c.senderID,
				Content:   line,
				Timestamp: time.Now(),
			}
			select {
			case c.messages <- msg:
			case <-ctx.Done():
				return
			}
		}
		c.closeMessages()
	}()
	return nil
}

// Stop closes the inbound channel. The input reader is left to hit EOF.
func (c *ConsoleAdapter) Stop(ctx context.Context) error {
	c.closeMessages()
	return nil
}

// Send writes one outbound message to the output writer.
func (c *ConsoleAdapter) Send(ctx context.Context, msg models.OutboundMessage) error {
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", msg.ChatID, msg.Content)
	return err
}

func (c *ConsoleAdapter) closeMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.messages)
	}
}
