package status

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// LogSubscriber forwards notifications to a structured logger.
func LogSubscriber(logger *slog.Logger) Subscriber {
	return func(n Notification) {
		level := slog.LevelInfo
		switch n.Level {
		case LevelWarning:
			level = slog.LevelWarn
		case LevelError:
			level = slog.LevelError
		}
		logger.Log(context.Background(), level, n.Message, "status", n.Level.String())
	}
}

// WriterSubscriber prints one line per notification, e.g. "[SUCCESS] done".
// Leading tabs in messages are kept so nested listings stay indented.
func WriterSubscriber(w io.Writer) Subscriber {
	var mu sync.Mutex
	return func(n Notification) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "[%s] %s\n", strings.ToUpper(n.Level.String()), n.Message)
	}
}

// Collector keeps every notification it receives.
type Collector struct {
	mu    sync.Mutex
	items []Notification
}

// Subscriber returns the function to register with a Publisher.
func (c *Collector) Subscriber() Subscriber {
	return func(n Notification) {
		c.mu.Lock()
		c.items = append(c.items, n)
		c.mu.Unlock()
	}
}

// Notifications returns a copy of everything collected so far.
func (c *Collector) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Messages returns only the message texts, in delivery order.
func (c *Collector) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.items))
	for i, n := range c.items {
		out[i] = n.Message
	}
	return out
}
