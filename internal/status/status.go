// Package status delivers leveled progress notifications from a deployment to
// any number of subscribers. Delivery is synchronous and in publish order, and
// every message is scrubbed of credentials before a subscriber sees it.
package status

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// Level classifies a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Notification is a single progress message.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Subscriber receives notifications. It runs on the publishing goroutine and
// must return quickly.
type Subscriber func(Notification)

type subscription struct {
	id int
	fn Subscriber
}

// Publisher fans notifications out to subscribers. The zero value is ready to
// use and a publisher without subscribers simply drops messages.
type Publisher struct {
	mu   sync.Mutex
	subs []subscription
	next int
	now  func() time.Time
}

// NewPublisher returns a publisher with the given subscribers attached.
func NewPublisher(subs ...Subscriber) *Publisher {
	p := &Publisher{}
	for _, s := range subs {
		p.Subscribe(s)
	}
	return p
}

// Subscribe attaches fn and returns a function that detaches it again.
func (p *Publisher) Subscribe(fn Subscriber) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := p.next
	p.subs = append(p.subs, subscription{id: id, fn: fn})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.subs {
			if s.id == id {
				p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
				return
			}
		}
	}
}

func (p *Publisher) Info(format string, args ...any)    { p.Publish(LevelInfo, format, args...) }
func (p *Publisher) Success(format string, args ...any) { p.Publish(LevelSuccess, format, args...) }
func (p *Publisher) Warning(format string, args ...any) { p.Publish(LevelWarning, format, args...) }
func (p *Publisher) Error(format string, args ...any)   { p.Publish(LevelError, format, args...) }

// Publish formats, redacts and delivers a notification.
func (p *Publisher) Publish(level Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	p.mu.Lock()
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	subs := make([]Subscriber, len(p.subs))
	for i, s := range p.subs {
		subs[i] = s.fn
	}
	p.mu.Unlock()

	n := Notification{
		Level:   level,
		Message: Redact(msg),
		Time:    now().UTC(),
	}
	for _, fn := range subs {
		fn(n)
	}
}

var (
	keyValuePassword = regexp.MustCompile(`(?i)password\s?=[^;]*;`)
	keywordPassword  = regexp.MustCompile(`(?i)(password\s?=\s?)('[^']*'|[^\s;&]+)`)
	urlPassword      = regexp.MustCompile(`://([^:/@\s]+):(\S+)@`)
	mysqlDSNPassword = regexp.MustCompile(`([^\s:/@()]+):([^@\s]+)@(\w*\(|/)`)
)

// Redact masks passwords embedded in connection strings: semicolon separated
// pairs, libpq keyword/value DSNs (space separated, values optionally
// single-quoted), URL userinfo and go-sql-driver DSNs.
func Redact(msg string) string {
	msg = keyValuePassword.ReplaceAllString(msg, "password=xxxxxx;")
	msg = keywordPassword.ReplaceAllString(msg, "${1}xxxxxx")
	msg = urlPassword.ReplaceAllString(msg, "://${1}:xxxxxx@")
	msg = mysqlDSNPassword.ReplaceAllString(msg, "${1}:xxxxxx@${3}")
	return msg
}
