// Package notify announces request lifecycle events to managers, admins and
// the affected user. Delivery is best effort and never blocks the caller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"modrequests/api/internal/store"
)

type Event string

const (
	EventRequestCreated Event = "request_created"
	EventRequestDeleted Event = "request_deleted"
	EventCommentAdded   Event = "comment_added"
	EventCommentDeleted Event = "comment_deleted"
)

// Notification is what the service hands to the dispatcher. Subject is the
// user who should hear about it: the request creator, or the author of a
// deleted comment. Extra carries the comment text for comment events.
type Notification struct {
	Event   Event
	Request store.Request
	Actor   string
	Subject string
	Extra   string
}

// Message is the rendered, transport-neutral payload.
type Message struct {
	Event      Event     `json:"event"`
	RequestID  string    `json:"requestId"`
	GameName   string    `json:"gameName"`
	Actor      string    `json:"actor"`
	Text       string    `json:"text"`
	Recipients []string  `json:"recipients"`
	SentAt     time.Time `json:"sentAt"`
}

// Transport delivers a message over one channel.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type Options struct {
	Managers []string
	Admins   []string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Dispatcher fans a notification out to every configured transport in a
// background goroutine bounded by its own timeout.
type Dispatcher struct {
	transports []Transport
	managers   []string
	admins     []string
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

func NewDispatcher(opts Options, transports ...Transport) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	active := make([]Transport, 0, len(transports))
	for _, t := range transports {
		if t != nil {
			active = append(active, t)
		}
	}
	return &Dispatcher{
		transports: active,
		managers:   append([]string(nil), opts.Managers...),
		admins:     append([]string(nil), opts.Admins...),
		timeout:    opts.Timeout,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// Enabled reports whether any transport is configured.
func (d *Dispatcher) Enabled() bool {
	return len(d.transports) > 0
}

// Notify returns immediately. Failures are logged and dropped.
func (d *Dispatcher) Notify(n Notification) {
	if !d.Enabled() {
		return
	}
	msg := d.render(n)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notification panicked", "event", msg.Event, "request_id", msg.RequestID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.deliver(ctx, msg)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	for _, t := range d.transports {
		if err := t.Send(ctx, msg); err != nil {
			d.logger.Warn("notification failed",
				"transport", t.Name(),
				"event", msg.Event,
				"request_id", msg.RequestID,
				"error", err,
			)
			continue
		}
		d.logger.Debug("notification sent", "transport", t.Name(), "event", msg.Event, "request_id", msg.RequestID)
	}
}

// Wait blocks until in-flight deliveries finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recipients returns subject, then managers, then admins with blanks and
// duplicates removed.
func (d *Dispatcher) Recipients(subject string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 1+len(d.managers)+len(d.admins))
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(subject)
	for _, id := range d.managers {
		add(id)
	}
	for _, id := range d.admins {
		add(id)
	}
	return out
}

func (d *Dispatcher) render(n Notification) Message {
	return Message{
		Event:      n.Event,
		RequestID:  n.Request.ID,
		GameName:   n.Request.GameName,
		Actor:      n.Actor,
		Text:       Text(n),
		Recipients: d.Recipients(n.Subject),
		SentAt:     d.now().UTC(),
	}
}

// Text renders the human-readable line for a notification.
func Text(n Notification) string {
	name := fmt.Sprintf("%q (%s)", n.Request.GameName, n.Request.ID)
	switch n.Event {
	case EventRequestCreated:
		return fmt.Sprintf("New mod request %s submitted by %s.", name, n.Actor)
	case EventRequestDeleted:
		return fmt.Sprintf("Mod request %s was deleted by %s.", name, n.Actor)
	case EventCommentAdded:
		return fmt.Sprintf("%s commented on %s: %s", n.Actor, name, n.Extra)
	case EventCommentDeleted:
		return fmt.Sprintf("%s deleted a comment by %s on %s.", n.Actor, n.Subject, name)
	default:
		return fmt.Sprintf("%s on %s by %s.", n.Event, name, n.Actor)
	}
}

// Subject is the email subject line for a message.
func Subject(msg Message) string {
	switch msg.Event {
	case EventRequestCreated:
		return "New mod request: " + msg.GameName
	case EventRequestDeleted:
		return "Mod request deleted: " + msg.GameName
	case EventCommentAdded:
		return "New comment on " + msg.GameName
	case EventCommentDeleted:
		return "Comment removed on " + msg.GameName
	default:
		return "Mod request update: " + msg.GameName
	}
}
