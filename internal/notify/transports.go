package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Webhook posts the message text to a single URL.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{url: url, client: client}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, strings.NewReader(msg.Text))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("X-Notify-Event", string(msg.Event))
	req.Header.Set("X-Notify-Request-ID", msg.RequestID)
	req.Header.Set("X-Notify-Recipients", strings.Join(msg.Recipients, ","))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Mailer is satisfied by email.Service.
type Mailer interface {
	IsConfigured() bool
	SendEmail(ctx context.Context, to []string, subject, body string) error
}

// Email mails recipients that have an address in the address book. Ids
// without an address are skipped.
type Email struct {
	mailer    Mailer
	addresses map[string]string
}

func NewEmail(mailer Mailer, addresses map[string]string) *Email {
	book := make(map[string]string, len(addresses))
	for id, addr := range addresses {
		id, addr = strings.TrimSpace(id), strings.TrimSpace(addr)
		if id != "" && addr != "" {
			book[id] = addr
		}
	}
	return &Email{mailer: mailer, addresses: book}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, msg Message) error {
	if e.mailer == nil || !e.mailer.IsConfigured() {
		return nil
	}
	to := e.resolve(msg.Recipients)
	if len(to) == 0 {
		return nil
	}
	return e.mailer.SendEmail(ctx, to, Subject(msg), msg.Text)
}

func (e *Email) resolve(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var to []string
	for _, id := range ids {
		addr, ok := e.addresses[id]
		if !ok {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		to = append(to, addr)
	}
	return to
}

// Redis publishes the JSON-encoded message on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

func NewRedis(client *redis.Client, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Send(ctx context.Context, msg Message) error {
	if r.client == nil || r.channel == "" {
		return errors.New("redis transport not configured")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}
