package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"carecircle/pkg/domain"
)

const defaultMaxLen = 1000

// Outbox mirrors committed mails onto a capped Redis stream so developer
// tools can tail them without reading the whole Root document.
type Outbox struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	timeout time.Duration
}

// OutboxConfig configures NewOutbox.
type OutboxConfig struct {
	Stream string
	MaxLen int64
}

// NewOutbox wraps an existing client. The client is owned by the caller.
func NewOutbox(client *redis.Client, cfg OutboxConfig) (*Outbox, error) {
	if client == nil {
		return nil, errors.New("outbox requires a redis client")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("outbox stream required")
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Outbox{client: client, stream: stream, maxLen: maxLen, timeout: 3 * time.Second}, nil
}

// Publish appends mails to the stream in order.
func (o *Outbox) Publish(ctx context.Context, mails ...domain.Mail) error {
	if o == nil || len(mails) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	_, err := o.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range mails {
			payload, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("encode mail %s: %w", m.ID, err)
			}
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: o.stream,
				MaxLen: o.maxLen,
				Approx: true,
				Values: map[string]any{
					"mailId":  m.ID,
					"to":      m.To,
					"subject": m.Subject,
					"payload": string(payload),
				},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish mail: %w", err)
	}
	return nil
}

// Recent returns up to limit mails, newest first.
func (o *Outbox) Recent(ctx context.Context, limit int64) ([]domain.Mail, error) {
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	entries, err := o.client.XRevRangeN(ctx, o.stream, "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	mails := make([]domain.Mail, 0, len(entries))
	for _, entry := range entries {
		raw, _ := entry.Values["payload"].(string)
		var m domain.Mail
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		mails = append(mails, m)
	}
	return mails, nil
}
