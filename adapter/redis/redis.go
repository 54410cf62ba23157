// Package redis implements a Redis adapter for deployment completion
// events.
//
// Two delivery modes are supported: "publish" sends each event to a pub/sub
// channel, "stream" appends it to a capped stream so late consumers can
// catch up. In both modes the latest event per form is also kept under a
// key for quick lookup.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ajolex/surveycto-vc-agent/adapter"
)

// DefaultChannel is the default channel (publish mode) or stream (stream
// mode) name.
const DefaultChannel = "formbridge:deployment_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultStreamMaxLen caps the stream length in stream mode.
const DefaultStreamMaxLen = 1000

// DefaultLatestTTL is how long the per-form latest event key lives.
const DefaultLatestTTL = 7 * 24 * time.Hour

// Delivery modes.
const (
	ModePublish = "publish"
	ModeStream  = "stream"
)

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the channel or stream name (default DefaultChannel).
	Channel string
	// Mode is ModePublish (default) or ModeStream.
	Mode string
	// StreamMaxLen caps the stream in stream mode (default 1000).
	StreamMaxLen int64
	// LatestTTL is the expiry of the per-form latest key (default 7 days).
	// Negative disables the key.
	LatestTTL time.Duration
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Backoff is the first retry delay (default adapter.BaseBackoff).
	Backoff time.Duration
}

// Adapter publishes deployment completion events to Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModePublish
	case ModePublish, ModeStream:
	default:
		return nil, fmt.Errorf("redis adapter: unknown mode %q", cfg.Mode)
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}
	if cfg.LatestTTL == 0 {
		cfg.LatestTTL = DefaultLatestTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// LatestKey is the key holding the most recent event for formID.
func LatestKey(channel, formID string) string {
	return channel + ":latest:" + formID
}

// Publish delivers the event, retrying with exponential backoff.
func (a *Adapter) Publish(ctx context.Context, event *adapter.DeploymentCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	return adapter.Retry(ctx, "redis", a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.deliver(publishCtx, event, body)
	}, nil)
}

func (a *Adapter) deliver(ctx context.Context, event *adapter.DeploymentCompletedEvent, body []byte) error {
	pipe := a.client.Pipeline()
	switch a.config.Mode {
	case ModeStream:
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: a.config.Channel,
			MaxLen: a.config.StreamMaxLen,
			Approx: true,
			Values: map[string]any{
				"deployment_id": event.DeploymentID,
				"form_id":       event.FormID,
				"event":         string(body),
			},
		})
	default:
		pipe.Publish(ctx, a.config.Channel, body)
	}
	if a.config.LatestTTL > 0 && event.FormID != "" {
		pipe.Set(ctx, LatestKey(a.config.Channel, event.FormID), body, a.config.LatestTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
