// Package notify announces enrollment events to interested parties.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/logging"
)

// Notification drivers.
const (
	DriverLog   = "log"
	DriverRedis = "redis"
)

// DefaultChannel is the Redis channel events are published on.
const DefaultChannel = "facecheck:enrollment"

// EventEnrollmentComplete is sent once an identity covers every required pose.
const EventEnrollmentComplete = "enrollment.complete"

// Event is the published payload.
type Event struct {
	Type     string    `json:"type"`
	Identity string    `json:"identity"`
	Poses    []string  `json:"poses"`
	At       time.Time `json:"at"`
}

// Notifier is told when an identity finishes enrollment.
type Notifier interface {
	EnrollmentComplete(ctx context.Context, identity string, poses []string) error
}

// LogNotifier writes events to the log.
type LogNotifier struct {
	log *logrus.Entry
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logging.Component("notify")}
}

// EnrollmentComplete implements Notifier.
func (n *LogNotifier) EnrollmentComplete(ctx context.Context, identity string, poses []string) error {
	n.log.WithFields(logging.Fields{
		"identity": identity,
		"poses":    strings.Join(poses, ","),
	}).Info("Enrollment complete")
	return nil
}

// Close is a no-op.
func (n *LogNotifier) Close() error { return nil }

// RedisNotifier publishes events as JSON on a Redis channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	now     func() time.Time
	log     *logrus.Entry
}

// NewRedisNotifier connects to addr, which may be host:port or a
// redis:// URL.
func NewRedisNotifier(ctx context.Context, addr, channel string) (*RedisNotifier, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		var err error
		opts, err = redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisNotifierWithClient(client, channel), nil
}

// NewRedisNotifierWithClient wraps an existing client.
func NewRedisNotifierWithClient(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{
		client:  client,
		channel: channel,
		now:     time.Now,
		log:     logging.Component("notify"),
	}
}

// EnrollmentComplete implements Notifier.
func (n *RedisNotifier) EnrollmentComplete(ctx context.Context, identity string, poses []string) error {
	payload, err := json.Marshal(Event{
		Type:     EventEnrollmentComplete,
		Identity: identity,
		Poses:    poses,
		At:       n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	n.log.WithField("identity", identity).Debug("Published enrollment event")
	return nil
}

// Close closes the Redis connection.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// Options selects a Notifier.
type Options struct {
	Driver    string
	RedisAddr string
	Channel   string
}

// Closer is a Notifier holding resources.
type Closer interface {
	Notifier
	Close() error
}

// Open returns the Notifier for the configured driver.
func Open(ctx context.Context, opts Options) (Closer, error) {
	switch opts.Driver {
	case "", DriverLog:
		return NewLogNotifier(), nil
	case DriverRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis notifier requires an address")
		}
		return NewRedisNotifier(ctx, opts.RedisAddr, opts.Channel)
	default:
		return nil, fmt.Errorf("unknown notify driver: %s", opts.Driver)
	}
}
