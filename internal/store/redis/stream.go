// Package redis publishes controller records to Redis Streams so other
// services can follow telemetry and decisions without polling the API.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	payloadField     = "payload"
	defaultMaxLen    = 10000
	readBlockTimeout = 2 * time.Second
)

// MessageTransport is what StreamSink publishes to and follows.
// Stream and InMemoryStream both implement it.
type MessageTransport interface {
	PublishJSON(ctx context.Context, stream string, v any) (string, error)
	ReadJSON(ctx context.Context, stream, lastID string, dst any) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Stream is a Redis Streams transport.
type Stream struct {
	client *redis.Client
	maxLen int64
}

func NewStream(ctx context.Context, url string) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Stream{client: client, maxLen: defaultMaxLen}, nil
}

// PublishJSON appends v to stream, trimming the stream to roughly maxLen
// entries.
func (s *Stream) PublishJSON(ctx context.Context, stream string, v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal stream payload: %w", err)
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: body},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// ReadJSON blocks until an entry after lastID exists, decodes it into dst
// and returns its ID.
func (s *Stream) ReadJSON(ctx context.Context, stream, lastID string, dst any) (string, error) {
	if lastID == "" {
		lastID = "0"
	}
	if err := validateStreamOffset(lastID); err != nil {
		return "", err
	}
	for {
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   1,
			Block:   readBlockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("xread %s: %w", stream, err)
		}
		for _, st := range res {
			for _, msg := range st.Messages {
				raw, err := streamPayload(msg.Values[payloadField])
				if err != nil {
					return "", fmt.Errorf("stream %s entry %s: %w", stream, msg.ID, err)
				}
				if err := json.Unmarshal(raw, dst); err != nil {
					return "", fmt.Errorf("decode stream %s entry %s: %w", stream, msg.ID, err)
				}
				return msg.ID, nil
			}
		}
	}
}

func (s *Stream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Stream) Close() error {
	return s.client.Close()
}

func streamPayload(v any) ([]byte, error) {
	switch p := v.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case fmt.Stringer:
		return []byte(p.String()), nil
	default:
		return nil, fmt.Errorf("payload type %T not supported", v)
	}
}
