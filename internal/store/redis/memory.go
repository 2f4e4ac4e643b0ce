package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var errStreamClosed = errors.New("stream closed")

type memoryEntry struct {
	seq  int64
	body []byte
}

type memoryLog struct {
	entries []memoryEntry
	lastSeq int64
}

// InMemoryStream is a process-local MessageTransport. The controller uses it
// when no Redis URL is configured so the record feed still works on a single
// instance. Each stream keeps its newest maxLen entries.
type InMemoryStream struct {
	mu      sync.Mutex
	streams map[string]*memoryLog
	maxLen  int
	notify  chan struct{}
	closed  bool
}

func NewInMemoryStream() *InMemoryStream {
	return &InMemoryStream{
		streams: make(map[string]*memoryLog),
		maxLen:  defaultMaxLen,
		notify:  make(chan struct{}),
	}
}

func (s *InMemoryStream) PublishJSON(_ context.Context, stream string, v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal stream payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errStreamClosed
	}
	log, ok := s.streams[stream]
	if !ok {
		log = &memoryLog{}
		s.streams[stream] = log
	}
	log.lastSeq++
	log.entries = append(log.entries, memoryEntry{seq: log.lastSeq, body: body})
	if over := len(log.entries) - s.maxLen; over > 0 {
		log.entries = append(log.entries[:0:0], log.entries[over:]...)
	}

	close(s.notify)
	s.notify = make(chan struct{})
	return formatStreamID(log.lastSeq), nil
}

func (s *InMemoryStream) ReadJSON(ctx context.Context, stream, lastID string, dst any) (string, error) {
	after, err := parseStreamOffset(lastID)
	if err != nil {
		return "", err
	}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", errStreamClosed
		}
		if entry, ok := s.firstAfter(stream, after); ok {
			s.mu.Unlock()
			if err := json.Unmarshal(entry.body, dst); err != nil {
				return "", fmt.Errorf("decode stream %s entry %d: %w", stream, entry.seq, err)
			}
			return formatStreamID(entry.seq), nil
		}
		wait := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wait:
		}
	}
}

// firstAfter returns the oldest retained entry with seq > after. Callers hold mu.
func (s *InMemoryStream) firstAfter(stream string, after int64) (memoryEntry, bool) {
	log, ok := s.streams[stream]
	if !ok {
		return memoryEntry{}, false
	}
	i := sort.Search(len(log.entries), func(i int) bool { return log.entries[i].seq > after })
	if i == len(log.entries) {
		return memoryEntry{}, false
	}
	return log.entries[i], true
}

func (s *InMemoryStream) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	return nil
}

func (s *InMemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.notify)
	}
	return nil
}

func formatStreamID(seq int64) string {
	return strconv.FormatInt(seq, 10) + "-0"
}

// parseStreamOffset extracts the millisecond part of a stream ID. Empty and
// negative offsets read from the start.
func parseStreamOffset(id string) (int64, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, nil
	}
	if ms, _, ok := strings.Cut(id, "-"); ok && ms != "" {
		id = ms
	}
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stream offset %q: %w", id, err)
	}
	if v < 0 {
		return 0, nil
	}
	return v, nil
}

// validateStreamOffset accepts "", "<ms>" and "<ms>-<seq>" with
// non-negative parts.
func validateStreamOffset(id string) error {
	if id == "" {
		return nil
	}
	ms, seq, hasSeq := strings.Cut(id, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return fmt.Errorf("invalid stream offset %q", id)
	}
	if hasSeq {
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			return fmt.Errorf("invalid stream offset %q", id)
		}
	}
	return nil
}
