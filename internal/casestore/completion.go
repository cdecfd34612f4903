package casestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hystdevtv/pear/internal/blob"
)

// ErrCompletionNotFound is returned when a message did not finalize any case.
var ErrCompletionNotFound = errors.New("completion not found")

// Completion records that an inbound message finalized a case. Confirmed is
// set once the confirmation mail went out.
type Completion struct {
	CaseID      string    `json:"case_id"`
	MessageKey  string    `json:"message_key"`
	CompletedAt time.Time `json:"completed_at"`
	Confirmed   bool      `json:"confirmed"`
}

func (s *Store) completionKey(rawKey string) string {
	base := strings.TrimSuffix(path.Base(rawKey), ".json")
	return s.prefixes.Complete + "by-message/" + base + ".json"
}

// SaveCompletion upserts the completion record of the message rawKey.
func (s *Store) SaveCompletion(ctx context.Context, rawKey string, c Completion) error {
	c.MessageKey = rawKey
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode completion for %s: %w", rawKey, err)
	}
	key := s.completionKey(rawKey)
	if err := s.blobs.Put(ctx, key, "application/json", data); err != nil {
		return fmt.Errorf("write completion %s: %w", key, err)
	}
	return nil
}

// LoadCompletion returns ErrCompletionNotFound for messages that completed nothing.
func (s *Store) LoadCompletion(ctx context.Context, rawKey string) (*Completion, error) {
	key := s.completionKey(rawKey)
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			return nil, ErrCompletionNotFound
		}
		return nil, fmt.Errorf("read completion %s: %w", key, err)
	}
	var c Completion
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode completion %s: %w", key, err)
	}
	return &c, nil
}
