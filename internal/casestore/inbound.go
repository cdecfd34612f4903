package casestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/hystdevtv/pear/internal/blob"
)

// ErrRawNotFound is returned when an inbound document does not exist.
var ErrRawNotFound = errors.New("inbound document not found")

// ListUnprocessed returns raw ".json" keys without a responded marker in
// lexical order, at most limit of them (0 means no limit).
func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]string, error) {
	keys, err := s.blobs.List(ctx, s.prefixes.Raw)
	if err != nil {
		return nil, fmt.Errorf("list inbound: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		done, err := s.IsResponded(ctx, key)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		out = append(out, key)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LoadRaw returns the stored bytes of an inbound document.
func (s *Store) LoadRaw(ctx context.Context, key string) ([]byte, error) {
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			return nil, ErrRawNotFound
		}
		return nil, fmt.Errorf("read inbound %s: %w", key, err)
	}
	return data, nil
}

// PutRaw stores an inbound document under the raw namespace and returns its key.
func (s *Store) PutRaw(ctx context.Context, name string, body []byte) (string, error) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return "", errors.New("inbound document name is required")
	}
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	key := s.prefixes.Raw + name
	if err := s.blobs.Put(ctx, key, "application/json", body); err != nil {
		return "", fmt.Errorf("write inbound %s: %w", key, err)
	}
	return key, nil
}

func (s *Store) markerKey(rawKey string) string {
	base := strings.TrimSuffix(path.Base(rawKey), ".json")
	return s.prefixes.Responded + base + ".sent"
}

// IsResponded reports whether rawKey carries a responded marker.
func (s *Store) IsResponded(ctx context.Context, rawKey string) (bool, error) {
	ok, err := s.blobs.Exists(ctx, s.markerKey(rawKey))
	if err != nil {
		return false, fmt.Errorf("check marker for %s: %w", rawKey, err)
	}
	return ok, nil
}

// MarkResponded writes the empty marker that flags rawKey as handled.
func (s *Store) MarkResponded(ctx context.Context, rawKey string) error {
	if err := s.blobs.Put(ctx, s.markerKey(rawKey), "text/plain", nil); err != nil {
		return fmt.Errorf("write marker for %s: %w", rawKey, err)
	}
	return nil
}
