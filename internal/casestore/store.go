// Package casestore keeps pending cases and the inbound message namespace in
// a blob store. Every case is one JSON document keyed by its ID.
package casestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/hystdevtv/pear/internal/blob"
	"github.com/hystdevtv/pear/internal/models"
)

// ErrCaseNotFound is returned when no document exists for a case ID.
var ErrCaseNotFound = errors.New("case not found")

// Prefixes names the blob namespaces. Each value ends with "/".
type Prefixes struct {
	Raw       string
	Pending   string
	Responded string
	Complete  string
	Expired   string
}

// DefaultPrefixes returns the namespace layout used when nothing is configured.
func DefaultPrefixes() Prefixes {
	return Prefixes{
		Raw:       "raw/",
		Pending:   "pending/",
		Responded: "responded/",
		Complete:  "complete/",
		Expired:   "expired/",
	}
}

func (p Prefixes) normalized() Prefixes {
	def := DefaultPrefixes()
	return Prefixes{
		Raw:       dirPrefix(p.Raw, def.Raw),
		Pending:   dirPrefix(p.Pending, def.Pending),
		Responded: dirPrefix(p.Responded, def.Responded),
		Complete:  dirPrefix(p.Complete, def.Complete),
		Expired:   dirPrefix(p.Expired, def.Expired),
	}
}

func dirPrefix(v, fallback string) string {
	v = strings.Trim(strings.TrimSpace(v), "/")
	if v == "" {
		return fallback
	}
	return v + "/"
}

// Store reads and writes case documents and inbound markers through a blob.Store.
type Store struct {
	blobs    blob.Store
	prefixes Prefixes
}

// New returns a Store over blobs. Empty prefixes fall back to the defaults.
func New(blobs blob.Store, prefixes Prefixes) *Store {
	return &Store{blobs: blobs, prefixes: prefixes.normalized()}
}

// Prefixes returns the normalized namespace layout.
func (s *Store) Prefixes() Prefixes {
	return s.prefixes
}

func (s *Store) pendingKey(id string) string  { return s.prefixes.Pending + id + ".json" }
func (s *Store) expiredKey(id string) string  { return s.prefixes.Expired + id + ".json" }
func (s *Store) completeKey(id string) string { return s.prefixes.Complete + id + ".json" }

// ListPending returns every readable pending case. Documents that fail to
// decode are logged and skipped. A pending document already marked complete
// is left over from an interrupted finalization: it is not returned, and its
// removal is retried.
func (s *Store) ListPending(ctx context.Context) ([]*models.PendingCase, error) {
	cases, err := s.listCases(ctx, s.prefixes.Pending)
	if err != nil {
		return nil, err
	}
	open := cases[:0]
	for _, c := range cases {
		if c.State == models.StateComplete {
			if err := s.Delete(ctx, c.ID); err != nil {
				slog.Warn("completed case still in pending namespace", "case_id", c.ID, "error", err)
			}
			continue
		}
		open = append(open, c)
	}
	return open, nil
}

// ListArchived returns every case in the expired namespace.
func (s *Store) ListArchived(ctx context.Context) ([]*models.PendingCase, error) {
	return s.listCases(ctx, s.prefixes.Expired)
}

func (s *Store) listCases(ctx context.Context, prefix string) ([]*models.PendingCase, error) {
	keys, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	cases := make([]*models.PendingCase, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		c, err := s.readCase(ctx, key)
		if err != nil {
			slog.Warn("skipping unreadable case document", "key", key, "error", err)
			continue
		}
		cases = append(cases, c)
	}
	return cases, nil
}

// Load reads the pending case id. It returns ErrCaseNotFound when absent.
func (s *Store) Load(ctx context.Context, id string) (*models.PendingCase, error) {
	return s.readCase(ctx, s.pendingKey(id))
}

// LoadArchived reads case id from the expired namespace.
func (s *Store) LoadArchived(ctx context.Context, id string) (*models.PendingCase, error) {
	return s.readCase(ctx, s.expiredKey(id))
}

// LoadCompleted reads the completion snapshot of a finalized case.
func (s *Store) LoadCompleted(ctx context.Context, id string) (*models.PendingCase, error) {
	return s.readCase(ctx, s.completeKey(id))
}

func (s *Store) readCase(ctx context.Context, key string) (*models.PendingCase, error) {
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("read case %s: %w", key, err)
	}
	var c models.PendingCase
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode case %s: %w", key, err)
	}
	if c.ID == "" {
		c.ID = strings.TrimSuffix(path.Base(key), ".json")
	}
	return &c, nil
}

// Save upserts the pending document of c.
func (s *Store) Save(ctx context.Context, c *models.PendingCase) error {
	return s.writeCase(ctx, s.pendingKey(c.ID), c)
}

// SaveCompleted writes the final snapshot of a finalized case.
func (s *Store) SaveCompleted(ctx context.Context, c *models.PendingCase) error {
	return s.writeCase(ctx, s.completeKey(c.ID), c)
}

func (s *Store) writeCase(ctx context.Context, key string, c *models.PendingCase) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("case id is required")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode case %s: %w", c.ID, err)
	}
	if err := s.blobs.Put(ctx, key, "application/json", data); err != nil {
		return fmt.Errorf("write case %s: %w", key, err)
	}
	return nil
}

// Delete removes the pending document of id. A missing document is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.blobs.Delete(ctx, s.pendingKey(id)); err != nil {
		return fmt.Errorf("delete case %s: %w", id, err)
	}
	return nil
}

// Archive moves c to the expired namespace. The archived copy is written
// before the pending document is removed.
func (s *Store) Archive(ctx context.Context, c *models.PendingCase) error {
	if err := s.writeCase(ctx, s.expiredKey(c.ID), c); err != nil {
		return err
	}
	return s.Delete(ctx, c.ID)
}

// Reopen restores the archived case whose ID starts with tag: it is moved
// back to the pending namespace with a REOPENED event and a fresh expiry.
func (s *Store) Reopen(ctx context.Context, tag string, now time.Time, ttl time.Duration) (*models.PendingCase, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return nil, ErrCaseNotFound
	}
	archived, err := s.ListArchived(ctx)
	if err != nil {
		return nil, err
	}
	c := FindByTag(archived, tag)
	if c == nil {
		return nil, ErrCaseNotFound
	}

	c.State = models.StatePendingMissing
	c.ExpiresAt = now.Add(ttl).UTC()
	c.AddEvent(now, models.EventReopened, "tag "+tag)
	if err := s.Save(ctx, c); err != nil {
		return nil, err
	}
	if err := s.blobs.Delete(ctx, s.expiredKey(c.ID)); err != nil {
		slog.Warn("reopened case still present in archive", "case_id", c.ID, "error", err)
	}
	return c, nil
}
