package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

type RawStore interface {
	PutRaw(ctx context.Context, name string, body []byte) (string, error)
}

// VolumeRecorder is the write side of the guardian's volume counter.
type VolumeRecorder interface {
	Record(ctx context.Context, sender string, at time.Time) error
}

// Depositor writes inbound documents into the raw namespace under
// time-sortable keys, so the batch driver sees them in arrival order.
type Depositor struct {
	raw    RawStore
	volume VolumeRecorder
	now    func() time.Time
}

func NewDepositor(raw RawStore, volume VolumeRecorder) *Depositor {
	return &Depositor{raw: raw, volume: volume, now: time.Now}
}

func (d *Depositor) WithClock(now func() time.Time) *Depositor {
	d.now = now
	return d
}

// Deposit stores doc and returns its key. ReceivedAt is stamped when the
// caller left it blank.
func (d *Depositor) Deposit(ctx context.Context, doc Document) (string, error) {
	doc.Normalize()
	if !doc.IsUsable() {
		return "", ErrEmptyDocument
	}
	now := d.now().UTC()
	if doc.ReceivedAt == "" {
		doc.ReceivedAt = now.Format(time.RFC3339Nano)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode inbound document: %w", err)
	}

	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return "", fmt.Errorf("generate document key: %w", err)
	}
	key, err := d.raw.PutRaw(ctx, id.String(), body)
	if err != nil {
		return "", err
	}

	if d.volume != nil {
		sender := firstNonEmpty(doc.FromEmail, doc.From)
		if err := d.volume.Record(ctx, sender, now); err != nil {
			slog.Warn("failed to record inbound volume", "key", key, "error", err)
		}
	}
	slog.Info("inbound document stored", "key", key, "source", doc.Source)
	return key, nil
}

var ErrEmptyDocument = errors.New("inbound document has no body or MIME source")
