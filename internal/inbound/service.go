package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hystdevtv/pear/internal/guardian"
	"github.com/hystdevtv/pear/internal/lifecycle"
	"github.com/hystdevtv/pear/internal/models"
)

type Guard interface {
	Check(ctx context.Context) guardian.Result
}

// Inbox is the raw namespace plus its responded markers.
type Inbox interface {
	ListUnprocessed(ctx context.Context, limit int) ([]string, error)
	LoadRaw(ctx context.Context, key string) ([]byte, error)
	MarkResponded(ctx context.Context, key string) error
}

type Handler interface {
	Handle(ctx context.Context, msg models.InboundMessage) (lifecycle.Outcome, error)
}

// ItemResult is the per-message line of a batch summary.
type ItemResult struct {
	Key     string            `json:"key"`
	Outcome lifecycle.Outcome `json:"outcome"`
	Error   string            `json:"error,omitempty"`
}

// Summary reports one batch pass.
type Summary struct {
	Guardian  guardian.Result `json:"guardian"`
	Blocked   bool            `json:"blocked"`
	Listed    int             `json:"listed"`
	Completed int             `json:"completed"`
	Updated   int             `json:"updated"`
	Created   int             `json:"created"`
	Skipped   int             `json:"skipped"`
	Invalid   int             `json:"invalid"`
	Failed    int             `json:"failed"`
	Items     []ItemResult    `json:"items,omitempty"`
}

type ServiceOptions struct {
	BatchSize          int
	MaxAttachmentBytes int64
}

// Service runs guarded batch passes over the raw namespace.
type Service struct {
	guard              Guard
	inbox              Inbox
	handler            Handler
	batchSize          int
	maxAttachmentBytes int64
}

func NewService(guard Guard, inbox Inbox, handler Handler, opts ServiceOptions) *Service {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	maxAttachmentBytes := opts.MaxAttachmentBytes
	if maxAttachmentBytes <= 0 {
		maxAttachmentBytes = defaultMaxAttachmentBytes
	}
	return &Service{
		guard:              guard,
		inbox:              inbox,
		handler:            handler,
		batchSize:          batchSize,
		maxAttachmentBytes: maxAttachmentBytes,
	}
}

// RunBatch processes at most one batch of unhandled messages in key order.
// A blocked guardian check skips the whole pass. Per-message failures are
// logged and counted; the message stays unhandled and is retried next run.
func (s *Service) RunBatch(ctx context.Context) (Summary, error) {
	var sum Summary
	sum.Guardian = s.guard.Check(ctx)
	if !sum.Guardian.Allow {
		sum.Blocked = true
		slog.Warn("batch blocked by guardian", "action", sum.Guardian.Action, "reason", sum.Guardian.Reason)
		return sum, nil
	}

	keys, err := s.inbox.ListUnprocessed(ctx, s.batchSize)
	if err != nil {
		return sum, fmt.Errorf("list unprocessed messages: %w", err)
	}
	sum.Listed = len(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		item := s.processOne(ctx, key, &sum)
		sum.Items = append(sum.Items, item)
	}

	slog.Info("batch finished",
		"listed", sum.Listed,
		"completed", sum.Completed,
		"updated", sum.Updated,
		"created", sum.Created,
		"skipped", sum.Skipped,
		"invalid", sum.Invalid,
		"failed", sum.Failed,
	)
	return sum, nil
}

func (s *Service) processOne(ctx context.Context, key string, sum *Summary) ItemResult {
	item := ItemResult{Key: key}

	data, err := s.inbox.LoadRaw(ctx, key)
	if err != nil {
		slog.Error("failed to load inbound message", "key", key, "error", err)
		sum.Failed++
		item.Error = err.Error()
		return item
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		// Undecodable documents can never succeed; mark them so they stop
		// blocking the batch.
		slog.Error("invalid inbound document", "key", key, "error", err)
		sum.Invalid++
		item.Error = "invalid document: " + err.Error()
		if err := s.inbox.MarkResponded(ctx, key); err != nil {
			slog.Error("failed to mark invalid document", "key", key, "error", err)
		}
		return item
	}
	doc.Normalize()
	msg := doc.ToInboundMessage(key, s.maxAttachmentBytes)

	out, err := s.handler.Handle(ctx, msg)
	item.Outcome = out
	if err != nil {
		slog.Error("failed to handle inbound message", "key", key, "case_id", out.CaseID, "error", err)
		sum.Failed++
		item.Error = err.Error()
		return item
	}

	switch out.Action {
	case lifecycle.ActionCompleted:
		sum.Completed++
	case lifecycle.ActionUpdated:
		sum.Updated++
	case lifecycle.ActionCreated:
		sum.Created++
	case lifecycle.ActionSkipped:
		sum.Skipped++
	}

	if !out.Handled {
		return item
	}
	if err := s.inbox.MarkResponded(ctx, key); err != nil {
		slog.Error("failed to mark message handled", "key", key, "error", err)
		sum.Failed++
		item.Error = err.Error()
	}
	return item
}
