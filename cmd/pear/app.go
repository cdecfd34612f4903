package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hystdevtv/pear/internal/blob"
	"github.com/hystdevtv/pear/internal/casestore"
	"github.com/hystdevtv/pear/internal/config"
	"github.com/hystdevtv/pear/internal/database"
	"github.com/hystdevtv/pear/internal/extract"
	"github.com/hystdevtv/pear/internal/guardian"
	"github.com/hystdevtv/pear/internal/inbound"
	"github.com/hystdevtv/pear/internal/lifecycle"
	"github.com/hystdevtv/pear/internal/mail"
	"github.com/hystdevtv/pear/internal/sweeper"
	"github.com/hystdevtv/pear/migrations"
)

// app holds the wired components. Fields stay nil for parts a command did
// not ask for.
type app struct {
	cfg *config.Config

	blobs     blob.Store
	cases     *casestore.Store
	volume    guardian.VolumeCounter
	lockdowns guardian.LockdownStore
	guard     *guardian.Guardian
	mailer    *mail.Service
	sweeper   *sweeper.Sweeper
	batches   *inbound.Service
	depositor *inbound.Depositor

	closers []func() error
}

type appOptions struct {
	// processing wires extraction, the durable store and the batch driver.
	processing bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.blobs, err = blob.NewFromConfig(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	if c, ok := a.blobs.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.cases = casestore.New(a.blobs, cfg.Prefixes)

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.volume = guardian.NewRedisCounter(rdb)
		a.lockdowns = guardian.NewRedisLockdownStore(rdb)
	} else {
		a.volume = guardian.NewMemoryCounter()
		a.lockdowns = guardian.NewBlobLockdownStore(a.blobs, "")
	}
	a.guard = guardian.New(a.cases, a.volume, a.lockdowns, cfg.Guardian)
	a.depositor = inbound.NewDepositor(a.cases, a.volume)

	var sender mail.Sender = mail.LogSender{}
	if cfg.SMTPEnabled {
		client := mail.NewSMTPClient(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
		client.ImplicitTLS = cfg.SMTPUseSSL
		sender = client
	} else {
		slog.Warn("SMTP_HOST not set, notifications are only logged")
	}
	a.mailer = mail.NewService(sender)

	a.sweeper = sweeper.New(a.cases, a.mailer, sweeper.Config{
		Required:    cfg.RequiredFields,
		RemindAfter: cfg.RemindAfter,
		RemindEvery: cfg.RemindEvery,
	})

	if !opts.processing {
		return a, nil
	}

	if err := cfg.RequireExtraction(); err != nil {
		return nil, err
	}
	backend, err := extract.NewGeminiBackend(ctx, extract.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		Timeout: cfg.ExtractTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, backend.Close)

	db, err := database.Open(ctx, cfg.DatabaseURL, migrations.FS, true)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	controller := lifecycle.NewController(
		extract.New(backend, cfg.RequiredFields),
		casestore.NewMatcher(a.cases, cfg.MatchOrder, cfg.ExpireAfter),
		a.cases,
		db.Store,
		a.mailer,
		lifecycle.Config{
			Required:       cfg.RequiredFields,
			ExpireAfter:    cfg.ExpireAfter,
			NotifyCooldown: cfg.NotifyCooldown,
		},
	)
	a.batches = inbound.NewService(a.guard, a.cases, controller, inbound.ServiceOptions{
		BatchSize:          cfg.BatchSize,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
	})
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
