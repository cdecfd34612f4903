// Package guardian gates batch runs. It inspects message volume and the
// pending-case count, blocks processing under load and can place the system
// in an emergency lockdown that lifts itself after a fixed delay.
package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hystdevtv/pear/internal/casestore"
	"github.com/hystdevtv/pear/internal/models"
)

type ThreatLevel string

const (
	LevelNormal   ThreatLevel = "NORMAL"
	LevelLow      ThreatLevel = "LOW"
	LevelMedium   ThreatLevel = "MEDIUM"
	LevelHigh     ThreatLevel = "HIGH"
	LevelCritical ThreatLevel = "CRITICAL"
)

type Action string

const (
	ActionAllow    Action = "ALLOW_WITH_MONITORING"
	ActionBlock    Action = "TEMPORARY_BLOCK"
	ActionLockdown Action = "EMERGENCY_LOCKDOWN"
	ActionBlocked  Action = "BLOCKED"
)

// lowVolumeFactor is the share of the hourly limit that raises the level to LOW.
const lowVolumeFactor = 0.7

// Snapshot is the load picture a check is based on.
type Snapshot struct {
	MessagesLastMinute int            `json:"messages_last_minute"`
	MessagesLastHour   int            `json:"messages_last_hour"`
	PendingCases       int            `json:"pending_cases"`
	SenderCounts       map[string]int `json:"sender_counts,omitempty"`
	SuspiciousPatterns []string       `json:"suspicious_patterns,omitempty"`
}

// Result tells the caller whether the batch may run.
type Result struct {
	Allow    bool        `json:"allow"`
	Reason   string      `json:"reason"`
	Action   Action      `json:"action"`
	Level    ThreatLevel `json:"level"`
	Stats    Snapshot    `json:"stats"`
	Lockdown *Lockdown   `json:"lockdown,omitempty"`
}

// Lockdown is the persisted emergency flag.
type Lockdown struct {
	Reason      string    `json:"reason"`
	ActivatedAt time.Time `json:"activated_at"`
	UnlockAt    time.Time `json:"auto_unlock_after"`
}

// PendingSource lists the pending cases. casestore.Store implements it.
type PendingSource interface {
	ListPending(ctx context.Context) ([]*models.PendingCase, error)
}

type Config struct {
	MaxEmailsPerMinute        int
	MaxEmailsPerHour          int
	MaxPendingCases           int
	SuspiciousSenderThreshold int
	LockdownDuration          time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxEmailsPerMinute:        10,
		MaxEmailsPerHour:          100,
		MaxPendingCases:           500,
		SuspiciousSenderThreshold: 5,
		LockdownDuration:          time.Hour,
	}
}

type Guardian struct {
	pending   PendingSource
	volume    VolumeCounter
	lockdowns LockdownStore
	cfg       Config
	now       func() time.Time
}

func New(pending PendingSource, volume VolumeCounter, lockdowns LockdownStore, cfg Config) *Guardian {
	return &Guardian{
		pending:   pending,
		volume:    volume,
		lockdowns: lockdowns,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (g *Guardian) WithClock(now func() time.Time) *Guardian {
	g.now = now
	return g
}

// Check evaluates the current load. An expired lockdown is cleared first;
// an active one blocks without collecting stats. A lockdown flag that cannot
// be read blocks as well. Stats that cannot be read are logged and treated
// as zero.
func (g *Guardian) Check(ctx context.Context) Result {
	now := g.now().UTC()

	lock, err := g.lockdowns.Get(ctx)
	if err != nil {
		slog.Error("failed to read lockdown flag", "error", err)
		return Result{
			Allow:  false,
			Reason: "lockdown state unavailable: " + err.Error(),
			Action: ActionBlocked,
			Level:  LevelCritical,
		}
	}
	if lock != nil && !now.Before(lock.UnlockAt) {
		if err := g.lockdowns.Clear(ctx); err != nil {
			slog.Error("failed to clear expired lockdown", "error", err)
		} else {
			slog.Info("emergency lockdown auto-unlocked", "reason", lock.Reason)
		}
		lock = nil
	}
	if lock != nil {
		return Result{
			Allow:    false,
			Reason:   "emergency lockdown active: " + lock.Reason,
			Action:   ActionBlocked,
			Level:    LevelCritical,
			Lockdown: lock,
		}
	}

	stats := g.collect(ctx, now)
	level := g.evaluate(stats)
	slog.Info("guardian check", "level", level, "pending_cases", stats.PendingCases, "messages_last_hour", stats.MessagesLastHour)

	switch level {
	case LevelCritical:
		reason := fmt.Sprintf("critical threat: %d pending cases", stats.PendingCases)
		lock := &Lockdown{Reason: reason, ActivatedAt: now, UnlockAt: now.Add(g.cfg.LockdownDuration)}
		if err := g.lockdowns.Set(ctx, *lock); err != nil {
			slog.Error("failed to persist lockdown", "error", err)
		}
		slog.Error("emergency lockdown activated", "reason", reason, "unlock_at", lock.UnlockAt)
		return Result{Allow: false, Reason: reason, Action: ActionLockdown, Level: level, Stats: stats, Lockdown: lock}
	case LevelHigh:
		return Result{
			Allow:  false,
			Reason: fmt.Sprintf("high threat: %d pending cases", stats.PendingCases),
			Action: ActionBlock,
			Level:  level,
			Stats:  stats,
		}
	}

	if len(stats.SuspiciousPatterns) > 0 {
		slog.Warn("suspicious patterns detected", "patterns", stats.SuspiciousPatterns)
	}
	return Result{
		Allow:  true,
		Reason: "threat level " + string(level),
		Action: ActionAllow,
		Level:  level,
		Stats:  stats,
	}
}

func (g *Guardian) evaluate(s Snapshot) ThreatLevel {
	switch {
	case s.PendingCases > 2*g.cfg.MaxPendingCases:
		return LevelCritical
	case s.PendingCases > g.cfg.MaxPendingCases:
		return LevelHigh
	case len(s.SuspiciousPatterns) > 0:
		return LevelMedium
	case float64(s.MessagesLastHour) > lowVolumeFactor*float64(g.cfg.MaxEmailsPerHour):
		return LevelLow
	default:
		return LevelNormal
	}
}

func (g *Guardian) collect(ctx context.Context, now time.Time) Snapshot {
	var s Snapshot
	perSender := map[string]int{}

	if g.volume != nil {
		v, err := g.volume.Stats(ctx, now)
		if err != nil {
			slog.Warn("volume stats unavailable", "error", err)
		} else {
			s.MessagesLastMinute = v.LastMinute
			s.MessagesLastHour = v.LastHour
			for sender, n := range v.PerSender {
				perSender[sender] = n
			}
		}
	}

	cases, err := g.pending.ListPending(ctx)
	if err != nil {
		slog.Warn("pending cases unavailable", "error", err)
	}
	s.PendingCases = len(cases)
	newCases := map[string]int{}
	for _, c := range cases {
		if now.Sub(c.CreatedAt) <= time.Hour {
			if addr := casestore.NormalizeAddress(c.Sender); addr != "" {
				newCases[addr]++
			}
		}
	}

	for sender, n := range perSender {
		if n >= g.cfg.SuspiciousSenderThreshold {
			s.SuspiciousPatterns = append(s.SuspiciousPatterns, fmt.Sprintf("sender %s: %d messages in 1 hour", sender, n))
		}
	}
	for sender, n := range newCases {
		if n >= g.cfg.SuspiciousSenderThreshold {
			s.SuspiciousPatterns = append(s.SuspiciousPatterns, fmt.Sprintf("sender %s: %d new pending cases in 1 hour", sender, n))
		}
	}
	sort.Strings(s.SuspiciousPatterns)
	if s.MessagesLastMinute > g.cfg.MaxEmailsPerMinute {
		s.SuspiciousPatterns = append(s.SuspiciousPatterns, fmt.Sprintf("high volume: %d messages/minute", s.MessagesLastMinute))
	}
	if s.MessagesLastHour > g.cfg.MaxEmailsPerHour {
		s.SuspiciousPatterns = append(s.SuspiciousPatterns, fmt.Sprintf("high volume: %d messages/hour", s.MessagesLastHour))
	}
	if len(perSender) > 0 {
		s.SenderCounts = perSender
	}
	return s
}
