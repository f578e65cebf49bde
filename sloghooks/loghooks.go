// Package sloghooks reports obs.Hooks events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/offsync/obs"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SyncDroppedEvery   uint64
	CorruptRecordEvery uint64
	StaleWriteEvery    uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	// Request IDs are never redacted.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	droppedCtr atomic.Uint64
	corruptCtr atomic.Uint64
	staleCtr   atomic.Uint64
}

var _ obs.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SyncDropped(namespace, op string, err error) {
	if h.l == nil || !sample(h.opts.SyncDroppedEvery, &h.droppedCtr) {
		return
	}
	h.l.Warn("offsync.sync_dropped",
		"ns", namespace,
		"op", op,
		"err", err)
}

func (h *Hooks) ProtocolMismatch(reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("offsync.protocol_mismatch",
		"reason", reason)
}

func (h *Hooks) CorruptRecord(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.CorruptRecordEvery, &h.corruptCtr) {
		return
	}
	h.l.Warn("offsync.corrupt_record",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) StaleWriteSkipped(storageKey string, stored, incoming uint64) {
	if h.l == nil || !sample(h.opts.StaleWriteEvery, &h.staleCtr) {
		return
	}
	h.l.Debug("offsync.stale_write_skipped",
		"key", h.redact(storageKey),
		"stored", stored,
		"incoming", incoming)
}

func (h *Hooks) ReplayExhausted(requestID string, age time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Error("offsync.replay_exhausted",
		"id", requestID,
		"age", age)
}

func (h *Hooks) ReplayHalted(requestID string, pending int, err error) {
	if h.l == nil {
		return
	}
	h.l.Info("offsync.replay_halted",
		"id", requestID,
		"pending", pending,
		"err", err)
}
