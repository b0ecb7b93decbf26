// Package base holds the audit and soft-delete fields shared by every domain
// entity, and the cascade hooks services use to void dependent records.
package base

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/platform/apierr"
)

// Data carries the audit and void fields of clinical data (patients, obs,
// encounters, ...). Voided rows are soft-deleted.
type Data struct {
	Creator     string     `json:"creator"`
	DateCreated time.Time  `json:"date_created"`
	ChangedBy   *string    `json:"changed_by,omitempty"`
	DateChanged *time.Time `json:"date_changed,omitempty"`
	Voided      bool       `json:"voided"`
	VoidedBy    *string    `json:"voided_by,omitempty"`
	DateVoided  *time.Time `json:"date_voided,omitempty"`
	VoidReason  *string    `json:"void_reason,omitempty"`
}

// Metadata carries the audit and retire fields of reference data (types,
// locations, forms, ...). Retired rows stay usable by existing data.
type Metadata struct {
	Name         string     `json:"name" validate:"required,max=255"`
	Description  *string    `json:"description,omitempty"`
	Creator      string     `json:"creator"`
	DateCreated  time.Time  `json:"date_created"`
	ChangedBy    *string    `json:"changed_by,omitempty"`
	DateChanged  *time.Time `json:"date_changed,omitempty"`
	Retired      bool       `json:"retired"`
	RetiredBy    *string    `json:"retired_by,omitempty"`
	DateRetired  *time.Time `json:"date_retired,omitempty"`
	RetireReason *string    `json:"retire_reason,omitempty"`
}

// Now is the clock used for audit stamps. Tests may replace it.
var Now = func() time.Time { return time.Now().UTC() }

// Stamp fills the creator on a new row or the changed fields on an
// existing one.
func (d *Data) Stamp(user string, isNew bool) {
	now := Now()
	if isNew || d.DateCreated.IsZero() {
		d.Creator = user
		d.DateCreated = now
		return
	}
	d.ChangedBy = &user
	d.DateChanged = &now
}

// Preserve copies the creation stamp and void state of the stored row.
// Saves never change either; Void and Unvoid do.
func (d *Data) Preserve(stored Data) {
	d.Creator, d.DateCreated = stored.Creator, stored.DateCreated
	d.Voided, d.VoidedBy, d.DateVoided, d.VoidReason = stored.Voided, stored.VoidedBy, stored.DateVoided, stored.VoidReason
}

// Void marks the row voided. The reason is mandatory.
func (d *Data) Void(user, reason string, at time.Time) error {
	if strings.TrimSpace(reason) == "" {
		return apierr.Invalid("void_reason", "general.voidReason.empty", "a reason is required when voiding")
	}
	d.Voided = true
	d.VoidedBy = &user
	d.DateVoided = &at
	d.VoidReason = &reason
	return nil
}

// Unvoid clears every void field.
func (d *Data) Unvoid() {
	d.Voided = false
	d.VoidedBy = nil
	d.DateVoided = nil
	d.VoidReason = nil
}

// Stamp fills the creator on a new row or the changed fields on an
// existing one.
func (m *Metadata) Stamp(user string, isNew bool) {
	now := Now()
	if isNew || m.DateCreated.IsZero() {
		m.Creator = user
		m.DateCreated = now
		return
	}
	m.ChangedBy = &user
	m.DateChanged = &now
}

// Preserve copies the creation stamp and retire state of the stored row.
func (m *Metadata) Preserve(stored Metadata) {
	m.Creator, m.DateCreated = stored.Creator, stored.DateCreated
	m.Retired, m.RetiredBy, m.DateRetired, m.RetireReason = stored.Retired, stored.RetiredBy, stored.DateRetired, stored.RetireReason
}

// Retire marks the row retired. The reason is mandatory.
func (m *Metadata) Retire(user, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return apierr.Invalid("retire_reason", "general.retireReason.empty", "a reason is required when retiring")
	}
	now := Now()
	m.Retired = true
	m.RetiredBy = &user
	m.DateRetired = &now
	m.RetireReason = &reason
	return nil
}

// Unretire clears every retire field.
func (m *Metadata) Unretire() {
	m.Retired = false
	m.RetiredBy = nil
	m.DateRetired = nil
	m.RetireReason = nil
}

// Cascade voids or unvoids the records owned by another record. Unvoid only
// touches children voided at exactly voidedAt, so rows voided on their own
// before the parent stay voided.
type Cascade struct {
	Name   string
	Void   func(ctx context.Context, ownerID uuid.UUID, user, reason string, at time.Time) error
	Unvoid func(ctx context.Context, ownerID uuid.UUID, voidedAt time.Time) error
}

// MergeHook re-points records from one patient to another during a merge.
type MergeHook struct {
	Name  string
	Merge func(ctx context.Context, winner, loser uuid.UUID) error
}

// TxRunner runs fn atomically. A nil runner runs fn directly.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type afterCommitKey struct{}

type afterCommit struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

// RunInTx runs fn through tx when one is configured. Nested calls join the
// outer one. Functions queued with AfterCommit run once the outermost call
// succeeds and are dropped when it fails.
func RunInTx(ctx context.Context, tx TxRunner, fn func(ctx context.Context) error) error {
	run := func(ctx context.Context) error {
		if tx == nil {
			return fn(ctx)
		}
		return tx.RunInTx(ctx, fn)
	}
	if _, nested := ctx.Value(afterCommitKey{}).(*afterCommit); nested {
		return run(ctx)
	}
	ac := &afterCommit{}
	if err := run(context.WithValue(ctx, afterCommitKey{}, ac)); err != nil {
		return err
	}
	ac.mu.Lock()
	fns := ac.fns
	ac.mu.Unlock()
	for _, f := range fns {
		f(ctx)
	}
	return nil
}

// AfterCommit queues fn until the enclosing RunInTx succeeds; fn gets the
// context the outermost call was given. Outside RunInTx fn runs at once.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	ac, ok := ctx.Value(afterCommitKey{}).(*afterCommit)
	if !ok {
		fn(ctx)
		return
	}
	ac.mu.Lock()
	ac.fns = append(ac.fns, fn)
	ac.mu.Unlock()
}

// CommitPending reports whether ctx is inside RunInTx with AfterCommit work
// queued.
func CommitPending(ctx context.Context) bool {
	ac, ok := ctx.Value(afterCommitKey{}).(*afterCommit)
	if !ok {
		return false
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return len(ac.fns) > 0
}

// StrPtr returns a pointer to s, or nil when s is blank.
func StrPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// StrVal dereferences s, returning "" for nil.
func StrVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
