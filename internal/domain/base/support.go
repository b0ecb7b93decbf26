package base

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/emr/internal/platform/metrics"
)

// Support carries the collaborators every domain service shares. Services
// embed it; the composition root calls the setters.
type Support struct {
	tx       TxRunner
	rec      metrics.Recorder
	logger   zerolog.Logger
	cascades []Cascade
	merges   []MergeHook
}

func (s *Support) SetTxRunner(tx TxRunner)          { s.tx = tx }
func (s *Support) SetRecorder(rec metrics.Recorder) { s.rec = rec }
func (s *Support) SetLogger(logger zerolog.Logger)  { s.logger = logger }
func (s *Support) AddCascade(c Cascade)             { s.cascades = append(s.cascades, c) }
func (s *Support) AddMergeHook(h MergeHook)         { s.merges = append(s.merges, h) }

// Log returns the service logger (disabled until SetLogger is called).
func (s *Support) Log() *zerolog.Logger { return &s.logger }

// Record counts one domain operation.
func (s *Support) Record(entity, operation string) {
	if s.rec != nil {
		s.rec.Operation(entity, operation)
	}
}

// InTx runs fn atomically when a transaction runner is configured.
func (s *Support) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInTx(ctx, s.tx, fn)
}

// VoidDependents runs every registered cascade for ownerID.
func (s *Support) VoidDependents(ctx context.Context, ownerID uuid.UUID, user, reason string, at time.Time) error {
	for _, c := range s.cascades {
		if c.Void == nil {
			continue
		}
		if err := c.Void(ctx, ownerID, user, reason, at); err != nil {
			return fmt.Errorf("void %s: %w", c.Name, err)
		}
		s.logger.Debug().Str("cascade", c.Name).Stringer("owner", ownerID).Msg("voided dependents")
	}
	return nil
}

// UnvoidDependents reverses VoidDependents for rows voided at voidedAt.
func (s *Support) UnvoidDependents(ctx context.Context, ownerID uuid.UUID, voidedAt time.Time) error {
	for _, c := range s.cascades {
		if c.Unvoid == nil {
			continue
		}
		if err := c.Unvoid(ctx, ownerID, voidedAt); err != nil {
			return fmt.Errorf("unvoid %s: %w", c.Name, err)
		}
	}
	return nil
}

// MergeHooks returns the names of the registered merge hooks.
func (s *Support) MergeHooks() []string {
	names := make([]string, len(s.merges))
	for i, h := range s.merges {
		names[i] = h.Name
	}
	return names
}

// RunMergeHooks re-points dependent records from loser to winner.
func (s *Support) RunMergeHooks(ctx context.Context, winner, loser uuid.UUID) error {
	for _, h := range s.merges {
		if err := h.Merge(ctx, winner, loser); err != nil {
			return fmt.Errorf("merge %s: %w", h.Name, err)
		}
		s.logger.Info().Str("hook", h.Name).Stringer("winner", winner).Stringer("loser", loser).Msg("merged dependents")
	}
	return nil
}
