//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/ehr/emr/internal/domain/patient"
	"github.com/ehr/emr/internal/platform/apierr"
)

func TestPatientLifecycle(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	t.Run("create and read back", func(t *testing.T) {
		p := s.createPatient(t, "Grace", "Hopper")
		got, err := s.patients.GetPatient(ctx, p.ID)
		if err != nil {
			t.Fatalf("get patient: %v", err)
		}
		if len(got.Names) != 1 || got.Names[0].FamilyName != "Hopper" {
			t.Errorf("unexpected names: %+v", got.Names)
		}
		if len(got.Identifiers) != 1 || got.Identifiers[0].PatientID != p.ID {
			t.Errorf("unexpected identifiers: %+v", got.Identifiers)
		}
		if got.Creator == "" || got.DateCreated.IsZero() {
			t.Errorf("audit fields not stamped: %+v", got.Data)
		}
	})

	t.Run("find by identifier", func(t *testing.T) {
		p := s.createPatient(t, "Katherine", "Johnson")
		found, err := s.patients.GetPatientsByIdentifier(ctx, p.Identifiers[0].Identifier, nil, true)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(found) != 1 || found[0].ID != p.ID {
			t.Errorf("expected exactly the new patient, got %d", len(found))
		}
		n, err := s.patients.GetCountOfPatients(ctx, patient.Query{Text: p.Identifiers[0].Identifier})
		if err != nil || n != 1 {
			t.Errorf("expected a count of 1, got %d (%v)", n, err)
		}
	})

	t.Run("void cascades to encounters", func(t *testing.T) {
		p := s.createPatient(t, "Ada", "Lovelace")
		e := s.createEncounter(t, p.ID)

		voided, err := s.patients.VoidPatient(ctx, p.ID, "entered in error")
		if err != nil {
			t.Fatalf("void patient: %v", err)
		}
		if !voided.Voided || voided.VoidReason == nil || *voided.VoidReason != "entered in error" {
			t.Errorf("patient not voided: %+v", voided.Data)
		}
		got, err := s.encounters.GetEncounter(ctx, e.ID)
		if err != nil {
			t.Fatalf("get encounter: %v", err)
		}
		if !got.Voided {
			t.Error("expected the encounter to be voided with its patient")
		}
		active, err := s.encounters.GetEncountersByPatient(ctx, p.ID, false)
		if err != nil {
			t.Fatalf("list encounters: %v", err)
		}
		if len(active) != 0 {
			t.Errorf("expected no active encounters, got %d", len(active))
		}
	})

	t.Run("purge refused while referenced", func(t *testing.T) {
		p := s.createPatient(t, "Mary", "Somerville")
		s.createEncounter(t, p.ID)

		err := s.patients.PurgePatient(ctx, p.ID)
		if !errors.Is(err, apierr.ErrConflict) {
			t.Fatalf("expected a conflict, got %v", err)
		}
		if _, err := s.patients.GetPatient(ctx, p.ID); err != nil {
			t.Errorf("patient should survive a failed purge: %v", err)
		}
	})

	t.Run("purge unreferenced patient", func(t *testing.T) {
		p := s.createPatient(t, "Emmy", "Noether")
		if err := s.patients.PurgePatient(ctx, p.ID); err != nil {
			t.Fatalf("purge: %v", err)
		}
		if _, err := s.patients.GetPatient(ctx, p.ID); !errors.Is(err, apierr.ErrNotFound) {
			t.Errorf("expected not found after purge, got %v", err)
		}
	})
}

func TestMergePatients(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	winner := s.createPatient(t, "Rosalind", "Franklin")
	loser := s.createPatient(t, "Rosalind", "Franklyn")
	e := s.createEncounter(t, loser.ID)

	log, err := s.patients.MergePatients(ctx, winner.ID, loser.ID)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if log.WinnerID != winner.ID || log.LoserID != loser.ID || log.SerializedMergedData == "" {
		t.Errorf("unexpected merge log: %+v", log)
	}

	moved, err := s.encounters.GetEncounter(ctx, e.ID)
	if err != nil {
		t.Fatalf("get encounter: %v", err)
	}
	if moved.PatientID != winner.ID {
		t.Errorf("expected the encounter to move to the winner, got %s", moved.PatientID)
	}

	got, err := s.patients.GetPatient(ctx, loser.ID)
	if err != nil {
		t.Fatalf("get loser: %v", err)
	}
	if !got.Voided {
		t.Error("expected the losing patient to be voided")
	}

	logs, err := s.patients.GetMergeLogsByWinner(ctx, winner.ID)
	if err != nil || len(logs) != 1 {
		t.Errorf("expected one merge log for the winner, got %d (%v)", len(logs), err)
	}
}
