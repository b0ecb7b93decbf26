package program

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
)

const (
	programCols = `concept, outcomes_concept, ` + base.MetadataColumns
	workflowCols       = `program_id, concept, retired`
	stateCols          = `program_workflow_id, concept, initial, terminal, retired`
	patientProgramCols = `patient_id, program_id, location_id, date_enrolled, date_completed, outcome, ` + base.DataColumns
	patientStateCols   = `patient_program_id, state_id, start_date, end_date, ` + base.DataColumns
)

func upsert(table, cols string) string {
	return `INSERT INTO ` + table + ` (id, ` + cols + `) VALUES (` + db.Placeholders(1, db.ColumnCount(cols)+1) +
		`) ON CONFLICT (id) DO UPDATE SET ` + db.Excluded(cols)
}

type programRepoPG struct {
	db.Retirable[Program]
}

func NewProgramRepoPG(pool *pgxpool.Pool) ProgramRepository {
	return &programRepoPG{db.Retirable[Program]{Table: db.Table[Program]{
		Pool:    pool,
		Name:    "program",
		Entity:  "program",
		Columns: programCols,
		Scan: func(row db.Scanner) (*Program, error) {
			var p Program
			if err := row.Scan(append([]interface{}{&p.ID, &p.Concept, &p.OutcomesConcept}, p.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &p, nil
		},
		Values: func(p *Program) []interface{} {
			return base.Args([]interface{}{p.Concept, p.OutcomesConcept}, p.Metadata.Values())
		},
		ID: func(p *Program) *uuid.UUID { return &p.ID },
	}}}
}

func (r *programRepoPG) Create(ctx context.Context, p *Program) error {
	if err := r.Table.Create(ctx, p); err != nil {
		return err
	}
	return r.saveWorkflows(ctx, p)
}

func (r *programRepoPG) Update(ctx context.Context, p *Program) error {
	if err := r.Table.Update(ctx, p); err != nil {
		return err
	}
	return r.saveWorkflows(ctx, p)
}

// saveWorkflows upserts workflows and states. Workflows are retired, never
// removed, since enrolments reference their states.
func (r *programRepoPG) saveWorkflows(ctx context.Context, p *Program) error {
	for _, w := range p.Workflows {
		if w.ID == uuid.Nil {
			w.ID = uuid.New()
		}
		w.ProgramID = p.ID
		if err := r.Exec(ctx, upsert("program_workflow", workflowCols), w.ID, w.ProgramID, w.Concept, w.Retired); err != nil {
			return db.MapError(err, "programWorkflow", w.ID)
		}
		for _, s := range w.States {
			if s.ID == uuid.Nil {
				s.ID = uuid.New()
			}
			s.WorkflowID = w.ID
			err := r.Exec(ctx, upsert("program_workflow_state", stateCols), s.ID, s.WorkflowID, s.Concept, s.Initial, s.Terminal, s.Retired)
			if err != nil {
				return db.MapError(err, "programWorkflowState", s.ID)
			}
		}
	}
	return nil
}

func (r *programRepoPG) withWorkflows(ctx context.Context, programs []*Program) ([]*Program, error) {
	if len(programs) == 0 {
		return programs, nil
	}
	ids := make([]uuid.UUID, len(programs))
	byID := make(map[uuid.UUID]*Program, len(programs))
	for i, p := range programs {
		ids[i], byID[p.ID] = p.ID, p
		p.Workflows = []*ProgramWorkflow{}
	}
	conn := db.Conn(ctx, r.Pool)
	rows, err := conn.Query(ctx, `SELECT id, `+workflowCols+` FROM program_workflow WHERE program_id = ANY($1) ORDER BY concept`, ids)
	if err != nil {
		return nil, err
	}
	workflows, err := db.Collect(rows, func(row db.Scanner) (*ProgramWorkflow, error) {
		w := ProgramWorkflow{States: []*ProgramWorkflowState{}}
		err := row.Scan(&w.ID, &w.ProgramID, &w.Concept, &w.Retired)
		return &w, err
	})
	if err != nil {
		return nil, err
	}
	wfIDs := make([]uuid.UUID, len(workflows))
	wfByID := make(map[uuid.UUID]*ProgramWorkflow, len(workflows))
	for i, w := range workflows {
		wfIDs[i], wfByID[w.ID] = w.ID, w
		byID[w.ProgramID].Workflows = append(byID[w.ProgramID].Workflows, w)
	}
	rows, err = conn.Query(ctx, `SELECT id, `+stateCols+` FROM program_workflow_state WHERE program_workflow_id = ANY($1) ORDER BY concept`, wfIDs)
	if err != nil {
		return nil, err
	}
	states, err := db.Collect(rows, func(row db.Scanner) (*ProgramWorkflowState, error) {
		var s ProgramWorkflowState
		err := row.Scan(&s.ID, &s.WorkflowID, &s.Concept, &s.Initial, &s.Terminal, &s.Retired)
		return &s, err
	})
	if err != nil {
		return nil, err
	}
	for _, s := range states {
		wfByID[s.WorkflowID].States = append(wfByID[s.WorkflowID].States, s)
	}
	return programs, nil
}

func (r *programRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Program, error) {
	p, err := r.Table.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.withWorkflows(ctx, []*Program{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *programRepoPG) GetByName(ctx context.Context, name string) (*Program, error) {
	p, err := r.Retirable.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if _, err := r.withWorkflows(ctx, []*Program{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *programRepoPG) List(ctx context.Context, includeRetired bool) ([]*Program, error) {
	programs, err := r.Retirable.List(ctx, includeRetired)
	if err != nil {
		return nil, err
	}
	return r.withWorkflows(ctx, programs)
}

type patientProgramRepoPG struct {
	db.Table[PatientProgram]
}

func NewPatientProgramRepoPG(pool *pgxpool.Pool) PatientProgramRepository {
	return &patientProgramRepoPG{db.Table[PatientProgram]{
		Pool:    pool,
		Name:    "patient_program",
		Entity:  "patientProgram",
		Columns: patientProgramCols,
		Scan: func(row db.Scanner) (*PatientProgram, error) {
			var pp PatientProgram
			dest := []interface{}{&pp.ID, &pp.PatientID, &pp.ProgramID, &pp.LocationID, &pp.DateEnrolled, &pp.DateCompleted, &pp.Outcome}
			if err := row.Scan(append(dest, pp.Data.Fields()...)...); err != nil {
				return nil, err
			}
			return &pp, nil
		},
		Values: func(pp *PatientProgram) []interface{} {
			return base.Args([]interface{}{pp.PatientID, pp.ProgramID, pp.LocationID, pp.DateEnrolled, pp.DateCompleted, pp.Outcome}, pp.Data.Values())
		},
		ID: func(pp *PatientProgram) *uuid.UUID { return &pp.ID },
	}}
}

func (r *patientProgramRepoPG) Create(ctx context.Context, pp *PatientProgram) error {
	if err := r.Table.Create(ctx, pp); err != nil {
		return err
	}
	return r.saveStates(ctx, pp)
}

func (r *patientProgramRepoPG) Update(ctx context.Context, pp *PatientProgram) error {
	if err := r.Table.Update(ctx, pp); err != nil {
		return err
	}
	return r.saveStates(ctx, pp)
}

func (r *patientProgramRepoPG) saveStates(ctx context.Context, pp *PatientProgram) error {
	sql := upsert("patient_state", patientStateCols)
	for _, s := range pp.States {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.PatientProgramID = pp.ID
		args := base.Args([]interface{}{s.ID, s.PatientProgramID, s.StateID, s.StartDate, s.EndDate}, s.Data.Values())
		if err := r.Exec(ctx, sql, args...); err != nil {
			return db.MapError(err, "patientState", s.ID)
		}
	}
	return nil
}

func (r *patientProgramRepoPG) withStates(ctx context.Context, list []*PatientProgram) ([]*PatientProgram, error) {
	if len(list) == 0 {
		return list, nil
	}
	ids := make([]uuid.UUID, len(list))
	byID := make(map[uuid.UUID]*PatientProgram, len(list))
	for i, pp := range list {
		ids[i], byID[pp.ID] = pp.ID, pp
		pp.States = []*PatientState{}
	}
	rows, err := db.Conn(ctx, r.Pool).Query(ctx,
		`SELECT id, `+patientStateCols+` FROM patient_state WHERE patient_program_id = ANY($1) ORDER BY start_date, date_created`, ids)
	if err != nil {
		return nil, err
	}
	states, err := db.Collect(rows, func(row db.Scanner) (*PatientState, error) {
		var s PatientState
		if err := row.Scan(append([]interface{}{&s.ID, &s.PatientProgramID, &s.StateID, &s.StartDate, &s.EndDate}, s.Data.Fields()...)...); err != nil {
			return nil, err
		}
		return &s, nil
	})
	if err != nil {
		return nil, err
	}
	for _, s := range states {
		byID[s.PatientProgramID].States = append(byID[s.PatientProgramID].States, s)
	}
	return list, nil
}

func (r *patientProgramRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientProgram, error) {
	pp, err := r.Table.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.withStates(ctx, []*PatientProgram{pp}); err != nil {
		return nil, err
	}
	return pp, nil
}

func (r *patientProgramRepoPG) Search(ctx context.Context, c Criteria) ([]*PatientProgram, error) {
	var w db.Where
	if c.PatientID != nil {
		w.Add("patient_id = ?", *c.PatientID)
	}
	if len(c.ProgramIDs) > 0 {
		w.Add("program_id = ANY(?)", c.ProgramIDs)
	}
	if c.EnrolledOnOrAfter != nil {
		w.Add("date_enrolled >= ?", *c.EnrolledOnOrAfter)
	}
	if c.EnrolledOnOrBefore != nil {
		w.Add("date_enrolled <= ?", *c.EnrolledOnOrBefore)
	}
	if c.ActiveOn != nil {
		w.Add("date_enrolled <= ?", *c.ActiveOn)
		w.Add("(date_completed IS NULL OR date_completed > ?)", *c.ActiveOn)
	}
	if !c.IncludeVoided {
		w.Add("NOT voided")
	}
	list, err := r.Select(ctx, &w, `ORDER BY date_enrolled, id`)
	if err != nil {
		return nil, err
	}
	return r.withStates(ctx, list)
}

func (r *patientProgramRepoPG) VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error {
	err := r.Exec(ctx, `UPDATE patient_state SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE NOT voided AND patient_program_id IN (SELECT id FROM patient_program WHERE patient_id = $1 AND NOT voided)`,
		patientID, user, at, reason)
	if err != nil {
		return err
	}
	return r.Exec(ctx, `UPDATE patient_program SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE patient_id = $1 AND NOT voided`, patientID, user, at, reason)
}

func (r *patientProgramRepoPG) UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error {
	err := r.Exec(ctx, `UPDATE patient_state SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE voided AND date_voided = $2 AND patient_program_id IN (SELECT id FROM patient_program WHERE patient_id = $1)`,
		patientID, voidedAt)
	if err != nil {
		return err
	}
	return r.Exec(ctx, `UPDATE patient_program SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE patient_id = $1 AND voided AND date_voided = $2`, patientID, voidedAt)
}

func (r *patientProgramRepoPG) ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error {
	return r.Exec(ctx, `UPDATE patient_program SET patient_id = $1 WHERE patient_id = $2`, winner, loser)
}
