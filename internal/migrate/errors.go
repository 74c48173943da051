package migrate

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedMigration is wrapped by PlanningDegeneracyError.
	ErrUnsupportedMigration = errors.New("unsupported migration on this dialect")
	// ErrUnexecutable is returned when a destructive check found a step that
	// cannot succeed against the current data. Force does not override it.
	ErrUnexecutable = errors.New("migration contains unexecutable steps")
)

// StructuralDiffError reports an invariant violation found while diffing
// well-formed snapshots.
type StructuralDiffError struct {
	Entity string
	Reason string
}

func (e *StructuralDiffError) Error() string {
	return fmt.Sprintf("structural diff error on %s: %s", e.Entity, e.Reason)
}

// PlanningDegeneracyError is returned when a table needs a rebuild and the
// dialect has no rebuild strategy.
type PlanningDegeneracyError struct {
	Dialect string
	Table   string
	Reason  string
}

func (e *PlanningDegeneracyError) Error() string {
	return fmt.Sprintf("%s (dialect %s, table '%s'): %s", ErrUnsupportedMigration, e.Dialect, e.Table, e.Reason)
}

func (e *PlanningDegeneracyError) Unwrap() error { return ErrUnsupportedMigration }

// ApplyError wraps the database error that stopped a migration.
type ApplyError struct {
	StepIndex      int
	StatementIndex int
	Statement      string
	// AppliedSteps counts the steps that completed before the failure. On
	// transactional dialects they were rolled back.
	AppliedSteps int
	// PartiallyApplied is true when the database was left between the two
	// schemas because earlier statements were committed.
	PartiallyApplied bool
	// RolledBack is true when the statements ran inside a transaction that
	// was rolled back.
	RolledBack bool
	// Code is the driver error code (SQLSTATE or vendor number) when known.
	Code string
	Err  error
}

func (e *ApplyError) Error() string {
	state := "nothing applied"
	switch {
	case e.PartiallyApplied:
		state = "schema partially migrated"
	case e.RolledBack:
		state = "rolled back"
	}
	code := ""
	if e.Code != "" {
		code = fmt.Sprintf(" [%s]", e.Code)
	}
	return fmt.Sprintf("step %d statement %d failed%s (%s, %d steps applied): [%s]: %v",
		e.StepIndex, e.StatementIndex, code, state, e.AppliedSteps, e.Statement, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }
