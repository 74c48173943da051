package migrate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// DatabaseInspector answers the data questions the checker asks about the
// database in its previous state.
type DatabaseInspector interface {
	CountRows(ctx context.Context, table string) (int64, error)
	CountNonNullValues(ctx context.Context, table, column string) (int64, error)
}

// Finding is one message attached to a plan step.
type Finding struct {
	StepIndex int
	Message   string
}

// DestructiveCheckResult holds warnings, which need force to proceed, and
// unexecutable findings, which block the migration.
type DestructiveCheckResult struct {
	Warnings     []Finding
	Unexecutable []Finding
}

// HasWarnings reports whether any warning is pending.
func (r *DestructiveCheckResult) HasWarnings() bool { return len(r.Warnings) > 0 }

// HasUnexecutable reports whether the migration cannot run against the data.
func (r *DestructiveCheckResult) HasUnexecutable() bool { return len(r.Unexecutable) > 0 }

// DestructiveChangeChecker evaluates the data risk of a plan.
type DestructiveChangeChecker struct {
	flavour   Flavour
	inspector DatabaseInspector
	logger    *zap.Logger
}

// NewDestructiveChangeChecker returns a checker. A nil inspector makes every
// data-dependent check fall back to its conservative message.
func NewDestructiveChangeChecker(flavour Flavour, inspector DatabaseInspector, logger *zap.Logger) *DestructiveChangeChecker {
	return &DestructiveChangeChecker{
		flavour:   flavour,
		inspector: inspector,
		logger:    logger.Named("checker"),
	}
}

type columnKey struct{ table, column string }

// inspectionResults holds the answers of one batch of inspection queries.
// A missing entry means the value is unknown.
type inspectionResults struct {
	rowCounts map[string]int64
	nonNull   map[columnKey]int64
}

func (r *inspectionResults) rowCount(table string) (int64, bool) {
	n, ok := r.rowCounts[table]
	return n, ok
}

func (r *inspectionResults) nonNullCount(table, column string) (int64, bool) {
	n, ok := r.nonNull[columnKey{table, column}]
	return n, ok
}

// check is one data-dependent risk. rowCountTable and existingValues name
// the data it needs; evaluate returns "" when the step is safe.
type check interface {
	rowCountTable() string
	existingValues() (table, column string)
	evaluate(r *inspectionResults) (message string, unexecutable bool)
}

type pendingCheck struct {
	stepIndex int
	check     check
}

// Check collects the checks of every step, runs the inspection queries once
// and resolves each check into a warning, an unexecutable finding or nothing.
// Inspection failures are logged and degrade to conservative messages.
func (c *DestructiveChangeChecker) Check(ctx context.Context, m *Migration) (*DestructiveCheckResult, error) {
	var pending []pendingCheck
	for i, step := range m.Steps {
		for _, ch := range c.stepChecks(step, m.Schemas) {
			pending = append(pending, pendingCheck{stepIndex: i, check: ch})
		}
	}

	results, err := c.inspect(ctx, pending)
	if err != nil {
		return nil, err
	}

	res := &DestructiveCheckResult{}
	for _, p := range pending {
		msg, unexecutable := p.check.evaluate(results)
		switch {
		case msg == "":
		case unexecutable:
			res.Unexecutable = append(res.Unexecutable, Finding{StepIndex: p.stepIndex, Message: msg})
		default:
			res.Warnings = append(res.Warnings, Finding{StepIndex: p.stepIndex, Message: msg})
		}
	}
	c.logger.Info("Destructive change check finished",
		zap.Int("checks", len(pending)),
		zap.Int("warnings", len(res.Warnings)),
		zap.Int("unexecutable", len(res.Unexecutable)))
	return res, nil
}

// inspect deduplicates the data requests and runs them sequentially.
func (c *DestructiveChangeChecker) inspect(ctx context.Context, pending []pendingCheck) (*inspectionResults, error) {
	results := &inspectionResults{
		rowCounts: make(map[string]int64),
		nonNull:   make(map[columnKey]int64),
	}
	if c.inspector == nil {
		if len(pending) > 0 {
			c.logger.Warn("No database inspector available; destructive checks are conservative")
		}
		return results, nil
	}

	var tables []string
	var columns []columnKey
	seenTables := make(map[string]bool)
	seenColumns := make(map[columnKey]bool)
	for _, p := range pending {
		if t := p.check.rowCountTable(); t != "" && !seenTables[t] {
			seenTables[t] = true
			tables = append(tables, t)
		}
		if t, col := p.check.existingValues(); t != "" && !seenColumns[columnKey{t, col}] {
			seenColumns[columnKey{t, col}] = true
			columns = append(columns, columnKey{t, col})
		}
	}

	var errs error
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := c.inspector.CountRows(ctx, t)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("count rows of '%s': %w", t, err))
			continue
		}
		results.rowCounts[t] = n
	}
	for _, k := range columns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := c.inspector.CountNonNullValues(ctx, k.table, k.column)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("count values of '%s.%s': %w", k.table, k.column, err))
			continue
		}
		results.nonNull[k] = n
	}
	if errs != nil {
		c.logger.Warn("Database inspection failed for some checks; using conservative messages",
			zap.Int("failed", len(multierr.Errors(errs))), zap.Error(errs))
	}
	return results, nil
}

func (c *DestructiveChangeChecker) stepChecks(step Step, schemas schema.Pair[*schema.Snapshot]) []check {
	prevSnap, nextSnap := schemas.Previous(), schemas.Next()
	switch s := step.(type) {
	case DropTable:
		return []check{droppedTable{table: prevSnap.Tables[s.TableIndex].Name}}
	case AlterEnum:
		if len(s.DroppedVariants) == 0 {
			return nil
		}
		return []check{droppedEnumVariants{enum: nextSnap.Enums[s.Index.Next()].Name, variants: s.DroppedVariants}}
	case AlterTable:
		return c.alterTableChecks(s, schemas)
	case RedefineTables:
		var checks []check
		for _, rt := range s.Tables {
			checks = append(checks, c.redefineChecks(rt, schemas)...)
		}
		return checks
	case CreateIndex:
		t := &nextSnap.Tables[s.TableIndex]
		idx := &t.Indexes[s.IndexIndex]
		if s.CausedByCreateTable || !idx.IsUnique() {
			return nil
		}
		return []check{uniqueIndexAdded{table: t.Name, columns: idx.ColumnNames()}}
	default:
		return nil
	}
}

func (c *DestructiveChangeChecker) alterTableChecks(s AlterTable, schemas schema.Pair[*schema.Snapshot]) []check {
	prevT := &schemas.Previous().Tables[s.Table.Previous()]
	nextT := &schemas.Next().Tables[s.Table.Next()]
	var checks []check
	for _, change := range s.Changes {
		switch ch := change.(type) {
		case DropPrimaryKey:
			checks = append(checks, primaryKeyDropped{table: prevT.Name})
		case DropColumn:
			checks = append(checks, droppedColumn{table: prevT.Name, column: prevT.Columns[ch.ColumnIndex].Name})
		case AddColumn:
			col := &nextT.Columns[ch.ColumnIndex]
			if col.IsRequired() && !col.HasDefault() {
				checks = append(checks, addedRequiredColumn{table: prevT.Name, column: col.Name})
			}
		case DropAndRecreateColumn:
			prevCol, nextCol := &prevT.Columns[ch.Columns.Previous()], &nextT.Columns[ch.Columns.Next()]
			checks = append(checks, droppedAndRecreatedColumn{
				table:    prevT.Name,
				column:   prevCol.Name,
				required: nextCol.IsRequired() && !nextCol.HasDefault(),
			})
		case AlterColumn:
			checks = append(checks, c.columnChecks(prevT, schema.NewPair(&prevT.Columns[ch.Columns.Previous()], &nextT.Columns[ch.Columns.Next()]), ch.Changes, ch.TypeChange, schemas, false)...)
		}
	}
	return checks
}

func (c *DestructiveChangeChecker) redefineChecks(rt RedefineTable, schemas schema.Pair[*schema.Snapshot]) []check {
	prevT := &schemas.Previous().Tables[rt.Table.Previous()]
	nextT := &schemas.Next().Tables[rt.Table.Next()]
	var checks []check
	if rt.DroppedPrimaryKey {
		checks = append(checks, primaryKeyDropped{table: prevT.Name})
	}
	for _, ci := range rt.DroppedColumns {
		checks = append(checks, droppedColumn{table: prevT.Name, column: prevT.Columns[ci].Name})
	}
	for _, ci := range rt.AddedColumns {
		col := &nextT.Columns[ci]
		if col.IsRequired() && !col.HasDefault() {
			checks = append(checks, addedRequiredColumn{table: prevT.Name, column: col.Name})
		}
	}
	for _, cp := range rt.ColumnPairs {
		cols := schema.NewPair(&prevT.Columns[cp.Columns.Previous()], &nextT.Columns[cp.Columns.Next()])
		checks = append(checks, c.columnChecks(prevT, cols, cp.Changes, cp.TypeChange, schemas, true)...)
	}
	return checks
}

// columnChecks covers arity and type changes of a matched column. In a
// rebuild, NULLs are replaced by a literal default of the next column.
func (c *DestructiveChangeChecker) columnChecks(prevT *schema.Table, cols schema.Pair[*schema.Column], changes ColumnChanges, typeChange ColumnTypeChange, schemas schema.Pair[*schema.Snapshot], rebuild bool) []check {
	prevCol, nextCol := cols.Previous(), cols.Next()
	var checks []check
	if changes.Has(ChangeArity) && nextCol.IsRequired() {
		filled := rebuild && nextCol.Default != nil && nextCol.Default.Kind == schema.DefaultLiteral
		if !filled {
			checks = append(checks, madeColumnRequired{table: prevT.Name, column: prevCol.Name})
		}
	}
	if changes.Has(ChangeType) {
		from := c.flavour.RenderColumnType(prevCol, schemas.Previous())
		to := c.flavour.RenderColumnType(nextCol, schemas.Next())
		switch typeChange {
		case RiskyCast:
			checks = append(checks, riskyCast{table: prevT.Name, column: prevCol.Name, from: from, to: to})
		case NotCastable:
			if rebuild {
				checks = append(checks, riskyCast{table: prevT.Name, column: prevCol.Name, from: from, to: to})
			}
		}
	}
	return checks
}

type droppedTable struct{ table string }

func (d droppedTable) rowCountTable() string          { return d.table }
func (droppedTable) existingValues() (string, string) { return "", "" }

func (d droppedTable) evaluate(r *inspectionResults) (string, bool) {
	n, ok := r.rowCount(d.table)
	switch {
	case !ok:
		return fmt.Sprintf("You are about to drop the `%s` table. If the table is not empty, all the data it contains will be lost.", d.table), false
	case n == 0:
		return "", false
	default:
		return fmt.Sprintf("You are about to drop the `%s` table, which is not empty (%d rows).", d.table, n), false
	}
}

type droppedColumn struct{ table, column string }

func (d droppedColumn) rowCountTable() string            { return d.table }
func (d droppedColumn) existingValues() (string, string) { return d.table, d.column }

func (d droppedColumn) evaluate(r *inspectionResults) (string, bool) {
	if rows, ok := r.rowCount(d.table); ok && rows == 0 {
		return "", false
	}
	n, ok := r.nonNullCount(d.table, d.column)
	switch {
	case !ok:
		return fmt.Sprintf("You are about to drop the column `%s` on the `%s` table. All the data in the column will be lost.", d.column, d.table), false
	case n == 0:
		return "", false
	default:
		return fmt.Sprintf("You are about to drop the column `%s` on the `%s` table, which still contains %d non-null values.", d.column, d.table, n), false
	}
}

type addedRequiredColumn struct{ table, column string }

func (a addedRequiredColumn) rowCountTable() string          { return a.table }
func (addedRequiredColumn) existingValues() (string, string) { return "", "" }

func (a addedRequiredColumn) evaluate(r *inspectionResults) (string, bool) {
	n, ok := r.rowCount(a.table)
	switch {
	case !ok:
		return fmt.Sprintf("Added the required column `%s` to the `%s` table without a default value. This is not possible if the table is not empty.", a.column, a.table), false
	case n == 0:
		return "", false
	default:
		return fmt.Sprintf("Added the required column `%s` to the `%s` table without a default value. There are %d rows in this table, it is not possible to execute this step.", a.column, a.table, n), true
	}
}

type madeColumnRequired struct{ table, column string }

func (m madeColumnRequired) rowCountTable() string            { return m.table }
func (m madeColumnRequired) existingValues() (string, string) { return m.table, m.column }

func (m madeColumnRequired) evaluate(r *inspectionResults) (string, bool) {
	rows, rowsOK := r.rowCount(m.table)
	values, valuesOK := r.nonNullCount(m.table, m.column)
	if !rowsOK || !valuesOK {
		return fmt.Sprintf("Made the column `%s` on table `%s` required. The migration will fail if there are existing NULL values in that column.", m.column, m.table), false
	}
	if nulls := rows - values; nulls > 0 {
		return fmt.Sprintf("Made the column `%s` on table `%s` required, but there are %d existing NULL values.", m.column, m.table, nulls), true
	}
	return "", false
}

type riskyCast struct{ table, column, from, to string }

func (c riskyCast) rowCountTable() string            { return c.table }
func (c riskyCast) existingValues() (string, string) { return c.table, c.column }

func (c riskyCast) evaluate(r *inspectionResults) (string, bool) {
	if rows, ok := r.rowCount(c.table); ok && rows == 0 {
		return "", false
	}
	n, ok := r.nonNullCount(c.table, c.column)
	switch {
	case !ok:
		return fmt.Sprintf("The migration will change the type of the column `%s` on the `%s` table from `%s` to `%s`. If the column contains incompatible data, the migration will fail or the data will be lost.", c.column, c.table, c.from, c.to), false
	case n == 0:
		return "", false
	default:
		return fmt.Sprintf("You are about to alter the column `%s` on the `%s` table, which contains %d non-null values. The data in that column will be cast from `%s` to `%s`.", c.column, c.table, n, c.from, c.to), false
	}
}

type droppedAndRecreatedColumn struct {
	table, column string
	// required is set when the recreated column has no way to fill existing rows.
	required bool
}

func (d droppedAndRecreatedColumn) rowCountTable() string            { return d.table }
func (d droppedAndRecreatedColumn) existingValues() (string, string) { return d.table, d.column }

func (d droppedAndRecreatedColumn) evaluate(r *inspectionResults) (string, bool) {
	rows, rowsOK := r.rowCount(d.table)
	if rowsOK && rows == 0 {
		return "", false
	}
	if d.required && rowsOK {
		return fmt.Sprintf("Changed the type of `%s` on the `%s` table. No cast exists, the column would be dropped and recreated, which cannot be done since the column is required and there is data in the table.", d.column, d.table), true
	}
	n, ok := r.nonNullCount(d.table, d.column)
	switch {
	case !ok:
		return fmt.Sprintf("The `%s` column on the `%s` table would be dropped and recreated. This will lead to data loss if there is data in the column.", d.column, d.table), false
	case n == 0:
		return "", false
	default:
		return fmt.Sprintf("The `%s` column on the `%s` table would be dropped and recreated. This will lead to data loss.", d.column, d.table), false
	}
}

type droppedEnumVariants struct {
	enum     string
	variants []string
}

func (droppedEnumVariants) rowCountTable() string            { return "" }
func (droppedEnumVariants) existingValues() (string, string) { return "", "" }

func (d droppedEnumVariants) evaluate(*inspectionResults) (string, bool) {
	return fmt.Sprintf("The values [%s] on the enum `%s` will be removed. If these variants are still used in the database, this will fail.", strings.Join(d.variants, ","), d.enum), false
}

type primaryKeyDropped struct{ table string }

func (p primaryKeyDropped) rowCountTable() string          { return p.table }
func (primaryKeyDropped) existingValues() (string, string) { return "", "" }

func (p primaryKeyDropped) evaluate(r *inspectionResults) (string, bool) {
	if n, ok := r.rowCount(p.table); ok && n == 0 {
		return "", false
	}
	return fmt.Sprintf("The primary key for the `%s` table will be changed. If it partially fails, the table could be left without primary key constraint.", p.table), false
}

type uniqueIndexAdded struct {
	table   string
	columns []string
}

func (u uniqueIndexAdded) rowCountTable() string          { return u.table }
func (uniqueIndexAdded) existingValues() (string, string) { return "", "" }

func (u uniqueIndexAdded) evaluate(r *inspectionResults) (string, bool) {
	if n, ok := r.rowCount(u.table); ok && n == 0 {
		return "", false
	}
	return fmt.Sprintf("A unique constraint covering the columns `[%s]` on the table `%s` will be added. If there are existing duplicate values, this will fail.", strings.Join(u.columns, ","), u.table), false
}
