package migrate

import (
	"fmt"
	"strings"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// RebuildStrategy renders the redefinition of tables whose changes cannot be
// applied in place.
type RebuildStrategy interface {
	Render(f Flavour, step *RedefineTables, schemas schema.Pair[*schema.Snapshot]) []string
}

// ShadowTableRebuild builds each table under a shadow name, copies the rows
// over, drops the original and renames the shadow into place.
type ShadowTableRebuild struct {
	ShadowPrefix string
	Prologue     []string
	Epilogue     []string
	// AroundCopy returns statements wrapping the row copy, e.g. to allow
	// explicit values in identity columns.
	AroundCopy func(f Flavour, shadow *schema.Table) (before, after []string)
	// AfterRename returns statements that restore names derived from the
	// shadow table, such as constraint names.
	AfterRename func(f Flavour, shadow, final *schema.Table) []string
}

// Render emits, in order: the prologue, the drops of foreign keys pointing
// at a rebuilt table, one shadow copy per table, the foreign keys of the
// rebuilt tables and the re-added referencing keys, then the epilogue.
// Foreign keys are only handled on flavours that can alter them; the others
// declare them inside CREATE TABLE.
func (r *ShadowTableRebuild) Render(f Flavour, step *RedefineTables, schemas schema.Pair[*schema.Snapshot]) []string {
	prevSnap, nextSnap := schemas.Previous(), schemas.Next()
	caps := f.Capabilities()
	stmts := append([]string(nil), r.Prologue...)

	if caps.AlterForeignKeys {
		rebuilt := func(name string) bool {
			for _, rt := range step.Tables {
				if schema.NamesEqual(prevSnap.Tables[rt.Table.Previous()].Name, name, caps.CaseSensitiveIdentifiers) {
					return true
				}
			}
			return false
		}
		for _, rt := range step.Tables {
			prev := &prevSnap.Tables[rt.Table.Previous()]
			for i := range prev.ForeignKeys {
				if rebuilt(prev.ForeignKeys[i].ReferencedTable) {
					stmts = append(stmts, f.RenderDropForeignKey(prev, &prev.ForeignKeys[i]))
				}
			}
		}
		for _, ref := range step.ReferencingForeignKeys {
			t := &prevSnap.Tables[ref.Table.Previous()]
			stmts = append(stmts, f.RenderDropForeignKey(t, &t.ForeignKeys[ref.ForeignKey.Previous()]))
		}
	}

	for _, rt := range step.Tables {
		prev := &prevSnap.Tables[rt.Table.Previous()]
		next := &nextSnap.Tables[rt.Table.Next()]
		shadow := r.shadowTable(next)

		stmts = append(stmts, f.RenderCreateTable(shadow, nextSnap))
		if copyStmt := r.copyStatement(f, rt, prev, shadow, nextSnap); copyStmt != "" {
			var before, after []string
			if r.AroundCopy != nil {
				before, after = r.AroundCopy(f, shadow)
			}
			stmts = append(stmts, before...)
			stmts = append(stmts, copyStmt)
			stmts = append(stmts, after...)
		}
		stmts = append(stmts, "DROP TABLE "+f.Quote(prev.Name))
		stmts = append(stmts, f.RenderRenameTable(shadow.Name, next.Name))
		if r.AfterRename != nil {
			stmts = append(stmts, r.AfterRename(f, shadow, next)...)
		}
		for i := range next.Indexes {
			stmts = append(stmts, f.RenderCreateIndex(next, &next.Indexes[i]))
		}
	}

	if caps.AlterForeignKeys {
		for _, rt := range step.Tables {
			next := &nextSnap.Tables[rt.Table.Next()]
			for i := range next.ForeignKeys {
				stmts = append(stmts, f.RenderAddForeignKey(next, &next.ForeignKeys[i]))
			}
		}
		for _, ref := range step.ReferencingForeignKeys {
			t := &nextSnap.Tables[ref.Table.Next()]
			stmts = append(stmts, f.RenderAddForeignKey(t, &t.ForeignKeys[ref.ForeignKey.Next()]))
		}
	}
	return append(stmts, r.Epilogue...)
}

// shadowTable copies the next table under the shadow name. Constraint names
// are derived from the shadow name so they cannot clash with the original.
func (r *ShadowTableRebuild) shadowTable(next *schema.Table) *schema.Table {
	shadow := *next
	shadow.Name = r.ShadowPrefix + next.Name
	shadow.Indexes = nil
	if next.PrimaryKey != nil {
		pk := *next.PrimaryKey
		pk.ConstraintName = ""
		shadow.PrimaryKey = &pk
	}
	return &shadow
}

// copyStatement renders INSERT INTO shadow SELECT ... FROM original for the
// columns present on both sides.
func (r *ShadowTableRebuild) copyStatement(f Flavour, rt RedefineTable, prev, shadow *schema.Table, nextSnap *schema.Snapshot) string {
	if len(rt.ColumnPairs) == 0 {
		return ""
	}
	targets := make([]string, 0, len(rt.ColumnPairs))
	exprs := make([]string, 0, len(rt.ColumnPairs))
	for _, cp := range rt.ColumnPairs {
		pc := &prev.Columns[cp.Columns.Previous()]
		nc := &shadow.Columns[cp.Columns.Next()]
		targets = append(targets, f.Quote(nc.Name))
		exprs = append(exprs, copyExpression(f, cp, pc, nc, nextSnap))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		f.Quote(shadow.Name), strings.Join(targets, ", "), strings.Join(exprs, ", "), f.Quote(prev.Name))
}

// copyExpression converts one previous value for the shadow column.
func copyExpression(f Flavour, cp RedefinedColumn, prev, next *schema.Column, nextSnap *schema.Snapshot) string {
	expr := f.Quote(prev.Name)
	if cp.Changes.Has(ChangeType) {
		expr = fmt.Sprintf("CAST(%s AS %s)", expr, f.RenderColumnType(next, nextSnap))
	}
	if cp.Changes.Has(ChangeArity) && next.IsRequired() && next.Default != nil && next.Default.Kind == schema.DefaultLiteral {
		expr = fmt.Sprintf("COALESCE(%s, %s)", expr, renderLiteral(f, next, next.Default.Value))
	}
	return expr
}
