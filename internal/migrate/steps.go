package migrate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// StepKind is the stable textual tag of a migration step.
type StepKind string

const (
	KindDropView            StepKind = "DropView"
	KindDropUserDefinedType StepKind = "DropUserDefinedType"
	KindCreateEnum          StepKind = "CreateEnum"
	KindAlterEnum           StepKind = "AlterEnum"
	KindDropForeignKey      StepKind = "DropForeignKey"
	KindDropIndex           StepKind = "DropIndex"
	KindAlterTable          StepKind = "AlterTable"
	KindDropTable           StepKind = "DropTable"
	KindDropEnum            StepKind = "DropEnum"
	KindCreateTable         StepKind = "CreateTable"
	KindRedefineTables      StepKind = "RedefineTables"
	KindCreateIndex         StepKind = "CreateIndex"
	KindAddForeignKey       StepKind = "AddForeignKey"
	KindAlterIndex          StepKind = "AlterIndex"
	KindRedefineIndex       StepKind = "RedefineIndex"
)

// stepPriority is the category precedence of the plan. Lower runs first.
var stepPriority = map[StepKind]int{
	KindDropView:            0,
	KindDropUserDefinedType: 1,
	KindCreateEnum:          2,
	KindAlterEnum:           3,
	KindDropForeignKey:      4,
	KindDropIndex:           5,
	KindAlterTable:          6,
	KindDropTable:           7,
	KindDropEnum:            8,
	KindCreateTable:         9,
	KindRedefineTables:      10,
	KindCreateIndex:         11,
	KindAddForeignKey:       12,
	KindAlterIndex:          13,
	KindRedefineIndex:       14,
}

// Priority returns the precedence of the kind in a plan.
func (k StepKind) Priority() int {
	p, ok := stepPriority[k]
	if !ok {
		return len(stepPriority)
	}
	return p
}

// sortSteps orders steps by category, keeping generation order within a category.
func sortSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Kind().Priority() < steps[j].Kind().Priority()
	})
}

// Step is one unit of a migration plan. Steps reference entities by their
// position in the previous or next snapshot.
type Step interface {
	Kind() StepKind
}

type DropView struct{ ViewIndex int }

type DropUserDefinedType struct{ TypeIndex int }

type CreateEnum struct{ EnumIndex int }

type DropEnum struct{ EnumIndex int }

// ColumnRef locates a column inside one snapshot.
type ColumnRef struct {
	Table  int
	Column int
}

// EnumDefaultUsage is a previous column default typed by an altered enum.
// Next is set when the column still exists and carries a default afterwards.
type EnumDefaultUsage struct {
	Previous ColumnRef
	Next     *ColumnRef
}

type AlterEnum struct {
	Index                   schema.Pair[int]
	CreatedVariants         []string
	DroppedVariants         []string
	PreviousUsagesAsDefault []EnumDefaultUsage
}

// DropForeignKey references a foreign key of a previous table.
type DropForeignKey struct {
	TableIndex      int
	ForeignKeyIndex int
}

// DropIndex references an index of a previous table.
type DropIndex struct {
	TableIndex int
	IndexIndex int
}

type AlterTable struct {
	Table   schema.Pair[int]
	Changes []TableChange
}

type DropTable struct{ TableIndex int }

type CreateTable struct{ TableIndex int }

type RedefineTables struct {
	Tables []RedefineTable
	// ReferencingForeignKeys are unchanged keys of tables altered in place
	// that point at a rebuilt table. They are dropped before the rebuild and
	// added back once every table is in place.
	ReferencingForeignKeys []ReferencingForeignKey
}

// ReferencingForeignKey locates one foreign key on both sides.
type ReferencingForeignKey struct {
	Table      schema.Pair[int]
	ForeignKey schema.Pair[int]
}

// RedefineTable carries everything needed to rebuild one table through a
// shadow copy.
type RedefineTable struct {
	Table             schema.Pair[int]
	AddedColumns      []int
	DroppedColumns    []int
	DroppedPrimaryKey bool
	ColumnPairs       []RedefinedColumn
}

type RedefinedColumn struct {
	Columns    schema.Pair[int]
	Changes    ColumnChanges
	TypeChange ColumnTypeChange
}

// CreateIndex references an index of a next table.
type CreateIndex struct {
	TableIndex          int
	IndexIndex          int
	CausedByCreateTable bool
}

// AddForeignKey references a foreign key of a next table.
type AddForeignKey struct {
	TableIndex      int
	ForeignKeyIndex int
}

// AlterIndex renames an index in place.
type AlterIndex struct {
	Table schema.Pair[int]
	Index schema.Pair[int]
}

// RedefineIndex drops the previous index and creates the next one.
type RedefineIndex struct {
	Table schema.Pair[int]
	Index schema.Pair[int]
}

func (DropView) Kind() StepKind            { return KindDropView }
func (DropUserDefinedType) Kind() StepKind { return KindDropUserDefinedType }
func (CreateEnum) Kind() StepKind          { return KindCreateEnum }
func (AlterEnum) Kind() StepKind           { return KindAlterEnum }
func (DropForeignKey) Kind() StepKind      { return KindDropForeignKey }
func (DropIndex) Kind() StepKind           { return KindDropIndex }
func (AlterTable) Kind() StepKind          { return KindAlterTable }
func (DropTable) Kind() StepKind           { return KindDropTable }
func (DropEnum) Kind() StepKind            { return KindDropEnum }
func (CreateTable) Kind() StepKind         { return KindCreateTable }
func (RedefineTables) Kind() StepKind      { return KindRedefineTables }
func (CreateIndex) Kind() StepKind         { return KindCreateIndex }
func (AddForeignKey) Kind() StepKind       { return KindAddForeignKey }
func (AlterIndex) Kind() StepKind          { return KindAlterIndex }
func (RedefineIndex) Kind() StepKind       { return KindRedefineIndex }

// TableChange is one in-place change of an AlterTable step.
type TableChange interface {
	tableChange()
}

type AddColumn struct{ ColumnIndex int }

type DropColumn struct{ ColumnIndex int }

type AlterColumn struct {
	Columns    schema.Pair[int]
	Changes    ColumnChanges
	TypeChange ColumnTypeChange
}

type DropAndRecreateColumn struct {
	Columns schema.Pair[int]
	Changes ColumnChanges
}

type DropPrimaryKey struct{}

type AddPrimaryKey struct{}

func (AddColumn) tableChange()             {}
func (DropColumn) tableChange()            {}
func (AlterColumn) tableChange()           {}
func (DropAndRecreateColumn) tableChange() {}
func (DropPrimaryKey) tableChange()        {}
func (AddPrimaryKey) tableChange()         {}

// Migration is an ordered plan between two snapshots.
type Migration struct {
	Schemas schema.Pair[*schema.Snapshot]
	Steps   []Step
}

// IsEmpty reports whether the plan has nothing to do.
func (m *Migration) IsEmpty() bool { return len(m.Steps) == 0 }

// KindTags lists the kind tag of every step in plan order.
func (m *Migration) KindTags() []string {
	tags := make([]string, len(m.Steps))
	for i, s := range m.Steps {
		tags[i] = string(s.Kind())
	}
	return tags
}

func (m *Migration) previous() *schema.Snapshot { return m.Schemas.Previous() }
func (m *Migration) next() *schema.Snapshot     { return m.Schemas.Next() }

// Describe returns a one-line human readable summary of a step.
func (m *Migration) Describe(i int) string {
	prev, next := m.previous(), m.next()
	switch s := m.Steps[i].(type) {
	case DropView:
		return fmt.Sprintf("Drop view `%s`", prev.Views[s.ViewIndex].Name)
	case DropUserDefinedType:
		return fmt.Sprintf("Drop type `%s`", prev.UserDefinedTypes[s.TypeIndex].Name)
	case CreateEnum:
		return fmt.Sprintf("Create enum `%s`", next.Enums[s.EnumIndex].Name)
	case DropEnum:
		return fmt.Sprintf("Drop enum `%s`", prev.Enums[s.EnumIndex].Name)
	case AlterEnum:
		var parts []string
		if len(s.CreatedVariants) > 0 {
			parts = append(parts, "add "+strings.Join(s.CreatedVariants, ", "))
		}
		if len(s.DroppedVariants) > 0 {
			parts = append(parts, "remove "+strings.Join(s.DroppedVariants, ", "))
		}
		return fmt.Sprintf("Alter enum `%s` (%s)", next.Enums[s.Index.Next()].Name, strings.Join(parts, "; "))
	case DropForeignKey:
		t := &prev.Tables[s.TableIndex]
		return fmt.Sprintf("Drop foreign key on `%s` (%s)", t.Name, strings.Join(t.ForeignKeys[s.ForeignKeyIndex].Columns, ", "))
	case DropIndex:
		t := &prev.Tables[s.TableIndex]
		return fmt.Sprintf("Drop index `%s` on `%s`", t.Indexes[s.IndexIndex].Name, t.Name)
	case AlterTable:
		return fmt.Sprintf("Alter table `%s` (%d changes)", next.Tables[s.Table.Next()].Name, len(s.Changes))
	case DropTable:
		return fmt.Sprintf("Drop table `%s`", prev.Tables[s.TableIndex].Name)
	case CreateTable:
		return fmt.Sprintf("Create table `%s`", next.Tables[s.TableIndex].Name)
	case RedefineTables:
		names := make([]string, len(s.Tables))
		for n, rt := range s.Tables {
			names[n] = "`" + next.Tables[rt.Table.Next()].Name + "`"
		}
		return fmt.Sprintf("Redefine tables %s", strings.Join(names, ", "))
	case CreateIndex:
		t := &next.Tables[s.TableIndex]
		return fmt.Sprintf("Create index `%s` on `%s`", t.Indexes[s.IndexIndex].Name, t.Name)
	case AddForeignKey:
		t := &next.Tables[s.TableIndex]
		fk := &t.ForeignKeys[s.ForeignKeyIndex]
		return fmt.Sprintf("Add foreign key on `%s` (%s) referencing `%s`", t.Name, strings.Join(fk.Columns, ", "), fk.ReferencedTable)
	case AlterIndex:
		return fmt.Sprintf("Rename index `%s` to `%s`",
			prev.Tables[s.Table.Previous()].Indexes[s.Index.Previous()].Name,
			next.Tables[s.Table.Next()].Indexes[s.Index.Next()].Name)
	case RedefineIndex:
		return fmt.Sprintf("Redefine index `%s`", next.Tables[s.Table.Next()].Indexes[s.Index.Next()].Name)
	default:
		return string(m.Steps[i].Kind())
	}
}
