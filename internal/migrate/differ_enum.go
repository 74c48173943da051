package migrate

import (
	"github.com/juju/collections/set"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// EnumDiffer holds the comparison of one matched enum.
type EnumDiffer struct {
	Enums schema.Pair[int]
	db    *differDatabase
}

func newEnumDiffer(db *differDatabase, pair schema.Pair[int]) *EnumDiffer {
	return &EnumDiffer{Enums: pair, db: db}
}

func (e *EnumDiffer) Previous() *schema.Enum { return &e.db.previous().Enums[e.Enums.Previous()] }
func (e *EnumDiffer) Next() *schema.Enum     { return &e.db.next().Enums[e.Enums.Next()] }

// CreatedVariants lists next variants missing from the previous enum, in next order.
func (e *EnumDiffer) CreatedVariants() []string {
	return variantsMissingFrom(e.Next().Variants, set.NewStrings(e.Previous().Variants...))
}

// DroppedVariants lists previous variants missing from the next enum, in previous order.
func (e *EnumDiffer) DroppedVariants() []string {
	return variantsMissingFrom(e.Previous().Variants, set.NewStrings(e.Next().Variants...))
}

func variantsMissingFrom(variants []string, other set.Strings) []string {
	var out []string
	for _, v := range variants {
		if !other.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// PreviousUsagesAsDefault collects every previous column typed by the enum
// that has a literal default. Replacing the enum type invalidates all of
// them, so the list covers defaults on dropped variants and on kept ones.
func (e *EnumDiffer) PreviousUsagesAsDefault() []EnumDefaultUsage {
	prev, next := e.db.previous(), e.db.next()
	enumName := e.Previous().Name
	var usages []EnumDefaultUsage
	for ti := range prev.Tables {
		table := &prev.Tables[ti]
		for ci := range table.Columns {
			col := &table.Columns[ci]
			if !col.IsEnumTyped(enumName) || col.Default == nil || col.Default.Kind != schema.DefaultLiteral {
				continue
			}
			usage := EnumDefaultUsage{Previous: ColumnRef{Table: ti, Column: ci}}
			if nt, ok := e.db.nextTableForPrevious(ti); ok {
				if nc := e.db.nextColumnFor(ti, ci); nc >= 0 {
					nextCol := &next.Tables[nt].Columns[nc]
					if nextCol.IsEnumTyped(e.Next().Name) && nextCol.Default != nil {
						usage.Next = &ColumnRef{Table: nt, Column: nc}
					}
				}
			}
			usages = append(usages, usage)
		}
	}
	return usages
}

// nextColumnFor resolves a previous column to its next position, or -1.
func (db *differDatabase) nextColumnFor(prevTable, prevColumn int) int {
	nt, ok := db.nextTableForPrevious(prevTable)
	if !ok {
		return -1
	}
	td := db.tables[schema.NewPair(prevTable, nt)]
	for _, cp := range td.ColumnPairs() {
		if cp.Columns.Previous() == prevColumn {
			return cp.Columns.Next()
		}
	}
	return -1
}
