package migrate

import (
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// ColumnChanges is the set of differences between two versions of a column.
type ColumnChanges uint8

const (
	ChangeRenamed ColumnChanges = 1 << iota
	ChangeArity
	ChangeDefault
	ChangeType
	ChangeSequence
)

var columnChangeNames = []struct {
	change ColumnChanges
	name   string
}{
	{ChangeRenamed, "column was renamed"},
	{ChangeArity, "arity changed"},
	{ChangeDefault, "default changed"},
	{ChangeType, "type changed"},
	{ChangeSequence, "sequence changed"},
}

func (c ColumnChanges) Has(change ColumnChanges) bool { return c&change != 0 }

func (c ColumnChanges) IsEmpty() bool { return c == 0 }

// OnlyRenamed reports a pure rename.
func (c ColumnChanges) OnlyRenamed() bool { return c == ChangeRenamed }

// Names lists the changes in a fixed order.
func (c ColumnChanges) Names() []string {
	var names []string
	for _, n := range columnChangeNames {
		if c.Has(n.change) {
			names = append(names, n.name)
		}
	}
	return names
}

func (c ColumnChanges) String() string { return strings.Join(c.Names(), ", ") }

// ColumnTypeChange classifies how a type change treats existing values.
type ColumnTypeChange int

const (
	NoTypeChange ColumnTypeChange = iota
	SafeCast
	RiskyCast
	NotCastable
)

func (c ColumnTypeChange) String() string {
	switch c {
	case SafeCast:
		return "SafeCast"
	case RiskyCast:
		return "RiskyCast"
	case NotCastable:
		return "NotCastable"
	default:
		return "None"
	}
}

// ColumnDiffer holds the comparison of one matched column.
type ColumnDiffer struct {
	Columns    schema.Pair[int]
	Changes    ColumnChanges
	TypeChange ColumnTypeChange
	columns    schema.Pair[*schema.Column]
}

func newColumnDiffer(tables schema.Pair[*schema.Table], pair schema.Pair[int], renamed bool) *ColumnDiffer {
	cols := schema.NewPair(&tables.Previous().Columns[pair.Previous()], &tables.Next().Columns[pair.Next()])
	d := &ColumnDiffer{Columns: pair, columns: cols}
	prev, next := cols.Previous(), cols.Next()

	if renamed {
		d.Changes |= ChangeRenamed
	}
	if prev.Type.Arity != next.Type.Arity {
		d.Changes |= ChangeArity
	}
	if prev.AutoIncrement != next.AutoIncrement {
		d.Changes |= ChangeSequence
	}
	if !defaultsEqual(prev, next) {
		d.Changes |= ChangeDefault
	}
	if typeChanged(prev.Type, next.Type) {
		d.Changes |= ChangeType
		d.TypeChange = classifyTypeChange(prev.Type, next.Type)
	}
	return d
}

// Previous returns the previous column.
func (d *ColumnDiffer) Previous() *schema.Column { return d.columns.Previous() }

// Next returns the next column.
func (d *ColumnDiffer) Next() *schema.Column { return d.columns.Next() }

func typeChanged(prev, next schema.ColumnType) bool {
	if prev.Family != next.Family {
		return true
	}
	if (prev.Arity == schema.ArityList) != (next.Arity == schema.ArityList) {
		return true
	}
	if prev.Family == schema.FamilyEnum && prev.Enum != next.Enum {
		return true
	}
	return !nativeTypesEqual(prev.Native, next.Native)
}

func nativeTypesEqual(a, b *schema.NativeType) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !strings.EqualFold(a.Name, b.Name) || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return true
}

type familyPair struct{ from, to schema.TypeFamily }

var safeFamilyCasts = map[familyPair]bool{
	{schema.FamilyInt, schema.FamilyBigInt}:      true,
	{schema.FamilyInt, schema.FamilyFloat}:       true,
	{schema.FamilyInt, schema.FamilyDecimal}:     true,
	{schema.FamilyBigInt, schema.FamilyDecimal}:  true,
	{schema.FamilyBoolean, schema.FamilyInt}:     true,
	{schema.FamilyBoolean, schema.FamilyBigInt}:  true,
	{schema.FamilyInt, schema.FamilyString}:      true,
	{schema.FamilyBigInt, schema.FamilyString}:   true,
	{schema.FamilyFloat, schema.FamilyString}:    true,
	{schema.FamilyDecimal, schema.FamilyString}:  true,
	{schema.FamilyBoolean, schema.FamilyString}:  true,
	{schema.FamilyDateTime, schema.FamilyString}: true,
	{schema.FamilyUUID, schema.FamilyString}:     true,
	{schema.FamilyEnum, schema.FamilyString}:     true,
	{schema.FamilyJSON, schema.FamilyString}:     true,
}

var riskyFamilyCasts = map[familyPair]bool{
	{schema.FamilyBigInt, schema.FamilyInt}:      true,
	{schema.FamilyFloat, schema.FamilyInt}:       true,
	{schema.FamilyFloat, schema.FamilyBigInt}:    true,
	{schema.FamilyFloat, schema.FamilyDecimal}:   true,
	{schema.FamilyDecimal, schema.FamilyInt}:     true,
	{schema.FamilyDecimal, schema.FamilyBigInt}:  true,
	{schema.FamilyDecimal, schema.FamilyFloat}:   true,
	{schema.FamilyBigInt, schema.FamilyFloat}:    true,
	{schema.FamilyInt, schema.FamilyBoolean}:     true,
	{schema.FamilyString, schema.FamilyInt}:      true,
	{schema.FamilyString, schema.FamilyBigInt}:   true,
	{schema.FamilyString, schema.FamilyFloat}:    true,
	{schema.FamilyString, schema.FamilyDecimal}:  true,
	{schema.FamilyString, schema.FamilyBoolean}:  true,
	{schema.FamilyString, schema.FamilyDateTime}: true,
	{schema.FamilyString, schema.FamilyUUID}:     true,
	{schema.FamilyString, schema.FamilyEnum}:     true,
	{schema.FamilyString, schema.FamilyJSON}:     true,
	{schema.FamilyEnum, schema.FamilyEnum}:       true,
}

// classifyTypeChange decides whether existing values survive a type change.
func classifyTypeChange(prev, next schema.ColumnType) ColumnTypeChange {
	if (prev.Arity == schema.ArityList) != (next.Arity == schema.ArityList) {
		return NotCastable
	}
	if prev.Family == next.Family && prev.Family != schema.FamilyEnum {
		return classifyNativeChange(prev.Native, next.Native)
	}
	pair := familyPair{prev.Family, next.Family}
	switch {
	case safeFamilyCasts[pair]:
		return SafeCast
	case riskyFamilyCasts[pair]:
		return RiskyCast
	default:
		return NotCastable
	}
}

// classifyNativeChange compares the leading size parameter of two native
// types of one family: growing is safe, anything else may truncate.
func classifyNativeChange(prev, next *schema.NativeType) ColumnTypeChange {
	if prev == nil || next == nil || !strings.EqualFold(prev.Name, next.Name) {
		return RiskyCast
	}
	for i := range next.Args {
		if i >= len(prev.Args) || next.Args[i] < prev.Args[i] {
			return RiskyCast
		}
	}
	return SafeCast
}

func defaultsEqual(prev, next *schema.Column) bool {
	a, b := prev.Default, next.Default
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case schema.DefaultNow, schema.DefaultSequence:
		return true
	case schema.DefaultDBGenerated:
		return strings.TrimSpace(a.Value) == strings.TrimSpace(b.Value)
	default:
		return literalsEqual(a.Value, b.Value, next.Type.Family)
	}
}

// literalsEqual compares literal defaults as values of the column family.
func literalsEqual(a, b string, family schema.TypeFamily) bool {
	switch family {
	case schema.FamilyInt, schema.FamilyBigInt, schema.FamilyFloat, schema.FamilyDecimal:
		da, _, errA := apd.NewFromString(strings.TrimSpace(a))
		db, _, errB := apd.NewFromString(strings.TrimSpace(b))
		if errA != nil || errB != nil {
			return a == b
		}
		return da.Cmp(db) == 0
	case schema.FamilyBoolean:
		ba, okA := parseBoolLiteral(a)
		bb, okB := parseBoolLiteral(b)
		if !okA || !okB {
			return a == b
		}
		return ba == bb
	default:
		return a == b
	}
}

func parseBoolLiteral(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "t", "yes":
		return true, true
	case "false", "0", "f", "no":
		return false, true
	default:
		return false, false
	}
}
