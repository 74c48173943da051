package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

func TestPairByName(t *testing.T) {
	prev := []string{"Users", "posts", "gone"}
	next := []string{"comments", "users", "Posts"}
	name := func(list []string) func(int) string { return func(i int) string { return list[i] } }

	testCases := []struct {
		name          string
		caseSensitive bool
		wantPairs     []schema.Pair[int]
		wantCreated   []int
		wantDropped   []int
	}{
		{
			name:          "case sensitive",
			caseSensitive: true,
			wantCreated:   []int{0, 1, 2},
			wantDropped:   []int{0, 1, 2},
		},
		{
			name:          "case insensitive",
			caseSensitive: false,
			wantPairs:     []schema.Pair[int]{schema.NewPair(0, 1), schema.NewPair(1, 2)},
			wantCreated:   []int{0},
			wantDropped:   []int{2},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pairs, created, dropped := pairByName(len(prev), len(next), name(prev), name(next), tc.caseSensitive)
			assert.Equal(t, tc.wantPairs, pairs)
			assert.Equal(t, tc.wantCreated, created)
			assert.Equal(t, tc.wantDropped, dropped)
		})
	}
}

func TestClassifyTypeChange(t *testing.T) {
	typ := func(f schema.TypeFamily, a schema.Arity, native *schema.NativeType) schema.ColumnType {
		return schema.ColumnType{Family: f, Arity: a, Native: native}
	}
	varchar := func(n int) *schema.NativeType { return &schema.NativeType{Name: "VarChar", Args: []int{n}} }

	testCases := []struct {
		name string
		from schema.ColumnType
		to   schema.ColumnType
		want ColumnTypeChange
	}{
		{"int to bigint", typ(schema.FamilyInt, schema.ArityRequired, nil), typ(schema.FamilyBigInt, schema.ArityRequired, nil), SafeCast},
		{"bigint to int", typ(schema.FamilyBigInt, schema.ArityRequired, nil), typ(schema.FamilyInt, schema.ArityRequired, nil), RiskyCast},
		{"string to int", typ(schema.FamilyString, schema.ArityRequired, nil), typ(schema.FamilyInt, schema.ArityRequired, nil), RiskyCast},
		{"json to int", typ(schema.FamilyJSON, schema.ArityRequired, nil), typ(schema.FamilyInt, schema.ArityRequired, nil), NotCastable},
		{"scalar to list", typ(schema.FamilyInt, schema.ArityRequired, nil), typ(schema.FamilyInt, schema.ArityList, nil), NotCastable},
		{"varchar grows", typ(schema.FamilyString, schema.ArityRequired, varchar(100)), typ(schema.FamilyString, schema.ArityRequired, varchar(200)), SafeCast},
		{"varchar shrinks", typ(schema.FamilyString, schema.ArityRequired, varchar(200)), typ(schema.FamilyString, schema.ArityRequired, varchar(100)), RiskyCast},
		{"native dropped", typ(schema.FamilyString, schema.ArityRequired, varchar(200)), typ(schema.FamilyString, schema.ArityRequired, nil), RiskyCast},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.True(t, typeChanged(tc.from, tc.to))
			assert.Equal(t, tc.want, classifyTypeChange(tc.from, tc.to))
		})
	}
}

func TestDefaultsEqual(t *testing.T) {
	testCases := []struct {
		name string
		prev schema.Column
		next schema.Column
		want bool
	}{
		{"both absent", required("a", schema.FamilyInt), required("a", schema.FamilyInt), true},
		{"added", required("a", schema.FamilyInt), withDefault(required("a", schema.FamilyInt), "1"), false},
		{"decimal canonical form", withDefault(required("a", schema.FamilyDecimal), "1.50"), withDefault(required("a", schema.FamilyDecimal), "1.5"), true},
		{"boolean spelling", withDefault(required("a", schema.FamilyBoolean), "true"), withDefault(required("a", schema.FamilyBoolean), "1"), true},
		{"string is exact", withDefault(required("a", schema.FamilyString), "x"), withDefault(required("a", schema.FamilyString), "X"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, defaultsEqual(&tc.prev, &tc.next))
		})
	}
}

func tableDiffer(t *testing.T, f Flavour, prev, next schema.Table) *TableDiffer {
	t.Helper()
	db := newDifferDatabase(schema.NewPair(
		&schema.Snapshot{Tables: []schema.Table{prev}},
		&schema.Snapshot{Tables: []schema.Table{next}},
	), f)
	differs := db.tableDiffers()
	require.Len(t, differs, 1)
	return differs[0]
}

func TestTableDifferColumns(t *testing.T) {
	prev := fooTable()
	prev.Columns = append(prev.Columns, nullable("legacy", schema.FamilyString))

	next := fooTable()
	next.Columns[1] = required("title", schema.FamilyString)
	next.Columns[1].PreviousName = "name"
	next.Columns = append(next.Columns, withDefault(required("views", schema.FamilyInt), "0"))

	td := tableDiffer(t, NewPostgresFlavour(), prev, next)

	assert.Equal(t, []int{2}, td.DroppedColumns())
	assert.Equal(t, []int{2}, td.AddedColumns())
	changed := td.ChangedColumns()
	require.Len(t, changed, 1)
	assert.True(t, changed[0].Changes.OnlyRenamed())
	assert.Equal(t, "name", changed[0].Previous().Name)
	assert.Equal(t, "title", changed[0].Next().Name)
	assert.False(t, td.PrimaryKeyChanged())
}

func TestTableDifferPrimaryKey(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(next *schema.Table)
		changed bool
	}{
		{name: "unchanged", mutate: func(*schema.Table) {}},
		{name: "columns changed", mutate: func(n *schema.Table) { n.PrimaryKey = pk("id", "name") }, changed: true},
		{name: "removed", mutate: func(n *schema.Table) { n.PrimaryKey = nil }, changed: true},
		{
			name: "primary key column renamed",
			mutate: func(n *schema.Table) {
				n.Columns[0].Name = "foo_id"
				n.Columns[0].PreviousName = "id"
				n.PrimaryKey = pk("foo_id")
			},
		},
		{
			name:    "constraint renamed",
			mutate:  func(n *schema.Table) { n.PrimaryKey.ConstraintName = "foo_pk_v2" },
			changed: false, // previous name unknown
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next := fooTable()
			tc.mutate(&next)
			td := tableDiffer(t, NewPostgresFlavour(), fooTable(), next)
			assert.Equal(t, tc.changed, td.PrimaryKeyChanged())
		})
	}
}

func TestTableDifferIndexes(t *testing.T) {
	base := func(indexes ...schema.Index) schema.Table {
		tbl := fooTable()
		tbl.Indexes = indexes
		return tbl
	}

	testCases := []struct {
		name        string
		flavour     Flavour
		prev        schema.Table
		next        schema.Table
		wantPairs   []IndexPair
		wantCreated []int
		wantDropped []int
	}{
		{
			name:      "unchanged",
			flavour:   NewPostgresFlavour(),
			prev:      base(index("foo_name_idx", schema.IndexNormal, "name")),
			next:      base(index("foo_name_idx", schema.IndexNormal, "name")),
			wantPairs: []IndexPair{{Indexes: schema.NewPair(0, 0)}},
		},
		{
			name:      "renamed",
			flavour:   NewPostgresFlavour(),
			prev:      base(index("foo_name_idx", schema.IndexNormal, "name")),
			next:      base(index("foo_by_name", schema.IndexNormal, "name")),
			wantPairs: []IndexPair{{Indexes: schema.NewPair(0, 0), Renamed: true}},
		},
		{
			name:        "kind changed",
			flavour:     NewPostgresFlavour(),
			prev:        base(index("foo_name_idx", schema.IndexNormal, "name")),
			next:        base(index("foo_name_idx", schema.IndexUnique, "name")),
			wantCreated: []int{0},
			wantDropped: []int{0},
		},
		{
			name:        "ambiguous rename",
			flavour:     NewPostgresFlavour(),
			prev:        base(index("a", schema.IndexNormal, "name"), index("b", schema.IndexNormal, "name")),
			next:        base(index("c", schema.IndexNormal, "name"), index("d", schema.IndexNormal, "name")),
			wantCreated: []int{0, 1},
			wantDropped: []int{0, 1},
		},
		{
			name:    "algorithm changed",
			flavour: NewPostgresFlavour(),
			prev:    base(index("foo_name_idx", schema.IndexNormal, "name")),
			next: func() schema.Table {
				idx := index("foo_name_idx", schema.IndexNormal, "name")
				idx.Algorithm = "hash"
				return base(idx)
			}(),
			wantPairs: []IndexPair{{Indexes: schema.NewPair(0, 0), Changed: true}},
		},
		{
			name:      "mysql names are case insensitive",
			flavour:   NewMySQLFlavour(),
			prev:      base(index("Foo_Name_Idx", schema.IndexNormal, "name")),
			next:      base(index("foo_name_idx", schema.IndexNormal, "NAME")),
			wantPairs: []IndexPair{{Indexes: schema.NewPair(0, 0)}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			td := tableDiffer(t, tc.flavour, tc.prev, tc.next)
			assert.Equal(t, tc.wantPairs, td.IndexPairs())
			assert.Equal(t, tc.wantCreated, td.CreatedIndexes())
			assert.Equal(t, tc.wantDropped, td.DroppedIndexes())
		})
	}
}

func TestTableDifferForeignKeys(t *testing.T) {
	withFK := func(fk schema.ForeignKey) schema.Table {
		tbl := fooTable()
		tbl.Columns = append(tbl.Columns, required("parent_id", schema.FamilyInt))
		tbl.ForeignKeys = []schema.ForeignKey{fk}
		return tbl
	}
	fk := schema.ForeignKey{Columns: []string{"parent_id"}, ReferencedTable: "Foo", ReferencedColumns: []string{"id"}}

	t.Run("renamed constraint matches", func(t *testing.T) {
		renamed := fk
		renamed.ConstraintName = "custom_name"
		td := tableDiffer(t, NewPostgresFlavour(), withFK(fk), withFK(renamed))
		assert.Empty(t, td.CreatedForeignKeys())
		assert.Empty(t, td.DroppedForeignKeys())
	})

	t.Run("default action is no action", func(t *testing.T) {
		explicit := fk
		explicit.OnDelete = schema.ActionNoAction
		td := tableDiffer(t, NewPostgresFlavour(), withFK(fk), withFK(explicit))
		assert.Empty(t, td.CreatedForeignKeys())
	})

	t.Run("changed action is recreated", func(t *testing.T) {
		cascade := fk
		cascade.OnDelete = schema.ActionCascade
		td := tableDiffer(t, NewPostgresFlavour(), withFK(fk), withFK(cascade))
		assert.Equal(t, []int{0}, td.DroppedForeignKeys())
		assert.Equal(t, []int{0}, td.CreatedForeignKeys())
	})

	t.Run("different referenced column", func(t *testing.T) {
		other := fk
		other.ReferencedColumns = []string{"name"}
		td := tableDiffer(t, NewPostgresFlavour(), withFK(fk), withFK(other))
		assert.Equal(t, []int{0}, td.DroppedForeignKeys())
		assert.Equal(t, []int{0}, td.CreatedForeignKeys())
	})
}

func TestEnumDiffer(t *testing.T) {
	prev := &schema.Snapshot{
		Enums: []schema.Enum{{Name: "Color", Variants: []string{"RED", "BLUE"}}},
		Tables: []schema.Table{{
			Name: "Paint",
			Columns: []schema.Column{
				enumColumn("primary", "Color", "RED"),
				enumColumn("secondary", "Color", "BLUE"),
				enumColumn("removed", "Color", "RED"),
				enumColumn("plain", "Color", ""),
			},
		}},
	}
	next := &schema.Snapshot{
		Enums: []schema.Enum{{Name: "Color", Variants: []string{"BLUE", "GREEN"}}},
		Tables: []schema.Table{{
			Name: "Paint",
			Columns: []schema.Column{
				enumColumn("primary", "Color", "GREEN"),
				enumColumn("secondary", "Color", "BLUE"),
				enumColumn("plain", "Color", ""),
			},
		}},
	}
	db := newDifferDatabase(schema.NewPair(prev, next), NewPostgresFlavour())
	differs := db.enumDiffers()
	require.Len(t, differs, 1)
	ed := differs[0]

	assert.Equal(t, []string{"GREEN"}, ed.CreatedVariants())
	assert.Equal(t, []string{"RED"}, ed.DroppedVariants())
	assert.Equal(t, []EnumDefaultUsage{
		{Previous: ColumnRef{Table: 0, Column: 0}, Next: &ColumnRef{Table: 0, Column: 0}},
		{Previous: ColumnRef{Table: 0, Column: 1}, Next: &ColumnRef{Table: 0, Column: 1}},
		{Previous: ColumnRef{Table: 0, Column: 2}},
	}, ed.PreviousUsagesAsDefault())
}
