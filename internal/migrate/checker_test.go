package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// fakeInspector serves fixed counts. Tables missing from rows fail.
type fakeInspector struct {
	rows    map[string]int64
	nonNull map[string]int64
	calls   int
}

func (f *fakeInspector) CountRows(_ context.Context, table string) (int64, error) {
	f.calls++
	n, ok := f.rows[table]
	if !ok {
		return 0, errors.New("no such table")
	}
	return n, nil
}

func (f *fakeInspector) CountNonNullValues(_ context.Context, table, column string) (int64, error) {
	f.calls++
	n, ok := f.nonNull[table+"."+column]
	if !ok {
		return 0, errors.New("no such column")
	}
	return n, nil
}

func runCheck(t *testing.T, f Flavour, inspector DatabaseInspector, prev, next *schema.Snapshot) (*Migration, *DestructiveCheckResult) {
	t.Helper()
	m := plan(t, f, prev, next)
	res, err := NewDestructiveChangeChecker(f, inspector, zaptest.NewLogger(t)).Check(context.Background(), m)
	require.NoError(t, err)
	return m, res
}

func messages(findings []Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Message
	}
	return out
}

func TestCheckDroppedTable(t *testing.T) {
	prev := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next := &schema.Snapshot{}

	testCases := []struct {
		name      string
		inspector DatabaseInspector
		want      []string
	}{
		{
			name:      "empty table is silent",
			inspector: &fakeInspector{rows: map[string]int64{"Foo": 0}},
		},
		{
			name:      "table with rows",
			inspector: &fakeInspector{rows: map[string]int64{"Foo": 7}},
			want:      []string{"You are about to drop the `Foo` table, which is not empty (7 rows)."},
		},
		{
			name: "no inspector",
			want: []string{"You are about to drop the `Foo` table. If the table is not empty, all the data it contains will be lost."},
		},
		{
			name:      "inspection failure",
			inspector: &fakeInspector{},
			want:      []string{"You are about to drop the `Foo` table. If the table is not empty, all the data it contains will be lost."},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, res := runCheck(t, NewPostgresFlavour(), tc.inspector, prev, next)
			assert.Equal(t, tc.want, nonNil(messages(res.Warnings)))
			assert.False(t, res.HasUnexecutable())
		})
	}
}

// nonNil turns an empty slice into nil so expectations can omit it.
func nonNil(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestCheckDroppedColumn(t *testing.T) {
	prev := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next.Tables[0].Columns = next.Tables[0].Columns[:1]

	testCases := []struct {
		name      string
		inspector *fakeInspector
		want      []string
	}{
		{
			name:      "no rows",
			inspector: &fakeInspector{rows: map[string]int64{"Foo": 0}, nonNull: map[string]int64{"Foo.name": 0}},
		},
		{
			name:      "only nulls",
			inspector: &fakeInspector{rows: map[string]int64{"Foo": 4}, nonNull: map[string]int64{"Foo.name": 0}},
		},
		{
			name:      "values present",
			inspector: &fakeInspector{rows: map[string]int64{"Foo": 4}, nonNull: map[string]int64{"Foo.name": 3}},
			want:      []string{"You are about to drop the column `name` on the `Foo` table, which still contains 3 non-null values."},
		},
	}

	for _, tc := range testCases {
		for _, f := range []Flavour{NewPostgresFlavour(), NewSQLiteFlavour()} {
			t.Run(tc.name+"/"+f.Dialect(), func(t *testing.T) {
				_, res := runCheck(t, f, tc.inspector, prev, next)
				assert.Equal(t, tc.want, nonNil(messages(res.Warnings)))
			})
		}
	}
}

func TestCheckAddedRequiredColumn(t *testing.T) {
	prev := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next.Tables[0].Columns = append(next.Tables[0].Columns, required("age", schema.FamilyInt))

	t.Run("empty table", func(t *testing.T) {
		_, res := runCheck(t, NewPostgresFlavour(), &fakeInspector{rows: map[string]int64{"Foo": 0}}, prev, next)
		assert.Empty(t, res.Warnings)
		assert.Empty(t, res.Unexecutable)
	})

	t.Run("rows present", func(t *testing.T) {
		m, res := runCheck(t, NewPostgresFlavour(), &fakeInspector{rows: map[string]int64{"Foo": 2}}, prev, next)
		require.Len(t, res.Unexecutable, 1)
		assert.Equal(t, "Added the required column `age` to the `Foo` table without a default value. There are 2 rows in this table, it is not possible to execute this step.", res.Unexecutable[0].Message)
		assert.Equal(t, KindAlterTable, m.Steps[res.Unexecutable[0].StepIndex].Kind())
		assert.Empty(t, res.Warnings)
	})

	t.Run("unknown row count warns", func(t *testing.T) {
		_, res := runCheck(t, NewPostgresFlavour(), nil, prev, next)
		assert.Empty(t, res.Unexecutable)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0].Message, "This is not possible if the table is not empty.")
	})

	t.Run("default makes it safe", func(t *testing.T) {
		withDef := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
		withDef.Tables[0].Columns = append(withDef.Tables[0].Columns, withDefault(required("age", schema.FamilyInt), "0"))
		_, res := runCheck(t, NewPostgresFlavour(), &fakeInspector{rows: map[string]int64{"Foo": 2}}, prev, withDef)
		assert.Empty(t, res.Warnings)
		assert.Empty(t, res.Unexecutable)
	})
}

func TestCheckMadeColumnRequired(t *testing.T) {
	prevTable := fooTable()
	prevTable.Columns[1] = nullable("name", schema.FamilyString)
	prev := &schema.Snapshot{Tables: []schema.Table{prevTable}}
	next := &schema.Snapshot{Tables: []schema.Table{fooTable()}}

	testCases := []struct {
		name             string
		inspector        DatabaseInspector
		wantWarnings     int
		wantUnexecutable []string
	}{
		{
			name:      "no nulls",
			inspector: &fakeInspector{rows: map[string]int64{"Foo": 5}, nonNull: map[string]int64{"Foo.name": 5}},
		},
		{
			name:             "nulls present",
			inspector:        &fakeInspector{rows: map[string]int64{"Foo": 5}, nonNull: map[string]int64{"Foo.name": 3}},
			wantUnexecutable: []string{"Made the column `name` on table `Foo` required, but there are 2 existing NULL values."},
		},
		{
			name:         "unknown",
			wantWarnings: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, res := runCheck(t, NewPostgresFlavour(), tc.inspector, prev, next)
			assert.Len(t, res.Warnings, tc.wantWarnings)
			assert.Equal(t, tc.wantUnexecutable, nonNil(messages(res.Unexecutable)))
		})
	}
}

func TestCheckDroppedEnumVariants(t *testing.T) {
	prev := &schema.Snapshot{Enums: []schema.Enum{{Name: "Color", Variants: []string{"RED", "BLUE", "GREEN"}}}}
	next := &schema.Snapshot{Enums: []schema.Enum{{Name: "Color", Variants: []string{"BLUE"}}}}

	inspector := &fakeInspector{}
	_, res := runCheck(t, NewPostgresFlavour(), inspector, prev, next)
	assert.Equal(t, []string{"The values [RED,GREEN] on the enum `Color` will be removed. If these variants are still used in the database, this will fail."}, messages(res.Warnings))
	assert.Zero(t, inspector.calls)
}

func TestCheckUniqueIndex(t *testing.T) {
	prev := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next.Tables[0].Indexes = []schema.Index{index("Foo_name_key", schema.IndexUnique, "name")}

	_, res := runCheck(t, NewPostgresFlavour(), &fakeInspector{rows: map[string]int64{"Foo": 0}}, prev, next)
	assert.Empty(t, res.Warnings)

	_, res = runCheck(t, NewPostgresFlavour(), &fakeInspector{rows: map[string]int64{"Foo": 1}}, prev, next)
	assert.Equal(t, []string{"A unique constraint covering the columns `[name]` on the table `Foo` will be added. If there are existing duplicate values, this will fail."}, messages(res.Warnings))

	// Indexes of a new table cannot meet existing duplicates.
	_, res = runCheck(t, NewPostgresFlavour(), nil, &schema.Snapshot{}, next)
	assert.Empty(t, res.Warnings)
}

func TestCheckTypeChanges(t *testing.T) {
	withName := func(c schema.Column) *schema.Snapshot {
		tbl := fooTable()
		tbl.Columns[1] = c
		return &schema.Snapshot{Tables: []schema.Table{tbl}}
	}
	inspector := &fakeInspector{rows: map[string]int64{"Foo": 3}, nonNull: map[string]int64{"Foo.name": 3}}

	t.Run("risky cast", func(t *testing.T) {
		_, res := runCheck(t, NewPostgresFlavour(), inspector, withName(required("name", schema.FamilyString)), withName(required("name", schema.FamilyInt)))
		assert.Equal(t, []string{"You are about to alter the column `name` on the `Foo` table, which contains 3 non-null values. The data in that column will be cast from `TEXT` to `INTEGER`."}, messages(res.Warnings))
	})

	t.Run("safe cast is silent", func(t *testing.T) {
		_, res := runCheck(t, NewPostgresFlavour(), inspector, withName(required("name", schema.FamilyInt)), withName(required("name", schema.FamilyBigInt)))
		assert.Empty(t, res.Warnings)
	})

	t.Run("not castable required column", func(t *testing.T) {
		_, res := runCheck(t, NewPostgresFlavour(), inspector, withName(required("name", schema.FamilyString)), withName(required("name", schema.FamilyBinary)))
		require.Len(t, res.Unexecutable, 1)
		assert.Contains(t, res.Unexecutable[0].Message, "dropped and recreated")
	})

	t.Run("not castable nullable column", func(t *testing.T) {
		_, res := runCheck(t, NewPostgresFlavour(), inspector, withName(required("name", schema.FamilyString)), withName(nullable("name", schema.FamilyBinary)))
		assert.Empty(t, res.Unexecutable)
		assert.Equal(t, []string{"The `name` column on the `Foo` table would be dropped and recreated. This will lead to data loss."}, messages(res.Warnings))
	})
}

func TestCheckBatchesInspection(t *testing.T) {
	prev := &schema.Snapshot{Tables: []schema.Table{{
		Name: "Foo",
		Columns: []schema.Column{
			required("id", schema.FamilyInt),
			nullable("a", schema.FamilyString),
			nullable("b", schema.FamilyString),
		},
		PrimaryKey: pk("id"),
	}}}
	next := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next.Tables[0].Columns = next.Tables[0].Columns[:1]

	inspector := &fakeInspector{
		rows:    map[string]int64{"Foo": 2},
		nonNull: map[string]int64{"Foo.a": 1, "Foo.b": 2},
	}
	_, res := runCheck(t, NewPostgresFlavour(), inspector, prev, next)
	assert.Len(t, res.Warnings, 2)
	// One row count for the table plus one value count per column.
	assert.Equal(t, 3, inspector.calls)
}

func TestCheckCancelledContext(t *testing.T) {
	prev := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	m := plan(t, NewPostgresFlavour(), prev, &schema.Snapshot{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDestructiveChangeChecker(NewPostgresFlavour(), &fakeInspector{}, zaptest.NewLogger(t)).Check(ctx, m)
	assert.ErrorIs(t, err, context.Canceled)
}
