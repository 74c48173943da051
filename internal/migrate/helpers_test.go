package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

func column(name string, family schema.TypeFamily, arity schema.Arity) schema.Column {
	return schema.Column{Name: name, Type: schema.ColumnType{Family: family, Arity: arity}}
}

func required(name string, family schema.TypeFamily) schema.Column {
	return column(name, family, schema.ArityRequired)
}

func nullable(name string, family schema.TypeFamily) schema.Column {
	return column(name, family, schema.ArityNullable)
}

func enumColumn(name, enum string, def string) schema.Column {
	c := schema.Column{Name: name, Type: schema.ColumnType{Family: schema.FamilyEnum, Arity: schema.ArityRequired, Enum: enum}}
	if def != "" {
		c.Default = &schema.DefaultValue{Kind: schema.DefaultLiteral, Value: def}
	}
	return c
}

func withDefault(c schema.Column, value string) schema.Column {
	c.Default = &schema.DefaultValue{Kind: schema.DefaultLiteral, Value: value}
	return c
}

func pk(columns ...string) *schema.PrimaryKey {
	return &schema.PrimaryKey{Columns: columns}
}

func index(name string, kind schema.IndexKind, columns ...string) schema.Index {
	idx := schema.Index{Name: name, Kind: kind}
	for _, c := range columns {
		idx.Columns = append(idx.Columns, schema.IndexColumn{Name: c, Sort: schema.SortAsc})
	}
	return idx
}

// fooTable is Foo(id Int PK, name String).
func fooTable() schema.Table {
	return schema.Table{
		Name:       "Foo",
		Columns:    []schema.Column{required("id", schema.FamilyInt), required("name", schema.FamilyString)},
		PrimaryKey: pk("id"),
	}
}

func plan(t *testing.T, f Flavour, previous, next *schema.Snapshot) *Migration {
	t.Helper()
	m, err := NewPlanner(f, zaptest.NewLogger(t)).Plan(previous, next)
	require.NoError(t, err)
	return m
}

func renderAll(t *testing.T, f Flavour, m *Migration) []RenderedStep {
	t.Helper()
	steps, err := NewRenderer(f).Render(m)
	require.NoError(t, err)
	return steps
}

func allFlavours() []Flavour {
	return []Flavour{NewPostgresFlavour(), NewMySQLFlavour(), NewSQLiteFlavour(), NewMSSQLFlavour()}
}

func stepsOfKind[T Step](m *Migration) []T {
	var out []T
	for _, s := range m.Steps {
		if v, ok := s.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
