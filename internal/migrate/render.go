package migrate

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// RenderedStep is the SQL of one plan step.
type RenderedStep struct {
	StepIndex  int
	Kind       StepKind
	Statements []string
}

// Renderer turns plan steps into SQL for one flavour. Output is a pure
// function of the step, the snapshots and the flavour.
type Renderer struct {
	flavour Flavour
}

func NewRenderer(flavour Flavour) *Renderer {
	return &Renderer{flavour: flavour}
}

// Render renders every step of the migration in plan order.
func (r *Renderer) Render(m *Migration) ([]RenderedStep, error) {
	out := make([]RenderedStep, 0, len(m.Steps))
	for i, step := range m.Steps {
		stmts, err := r.RenderStep(step, m.Schemas)
		if err != nil {
			return nil, fmt.Errorf("failed to render step %d (%s): %w", i, step.Kind(), err)
		}
		out = append(out, RenderedStep{StepIndex: i, Kind: step.Kind(), Statements: withoutEmpty(stmts)})
	}
	return out, nil
}

// RenderStep renders one step into its ordered statements.
func (r *Renderer) RenderStep(step Step, schemas schema.Pair[*schema.Snapshot]) ([]string, error) {
	f := r.flavour
	prev, next := schemas.Previous(), schemas.Next()
	switch s := step.(type) {
	case DropView:
		return []string{"DROP VIEW " + f.Quote(prev.Views[s.ViewIndex].Name)}, nil
	case DropUserDefinedType:
		return []string{"DROP TYPE " + f.Quote(prev.UserDefinedTypes[s.TypeIndex].Name)}, nil
	case CreateEnum:
		return f.RenderCreateEnum(&next.Enums[s.EnumIndex]), nil
	case DropEnum:
		return f.RenderDropEnum(&prev.Enums[s.EnumIndex]), nil
	case AlterEnum:
		return f.RenderAlterEnum(&s, schemas), nil
	case DropForeignKey:
		t := &prev.Tables[s.TableIndex]
		return []string{f.RenderDropForeignKey(t, &t.ForeignKeys[s.ForeignKeyIndex])}, nil
	case DropIndex:
		t := &prev.Tables[s.TableIndex]
		return []string{f.RenderDropIndex(t, &t.Indexes[s.IndexIndex])}, nil
	case AlterTable:
		return f.RenderAlterTable(&s, schemas), nil
	case DropTable:
		return []string{"DROP TABLE " + f.Quote(prev.Tables[s.TableIndex].Name)}, nil
	case CreateTable:
		return []string{f.RenderCreateTable(&next.Tables[s.TableIndex], next)}, nil
	case RedefineTables:
		strategy := f.RebuildStrategy()
		if strategy == nil {
			return nil, &PlanningDegeneracyError{Dialect: f.Dialect(), Reason: "no rebuild strategy"}
		}
		return strategy.Render(f, &s, schemas), nil
	case CreateIndex:
		t := &next.Tables[s.TableIndex]
		return []string{f.RenderCreateIndex(t, &t.Indexes[s.IndexIndex])}, nil
	case AddForeignKey:
		t := &next.Tables[s.TableIndex]
		return []string{f.RenderAddForeignKey(t, &t.ForeignKeys[s.ForeignKeyIndex])}, nil
	case AlterIndex:
		pt, nt := &prev.Tables[s.Table.Previous()], &next.Tables[s.Table.Next()]
		indexes := schema.NewPair(&pt.Indexes[s.Index.Previous()], &nt.Indexes[s.Index.Next()])
		return []string{f.RenderRenameIndex(nt, indexes)}, nil
	case RedefineIndex:
		pt, nt := &prev.Tables[s.Table.Previous()], &next.Tables[s.Table.Next()]
		return []string{
			f.RenderDropIndex(pt, &pt.Indexes[s.Index.Previous()]),
			f.RenderCreateIndex(nt, &nt.Indexes[s.Index.Next()]),
		}, nil
	default:
		return nil, &StructuralDiffError{Entity: string(step.Kind()), Reason: "no renderer for step"}
	}
}

// withoutEmpty drops statements a flavour rendered as "" for steps it
// expresses elsewhere.
func withoutEmpty(stmts []string) []string {
	out := stmts[:0:0]
	for _, s := range stmts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Script joins rendered steps into a migration script, one statement per
// line group, each terminated by ";\n".
func Script(steps []RenderedStep) string {
	var b strings.Builder
	for _, s := range steps {
		for _, stmt := range s.Statements {
			b.WriteString(stmt)
			b.WriteString(";\n")
		}
	}
	return b.String()
}

// quoteAll quotes every name with the flavour.
func quoteAll(f Flavour, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = f.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

// primaryKeyName returns the constraint name, defaulting to {table}_pkey.
func primaryKeyName(table *schema.Table) string {
	if table.PrimaryKey != nil && table.PrimaryKey.ConstraintName != "" {
		return table.PrimaryKey.ConstraintName
	}
	return table.Name + "_pkey"
}

// foreignKeyName returns the constraint name, defaulting to {table}_{cols}_fkey.
func foreignKeyName(table *schema.Table, fk *schema.ForeignKey) string {
	if fk.ConstraintName != "" {
		return fk.ConstraintName
	}
	return table.Name + "_" + strings.Join(fk.Columns, "_") + "_fkey"
}

// foreignKeyClause renders "FOREIGN KEY (...) REFERENCES t(...) ON ...".
func foreignKeyClause(f Flavour, fk *schema.ForeignKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FOREIGN KEY (%s) REFERENCES %s(%s)", quoteAll(f, fk.Columns), f.Quote(fk.ReferencedTable), quoteAll(f, fk.ReferencedColumns))
	if fk.OnDelete != "" {
		b.WriteString(" ON DELETE " + string(normalizeAction(fk.OnDelete)))
	}
	if fk.OnUpdate != "" {
		b.WriteString(" ON UPDATE " + string(normalizeAction(fk.OnUpdate)))
	}
	return b.String()
}

// createTableStatement renders CREATE TABLE with the given extra clauses
// appended after the column definitions.
func createTableStatement(f Flavour, table *schema.Table, snap *schema.Snapshot, extra ...string) string {
	lines := make([]string, 0, len(table.Columns)+len(extra))
	for i := range table.Columns {
		lines = append(lines, "    "+f.RenderColumn(table, &table.Columns[i], snap))
	}
	body := strings.Join(lines, ",\n")
	if len(extra) > 0 {
		indented := make([]string, len(extra))
		for i, e := range extra {
			indented[i] = "    " + e
		}
		body += ",\n\n" + strings.Join(indented, ",\n")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", f.Quote(table.Name), body)
}

// indexColumns renders the column list of an index. Prefix lengths are
// kept where the flavour supports them.
func indexColumns(f Flavour, idx *schema.Index, withOpClass bool) string {
	withLength := f.Capabilities().IndexPrefixLength
	parts := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		s := f.Quote(c.Name)
		if withLength && c.Length != nil {
			s += fmt.Sprintf("(%d)", *c.Length)
		}
		if withOpClass && c.OperatorClass != "" {
			s += " " + c.OperatorClass
		}
		if c.Sort == schema.SortDesc {
			s += " DESC"
		}
		parts[i] = s
	}
	return strings.Join(parts, ", ")
}

func uniqueKeyword(idx *schema.Index) string {
	if idx.IsUnique() {
		return "UNIQUE "
	}
	return ""
}

// renderLiteral renders a literal default for the column family. Numbers are
// canonicalised and anything that does not parse is quoted.
func renderLiteral(f Flavour, col *schema.Column, value string) string {
	switch col.Type.Family {
	case schema.FamilyInt, schema.FamilyBigInt, schema.FamilyFloat, schema.FamilyDecimal:
		d, _, err := apd.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return f.QuoteString(value)
		}
		return d.Text('f')
	case schema.FamilyBoolean:
		b, ok := parseBoolLiteral(value)
		if !ok {
			return f.QuoteString(value)
		}
		if f.Capabilities().AutoIncrement == AutoIncrementIdentity {
			if b {
				return "1"
			}
			return "0"
		}
		if b {
			return "true"
		}
		return "false"
	default:
		return f.QuoteString(value)
	}
}

// renderDefault renders the DEFAULT expression of a column, or "" when the
// column has none or the value is generated by an autoincrement mechanism.
func renderDefault(f Flavour, col *schema.Column, now string) string {
	d := col.Default
	if d == nil || col.AutoIncrement {
		return ""
	}
	switch d.Kind {
	case schema.DefaultNow:
		return now
	case schema.DefaultSequence:
		return ""
	case schema.DefaultDBGenerated:
		return strings.TrimSpace(d.Value)
	default:
		return renderLiteral(f, col, d.Value)
	}
}

// nativeType renders a native type override, e.g. VARCHAR(191).
func nativeType(n *schema.NativeType) string {
	if len(n.Args) == 0 {
		return strings.ToUpper(n.Name)
	}
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = fmt.Sprint(a)
	}
	return fmt.Sprintf("%s(%s)", strings.ToUpper(n.Name), strings.Join(args, ","))
}

// enumVariants returns the variants of the enum typing col in snap.
func enumVariants(col *schema.Column, snap *schema.Snapshot) []string {
	if e := snap.FindEnum(col.Type.Enum); e != nil {
		return e.Variants
	}
	return nil
}
