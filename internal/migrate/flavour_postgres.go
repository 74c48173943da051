package migrate

import (
	"fmt"
	"strings"

	"github.com/arwahdevops/dbmigrate/internal/schema"
	"github.com/arwahdevops/dbmigrate/internal/utils"
)

type postgresFlavour struct{}

func NewPostgresFlavour() Flavour { return postgresFlavour{} }

func (postgresFlavour) Dialect() string { return "postgres" }

func (postgresFlavour) Capabilities() Capabilities {
	return Capabilities{
		AlterColumn:               true,
		Enums:                     EnumNative,
		ReplacesEnumOnVariantDrop: true,
		IndexAlgorithms:           true,
		IndexRename:               true,
		AlterForeignKeys:          true,
		AutoIncrement:             AutoIncrementSerial,
		TransactionalDDL:          true,
		CaseSensitiveIdentifiers:  true,
	}
}

// IndexesMatch also compares operator classes.
func (postgresFlavour) IndexesMatch(previous, next *schema.Index) bool {
	for i := range previous.Columns {
		if !strings.EqualFold(previous.Columns[i].OperatorClass, next.Columns[i].OperatorClass) {
			return false
		}
	}
	return true
}

// PrimaryKeyChanged reports a renamed constraint when both names are known.
func (postgresFlavour) PrimaryKeyChanged(tables schema.Pair[*schema.Table]) bool {
	prev, next := tables.Previous().PrimaryKey, tables.Next().PrimaryKey
	return prev.ConstraintName != "" && next.ConstraintName != "" && prev.ConstraintName != next.ConstraintName
}

func (postgresFlavour) TableNeedsRedefine(*TableDiffer) bool { return false }

func (postgresFlavour) RebuildStrategy() RebuildStrategy { return nil }

func (postgresFlavour) Quote(name string) string { return utils.QuoteIdentifier(name, "postgres") }

func (postgresFlavour) QuoteString(s string) string { return utils.QuoteLiteral(s, "postgres") }

var postgresTypes = map[schema.TypeFamily]string{
	schema.FamilyInt:      "INTEGER",
	schema.FamilyBigInt:   "BIGINT",
	schema.FamilyFloat:    "DOUBLE PRECISION",
	schema.FamilyDecimal:  "DECIMAL(65,30)",
	schema.FamilyBoolean:  "BOOLEAN",
	schema.FamilyString:   "TEXT",
	schema.FamilyDateTime: "TIMESTAMP(3)",
	schema.FamilyJSON:     "JSONB",
	schema.FamilyBinary:   "BYTEA",
	schema.FamilyUUID:     "UUID",
}

func (f postgresFlavour) RenderColumnType(col *schema.Column, _ *schema.Snapshot) string {
	var t string
	switch {
	case col.Type.Native != nil:
		t = nativeType(col.Type.Native)
	case col.Type.Family == schema.FamilyEnum:
		t = f.Quote(col.Type.Enum)
	default:
		t = postgresTypes[col.Type.Family]
	}
	if col.IsList() {
		t += "[]"
	}
	return t
}

func (f postgresFlavour) RenderColumn(_ *schema.Table, col *schema.Column, snap *schema.Snapshot) string {
	typ := f.RenderColumnType(col, snap)
	if col.AutoIncrement {
		switch col.Type.Family {
		case schema.FamilyBigInt:
			typ = "BIGSERIAL"
		case schema.FamilyInt:
			typ = "SERIAL"
		}
	}
	var b strings.Builder
	b.WriteString(f.Quote(col.Name) + " " + typ)
	if col.IsRequired() {
		b.WriteString(" NOT NULL")
	}
	if d := renderDefault(f, col, "CURRENT_TIMESTAMP"); d != "" {
		b.WriteString(" DEFAULT " + d)
	}
	return b.String()
}

func (f postgresFlavour) RenderCreateTable(table *schema.Table, snap *schema.Snapshot) string {
	var extra []string
	if table.PrimaryKey != nil {
		extra = append(extra, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)", f.Quote(primaryKeyName(table)), quoteAll(f, table.PrimaryKey.Columns)))
	}
	return createTableStatement(f, table, snap, extra...)
}

func (f postgresFlavour) RenderCreateIndex(table *schema.Table, idx *schema.Index) string {
	using := ""
	if idx.Algorithm != "" && !strings.EqualFold(idx.Algorithm, "btree") {
		using = " USING " + strings.ToUpper(idx.Algorithm)
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s%s(%s)", uniqueKeyword(idx), f.Quote(idx.Name), f.Quote(table.Name), using, indexColumns(f, idx, true))
}

func (f postgresFlavour) RenderDropIndex(_ *schema.Table, idx *schema.Index) string {
	return "DROP INDEX " + f.Quote(idx.Name)
}

func (f postgresFlavour) RenderRenameIndex(_ *schema.Table, indexes schema.Pair[*schema.Index]) string {
	return fmt.Sprintf("ALTER INDEX %s RENAME TO %s", f.Quote(indexes.Previous().Name), f.Quote(indexes.Next().Name))
}

func (f postgresFlavour) RenderAddForeignKey(table *schema.Table, fk *schema.ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", f.Quote(table.Name), f.Quote(foreignKeyName(table, fk)), foreignKeyClause(f, fk))
}

func (f postgresFlavour) RenderDropForeignKey(table *schema.Table, fk *schema.ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", f.Quote(table.Name), f.Quote(foreignKeyName(table, fk)))
}

func (f postgresFlavour) RenderRenameTable(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", f.Quote(from), f.Quote(to))
}

func (f postgresFlavour) RenderCreateEnum(enum *schema.Enum) []string {
	return []string{f.createEnum(enum.Name, enum.Variants)}
}

func (f postgresFlavour) createEnum(name string, variants []string) string {
	quoted := make([]string, len(variants))
	for i, v := range variants {
		quoted[i] = f.QuoteString(v)
	}
	return fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)", f.Quote(name), strings.Join(quoted, ", "))
}

func (f postgresFlavour) RenderDropEnum(enum *schema.Enum) []string {
	return []string{"DROP TYPE " + f.Quote(enum.Name)}
}

// RenderAlterEnum adds variants in place. Removing variants replaces the
// type: defaults typed by it are dropped first and reinstalled afterwards.
func (f postgresFlavour) RenderAlterEnum(step *AlterEnum, schemas schema.Pair[*schema.Snapshot]) []string {
	prevSnap, nextSnap := schemas.Previous(), schemas.Next()
	prevEnum := &prevSnap.Enums[step.Index.Previous()]
	nextEnum := &nextSnap.Enums[step.Index.Next()]

	if len(step.DroppedVariants) == 0 {
		stmts := make([]string, 0, len(step.CreatedVariants))
		for _, v := range step.CreatedVariants {
			stmts = append(stmts, fmt.Sprintf("ALTER TYPE %s ADD VALUE %s", f.Quote(nextEnum.Name), f.QuoteString(v)))
		}
		return stmts
	}

	var stmts []string
	for _, u := range step.PreviousUsagesAsDefault {
		t := &prevSnap.Tables[u.Previous.Table]
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", f.Quote(t.Name), f.Quote(t.Columns[u.Previous.Column].Name)))
	}

	oldName := prevEnum.Name + "_old"
	stmts = append(stmts, fmt.Sprintf("ALTER TYPE %s RENAME TO %s", f.Quote(prevEnum.Name), f.Quote(oldName)))
	stmts = append(stmts, f.createEnum(nextEnum.Name, nextEnum.Variants))
	for ti := range prevSnap.Tables {
		t := &prevSnap.Tables[ti]
		for ci := range t.Columns {
			col := &t.Columns[ci]
			if !col.IsEnumTyped(prevEnum.Name) {
				continue
			}
			target := f.Quote(nextEnum.Name)
			if col.IsList() {
				target += "[]"
			}
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING (%s::text::%s)",
				f.Quote(t.Name), f.Quote(col.Name), target, f.Quote(col.Name), target))
		}
	}
	stmts = append(stmts, "DROP TYPE "+f.Quote(oldName))

	for _, u := range step.PreviousUsagesAsDefault {
		if u.Next == nil {
			continue
		}
		t := &prevSnap.Tables[u.Previous.Table]
		nextCol := &nextSnap.Tables[u.Next.Table].Columns[u.Next.Column]
		if d := renderDefault(f, nextCol, "CURRENT_TIMESTAMP"); d != "" {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", f.Quote(t.Name), f.Quote(t.Columns[u.Previous.Column].Name), d))
		}
	}
	return stmts
}

// RenderAlterTable renders renames as their own statements, then one
// ALTER TABLE with every other clause. Sequences backing new autoincrement
// columns are created before and attached after.
func (f postgresFlavour) RenderAlterTable(step *AlterTable, schemas schema.Pair[*schema.Snapshot]) []string {
	prevT := &schemas.Previous().Tables[step.Table.Previous()]
	nextT := &schemas.Next().Tables[step.Table.Next()]
	nextSnap := schemas.Next()
	table := f.Quote(nextT.Name)

	var before, clauses, after []string
	for _, change := range step.Changes {
		switch c := change.(type) {
		case DropPrimaryKey:
			clauses = append(clauses, "DROP CONSTRAINT "+f.Quote(primaryKeyName(prevT)))
		case AddPrimaryKey:
			clauses = append(clauses, fmt.Sprintf("ADD CONSTRAINT %s PRIMARY KEY (%s)", f.Quote(primaryKeyName(nextT)), quoteAll(f, nextT.PrimaryKey.Columns)))
		case AddColumn:
			clauses = append(clauses, "ADD COLUMN "+f.RenderColumn(nextT, &nextT.Columns[c.ColumnIndex], nextSnap))
		case DropColumn:
			clauses = append(clauses, "DROP COLUMN "+f.Quote(prevT.Columns[c.ColumnIndex].Name))
		case DropAndRecreateColumn:
			clauses = append(clauses,
				"DROP COLUMN "+f.Quote(prevT.Columns[c.Columns.Previous()].Name),
				"ADD COLUMN "+f.RenderColumn(nextT, &nextT.Columns[c.Columns.Next()], nextSnap))
		case AlterColumn:
			prevCol, nextCol := &prevT.Columns[c.Columns.Previous()], &nextT.Columns[c.Columns.Next()]
			if c.Changes.Has(ChangeRenamed) {
				before = append(before, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table, f.Quote(prevCol.Name), f.Quote(nextCol.Name)))
			}
			b, cl, a := f.expandAlterColumn(nextT, prevCol, nextCol, c, nextSnap)
			before = append(before, b...)
			clauses = append(clauses, cl...)
			after = append(after, a...)
		}
	}

	stmts := before
	if len(clauses) > 0 {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s %s", table, strings.Join(clauses, ",\n")))
	}
	return append(stmts, after...)
}

func (f postgresFlavour) expandAlterColumn(table *schema.Table, prev, next *schema.Column, c AlterColumn, snap *schema.Snapshot) (before, clauses, after []string) {
	col := f.Quote(next.Name)
	if c.Changes.Has(ChangeType) {
		typ := f.RenderColumnType(next, snap)
		clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s SET DATA TYPE %s USING (%s::%s)", col, typ, col, typ))
	}
	if c.Changes.Has(ChangeArity) {
		if next.IsRequired() {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", col))
		} else if prev.IsRequired() {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", col))
		}
	}
	switch {
	case c.Changes.Has(ChangeSequence) && next.AutoIncrement:
		seq := postgresSequenceName(table.Name, next.Name)
		before = append(before, "CREATE SEQUENCE "+f.Quote(seq))
		clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT nextval(%s)", col, f.QuoteString(f.Quote(seq))))
		after = append(after, fmt.Sprintf("ALTER SEQUENCE %s OWNED BY %s.%s", f.Quote(seq), f.Quote(table.Name), col))
	case c.Changes.Has(ChangeSequence) || c.Changes.Has(ChangeDefault):
		if d := renderDefault(f, next, "CURRENT_TIMESTAMP"); d != "" {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT %s", col, d))
		} else {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s DROP DEFAULT", col))
		}
	}
	return before, clauses, after
}

// postgresSequenceName is the name of the sequence backing an autoincrement
// column added after table creation.
func postgresSequenceName(table, column string) string {
	return strings.ToLower(table + "_" + column + "_seq")
}
