package migrate

import (
	"fmt"
	"strings"

	"github.com/arwahdevops/dbmigrate/internal/schema"
	"github.com/arwahdevops/dbmigrate/internal/utils"
)

type mysqlFlavour struct{}

func NewMySQLFlavour() Flavour { return mysqlFlavour{} }

func (mysqlFlavour) Dialect() string { return "mysql" }

func (mysqlFlavour) Capabilities() Capabilities {
	return Capabilities{
		AlterColumn:               true,
		Enums:                     EnumInline,
		ReplacesEnumOnVariantDrop: true,
		IndexPrefixLength:         true,
		IndexRename:               true,
		AlterForeignKeys:          true,
		AutoIncrement:             AutoIncrementKeyword,
		// DDL statements commit implicitly.
		TransactionalDDL:         false,
		CaseSensitiveIdentifiers: false,
	}
}

func (mysqlFlavour) IndexesMatch(_, _ *schema.Index) bool { return true }

// PrimaryKeyChanged is column-based only: MySQL always names the key PRIMARY.
func (mysqlFlavour) PrimaryKeyChanged(schema.Pair[*schema.Table]) bool { return false }

func (mysqlFlavour) TableNeedsRedefine(*TableDiffer) bool { return false }

func (mysqlFlavour) RebuildStrategy() RebuildStrategy { return nil }

func (mysqlFlavour) Quote(name string) string { return utils.QuoteIdentifier(name, "mysql") }

func (mysqlFlavour) QuoteString(s string) string { return utils.QuoteLiteral(s, "mysql") }

var mysqlTypes = map[schema.TypeFamily]string{
	schema.FamilyInt:      "INTEGER",
	schema.FamilyBigInt:   "BIGINT",
	schema.FamilyFloat:    "DOUBLE",
	schema.FamilyDecimal:  "DECIMAL(65,30)",
	schema.FamilyBoolean:  "BOOLEAN",
	schema.FamilyString:   "VARCHAR(191)",
	schema.FamilyDateTime: "DATETIME(3)",
	schema.FamilyJSON:     "JSON",
	schema.FamilyBinary:   "LONGBLOB",
	schema.FamilyUUID:     "CHAR(36)",
}

func (f mysqlFlavour) RenderColumnType(col *schema.Column, snap *schema.Snapshot) string {
	if col.IsList() {
		// Lists are stored as JSON documents.
		return "JSON"
	}
	switch {
	case col.Type.Native != nil:
		return nativeType(col.Type.Native)
	case col.Type.Family == schema.FamilyEnum:
		return f.enumType(enumVariants(col, snap))
	default:
		return mysqlTypes[col.Type.Family]
	}
}

func (f mysqlFlavour) enumType(variants []string) string {
	quoted := make([]string, len(variants))
	for i, v := range variants {
		quoted[i] = f.QuoteString(v)
	}
	return fmt.Sprintf("ENUM(%s)", strings.Join(quoted, ", "))
}

func (f mysqlFlavour) RenderColumn(_ *schema.Table, col *schema.Column, snap *schema.Snapshot) string {
	return f.columnDefinition(col, f.RenderColumnType(col, snap), col)
}

// columnDefinition renders a column with an explicit type, taking the
// default from defaultFrom.
func (f mysqlFlavour) columnDefinition(col *schema.Column, typ string, defaultFrom *schema.Column) string {
	var b strings.Builder
	b.WriteString(f.Quote(col.Name) + " " + typ)
	if col.IsRequired() {
		b.WriteString(" NOT NULL")
	} else {
		b.WriteString(" NULL")
	}
	now := "CURRENT_TIMESTAMP"
	if defaultFrom.Type.Family == schema.FamilyDateTime && defaultFrom.Type.Native == nil {
		now = "CURRENT_TIMESTAMP(3)"
	}
	if d := renderDefault(f, defaultFrom, now); d != "" {
		b.WriteString(" DEFAULT " + d)
	}
	if col.AutoIncrement {
		b.WriteString(" AUTO_INCREMENT")
	}
	return b.String()
}

func (f mysqlFlavour) RenderCreateTable(table *schema.Table, snap *schema.Snapshot) string {
	var extra []string
	if table.PrimaryKey != nil {
		extra = append(extra, fmt.Sprintf("PRIMARY KEY (%s)", quoteAll(f, table.PrimaryKey.Columns)))
	}
	return createTableStatement(f, table, snap, extra...) + " DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"
}

func (f mysqlFlavour) RenderCreateIndex(table *schema.Table, idx *schema.Index) string {
	return fmt.Sprintf("CREATE %sINDEX %s ON %s(%s)", uniqueKeyword(idx), f.Quote(idx.Name), f.Quote(table.Name), indexColumns(f, idx, false))
}

func (f mysqlFlavour) RenderDropIndex(table *schema.Table, idx *schema.Index) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", f.Quote(idx.Name), f.Quote(table.Name))
}

func (f mysqlFlavour) RenderRenameIndex(table *schema.Table, indexes schema.Pair[*schema.Index]) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME INDEX %s TO %s", f.Quote(table.Name), f.Quote(indexes.Previous().Name), f.Quote(indexes.Next().Name))
}

func (f mysqlFlavour) RenderAddForeignKey(table *schema.Table, fk *schema.ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", f.Quote(table.Name), f.Quote(foreignKeyName(table, fk)), foreignKeyClause(f, fk))
}

func (f mysqlFlavour) RenderDropForeignKey(table *schema.Table, fk *schema.ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", f.Quote(table.Name), f.Quote(foreignKeyName(table, fk)))
}

func (f mysqlFlavour) RenderRenameTable(from, to string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s", f.Quote(from), f.Quote(to))
}

// Enums live in column types, so there is no standalone type to create or drop.
func (mysqlFlavour) RenderCreateEnum(*schema.Enum) []string { return nil }
func (mysqlFlavour) RenderDropEnum(*schema.Enum) []string   { return nil }

// RenderAlterEnum rewrites the inline ENUM of every column typed by the enum.
// Defaults on removed variants are replaced by the next column's default.
func (f mysqlFlavour) RenderAlterEnum(step *AlterEnum, schemas schema.Pair[*schema.Snapshot]) []string {
	prevSnap, nextSnap := schemas.Previous(), schemas.Next()
	prevEnum := &prevSnap.Enums[step.Index.Previous()]
	nextEnum := &nextSnap.Enums[step.Index.Next()]
	typ := f.enumType(nextEnum.Variants)

	dropped := make(map[string]bool, len(step.DroppedVariants))
	for _, v := range step.DroppedVariants {
		dropped[v] = true
	}
	replacement := make(map[ColumnRef]*schema.Column, len(step.PreviousUsagesAsDefault))
	for _, u := range step.PreviousUsagesAsDefault {
		if u.Next != nil {
			replacement[u.Previous] = &nextSnap.Tables[u.Next.Table].Columns[u.Next.Column]
		}
	}

	var stmts []string
	for ti := range prevSnap.Tables {
		t := &prevSnap.Tables[ti]
		for ci := range t.Columns {
			col := &t.Columns[ci]
			if !col.IsEnumTyped(prevEnum.Name) {
				continue
			}
			defaultFrom := col
			if col.Default != nil && col.Default.Kind == schema.DefaultLiteral && dropped[col.Default.Value] {
				defaultFrom = &schema.Column{Type: col.Type}
				if next, ok := replacement[ColumnRef{Table: ti, Column: ci}]; ok {
					defaultFrom = next
				}
			}
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s MODIFY %s", f.Quote(t.Name), f.columnDefinition(col, typ, defaultFrom)))
		}
	}
	return stmts
}

// RenderAlterTable renders a single ALTER TABLE. Column changes use MODIFY
// with the full next definition, or CHANGE when the column is also renamed.
func (f mysqlFlavour) RenderAlterTable(step *AlterTable, schemas schema.Pair[*schema.Snapshot]) []string {
	prevT := &schemas.Previous().Tables[step.Table.Previous()]
	nextT := &schemas.Next().Tables[step.Table.Next()]
	nextSnap := schemas.Next()

	var clauses []string
	for _, change := range step.Changes {
		switch c := change.(type) {
		case DropPrimaryKey:
			clauses = append(clauses, "DROP PRIMARY KEY")
		case AddPrimaryKey:
			clauses = append(clauses, fmt.Sprintf("ADD PRIMARY KEY (%s)", quoteAll(f, nextT.PrimaryKey.Columns)))
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
			switch {
			case c.Changes.OnlyRenamed():
				clauses = append(clauses, fmt.Sprintf("RENAME COLUMN %s TO %s", f.Quote(prevCol.Name), f.Quote(nextCol.Name)))
			case c.Changes.Has(ChangeRenamed):
				clauses = append(clauses, fmt.Sprintf("CHANGE %s %s", f.Quote(prevCol.Name), f.RenderColumn(nextT, nextCol, nextSnap)))
			default:
				clauses = append(clauses, "MODIFY "+f.RenderColumn(nextT, nextCol, nextSnap))
			}
		}
	}
	if len(clauses) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("ALTER TABLE %s %s", f.Quote(nextT.Name), strings.Join(clauses, ",\n"))}
}
