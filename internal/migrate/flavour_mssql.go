package migrate

import (
	"fmt"
	"strings"

	"github.com/arwahdevops/dbmigrate/internal/schema"
	"github.com/arwahdevops/dbmigrate/internal/utils"
)

type mssqlFlavour struct {
	rebuild *ShadowTableRebuild
}

func NewMSSQLFlavour() Flavour {
	f := mssqlFlavour{}
	f.rebuild = &ShadowTableRebuild{
		ShadowPrefix: "_dbmigrate_new_",
		AroundCopy:   mssqlIdentityInsert,
		AfterRename:  mssqlRestoreNames,
	}
	return f
}

func (mssqlFlavour) Dialect() string { return "sqlserver" }

func (mssqlFlavour) Capabilities() Capabilities {
	return Capabilities{
		AlterColumn:      true,
		Enums:            EnumEmulated,
		IndexClustering:  true,
		IndexRename:      true,
		AlterForeignKeys: true,
		AutoIncrement:    AutoIncrementIdentity,
		TransactionalDDL: true,
	}
}

func (mssqlFlavour) IndexesMatch(_, _ *schema.Index) bool { return true }

func (mssqlFlavour) PrimaryKeyChanged(tables schema.Pair[*schema.Table]) bool {
	prev, next := tables.Previous().PrimaryKey, tables.Next().PrimaryKey
	return prev.ConstraintName != "" && next.ConstraintName != "" && !strings.EqualFold(prev.ConstraintName, next.ConstraintName)
}

// TableNeedsRedefine is true when an IDENTITY property changes; SQL Server
// cannot add or remove it from an existing column.
func (mssqlFlavour) TableNeedsRedefine(td *TableDiffer) bool {
	for _, cd := range td.ChangedColumns() {
		if cd.Changes.Has(ChangeSequence) {
			return true
		}
	}
	return false
}

func (f mssqlFlavour) RebuildStrategy() RebuildStrategy { return f.rebuild }

func (mssqlFlavour) Quote(name string) string { return utils.QuoteIdentifier(name, "sqlserver") }

func (mssqlFlavour) QuoteString(s string) string { return utils.QuoteLiteral(s, "sqlserver") }

var mssqlTypes = map[schema.TypeFamily]string{
	schema.FamilyInt:      "INT",
	schema.FamilyBigInt:   "BIGINT",
	schema.FamilyFloat:    "FLOAT(53)",
	schema.FamilyDecimal:  "DECIMAL(32,16)",
	schema.FamilyBoolean:  "BIT",
	schema.FamilyString:   "NVARCHAR(1000)",
	schema.FamilyDateTime: "DATETIME2",
	schema.FamilyJSON:     "NVARCHAR(max)",
	schema.FamilyBinary:   "VARBINARY(max)",
	schema.FamilyUUID:     "UNIQUEIDENTIFIER",
	schema.FamilyEnum:     "NVARCHAR(1000)",
}

func (mssqlFlavour) RenderColumnType(col *schema.Column, _ *schema.Snapshot) string {
	if col.IsList() {
		return "NVARCHAR(max)"
	}
	if col.Type.Native != nil {
		return nativeType(col.Type.Native)
	}
	return mssqlTypes[col.Type.Family]
}

// defaultConstraintName names the constraint holding a column default.
func defaultConstraintName(table, column string) string {
	return table + "_" + column + "_df"
}

func (f mssqlFlavour) RenderColumn(table *schema.Table, col *schema.Column, snap *schema.Snapshot) string {
	var b strings.Builder
	b.WriteString(f.Quote(col.Name) + " " + f.RenderColumnType(col, snap))
	if col.AutoIncrement {
		b.WriteString(" IDENTITY(1,1)")
	}
	if col.IsRequired() {
		b.WriteString(" NOT NULL")
	} else {
		b.WriteString(" NULL")
	}
	if d := renderDefault(f, col, "CURRENT_TIMESTAMP"); d != "" {
		fmt.Fprintf(&b, " CONSTRAINT %s DEFAULT %s", f.Quote(defaultConstraintName(table.Name, col.Name)), d)
	}
	return b.String()
}

// primaryKeyClause renders the key as CLUSTERED unless an index claims
// the clustering.
func (f mssqlFlavour) primaryKeyClause(table *schema.Table) string {
	clustering := "CLUSTERED"
	for i := range table.Indexes {
		if isClustered(&table.Indexes[i]) {
			clustering = "NONCLUSTERED"
		}
	}
	return fmt.Sprintf("CONSTRAINT %s PRIMARY KEY %s (%s)", f.Quote(primaryKeyName(table)), clustering, quoteAll(f, table.PrimaryKey.Columns))
}

func (f mssqlFlavour) RenderCreateTable(table *schema.Table, snap *schema.Snapshot) string {
	var extra []string
	if table.PrimaryKey != nil {
		extra = append(extra, f.primaryKeyClause(table))
	}
	return createTableStatement(f, table, snap, extra...)
}

func (f mssqlFlavour) RenderCreateIndex(table *schema.Table, idx *schema.Index) string {
	clustering := ""
	if idx.Clustered != nil {
		if *idx.Clustered {
			clustering = "CLUSTERED "
		} else {
			clustering = "NONCLUSTERED "
		}
	}
	return fmt.Sprintf("CREATE %s%sINDEX %s ON %s(%s)", uniqueKeyword(idx), clustering, f.Quote(idx.Name), f.Quote(table.Name), indexColumns(f, idx, false))
}

func (f mssqlFlavour) RenderDropIndex(table *schema.Table, idx *schema.Index) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", f.Quote(idx.Name), f.Quote(table.Name))
}

func (f mssqlFlavour) RenderRenameIndex(table *schema.Table, indexes schema.Pair[*schema.Index]) string {
	return f.rename(f.Quote(table.Name)+"."+f.Quote(indexes.Previous().Name), indexes.Next().Name, "INDEX")
}

// rename renders an sp_rename call. objectType may be empty.
func (f mssqlFlavour) rename(object, newName, objectType string) string {
	stmt := fmt.Sprintf("EXEC SP_RENAME %s, %s", f.QuoteString(object), f.QuoteString(newName))
	if objectType != "" {
		stmt += ", " + f.QuoteString(objectType)
	}
	return stmt
}

func (f mssqlFlavour) RenderAddForeignKey(table *schema.Table, fk *schema.ForeignKey) string {
	// RESTRICT is spelled NO ACTION.
	key := *fk
	for _, a := range []*schema.ReferentialAction{&key.OnDelete, &key.OnUpdate} {
		if *a == schema.ActionRestrict {
			*a = schema.ActionNoAction
		}
	}
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", f.Quote(table.Name), f.Quote(foreignKeyName(table, fk)), foreignKeyClause(f, &key))
}

func (f mssqlFlavour) RenderDropForeignKey(table *schema.Table, fk *schema.ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", f.Quote(table.Name), f.Quote(foreignKeyName(table, fk)))
}

func (f mssqlFlavour) RenderRenameTable(from, to string) string {
	return f.rename(from, to, "")
}

func (mssqlFlavour) RenderCreateEnum(*schema.Enum) []string { return nil }
func (mssqlFlavour) RenderDropEnum(*schema.Enum) []string   { return nil }

func (mssqlFlavour) RenderAlterEnum(*AlterEnum, schema.Pair[*schema.Snapshot]) []string {
	return nil
}

// RenderAlterTable renders one statement per change. Defaults are separate
// constraints that must be dropped before the column they guard changes.
func (f mssqlFlavour) RenderAlterTable(step *AlterTable, schemas schema.Pair[*schema.Snapshot]) []string {
	prevT := &schemas.Previous().Tables[step.Table.Previous()]
	nextT := &schemas.Next().Tables[step.Table.Next()]
	nextSnap := schemas.Next()
	table := f.Quote(nextT.Name)

	dropDefault := func(col *schema.Column) string {
		return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, f.Quote(defaultConstraintName(prevT.Name, col.Name)))
	}
	addDefault := func(col *schema.Column) (string, bool) {
		d := renderDefault(f, col, "CURRENT_TIMESTAMP")
		if d == "" {
			return "", false
		}
		return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s DEFAULT %s FOR %s", table, f.Quote(defaultConstraintName(nextT.Name, col.Name)), d, f.Quote(col.Name)), true
	}
	hasDefault := func(col *schema.Column) bool { return renderDefault(f, col, "CURRENT_TIMESTAMP") != "" }

	var stmts []string
	for _, change := range step.Changes {
		switch c := change.(type) {
		case DropPrimaryKey:
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, f.Quote(primaryKeyName(prevT))))
		case AddPrimaryKey:
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD %s", table, f.primaryKeyClause(nextT)))
		case AddColumn:
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD %s", table, f.RenderColumn(nextT, &nextT.Columns[c.ColumnIndex], nextSnap)))
		case DropColumn:
			col := &prevT.Columns[c.ColumnIndex]
			if hasDefault(col) {
				stmts = append(stmts, dropDefault(col))
			}
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, f.Quote(col.Name)))
		case DropAndRecreateColumn:
			col := &prevT.Columns[c.Columns.Previous()]
			if hasDefault(col) {
				stmts = append(stmts, dropDefault(col))
			}
			stmts = append(stmts,
				fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, f.Quote(col.Name)),
				fmt.Sprintf("ALTER TABLE %s ADD %s", table, f.RenderColumn(nextT, &nextT.Columns[c.Columns.Next()], nextSnap)))
		case AlterColumn:
			prevCol, nextCol := &prevT.Columns[c.Columns.Previous()], &nextT.Columns[c.Columns.Next()]
			if c.Changes.Has(ChangeRenamed) {
				stmts = append(stmts, f.rename(nextT.Name+"."+prevCol.Name, nextCol.Name, "COLUMN"))
			}
			if c.Changes.OnlyRenamed() {
				continue
			}
			redefine := c.Changes.Has(ChangeType) || c.Changes.Has(ChangeArity)
			resetDefault := redefine || c.Changes.Has(ChangeDefault)
			if resetDefault && hasDefault(prevCol) {
				stmts = append(stmts, dropDefault(prevCol))
			}
			if redefine {
				nullability := "NULL"
				if nextCol.IsRequired() {
					nullability = "NOT NULL"
				}
				stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s %s", table, f.Quote(nextCol.Name), f.RenderColumnType(nextCol, nextSnap), nullability))
			}
			if resetDefault {
				if stmt, ok := addDefault(nextCol); ok {
					stmts = append(stmts, stmt)
				}
			}
		}
	}
	return stmts
}

// mssqlIdentityInsert allows explicit values in IDENTITY columns while rows
// are copied into the shadow table.
func mssqlIdentityInsert(f Flavour, shadow *schema.Table) (before, after []string) {
	for i := range shadow.Columns {
		if shadow.Columns[i].AutoIncrement {
			return []string{"SET IDENTITY_INSERT " + f.Quote(shadow.Name) + " ON"},
				[]string{"SET IDENTITY_INSERT " + f.Quote(shadow.Name) + " OFF"}
		}
	}
	return nil, nil
}

// mssqlRestoreNames renames constraints that were created under the shadow
// table name.
func mssqlRestoreNames(f Flavour, shadow, final *schema.Table) []string {
	m := f.(mssqlFlavour)
	var stmts []string
	if shadow.PrimaryKey != nil {
		stmts = append(stmts, m.rename(primaryKeyName(shadow), primaryKeyName(final), "OBJECT"))
	}
	for i := range shadow.Columns {
		col := &shadow.Columns[i]
		if renderDefault(f, col, "CURRENT_TIMESTAMP") == "" {
			continue
		}
		stmts = append(stmts, m.rename(defaultConstraintName(shadow.Name, col.Name), defaultConstraintName(final.Name, col.Name), "OBJECT"))
	}
	return stmts
}
