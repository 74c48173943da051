package migrate

import (
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/arwahdevops/dbmigrate/internal/schema"
	"github.com/arwahdevops/dbmigrate/internal/utils"
)

type sqliteFlavour struct {
	rebuild *ShadowTableRebuild
}

func NewSQLiteFlavour() Flavour {
	return sqliteFlavour{
		rebuild: &ShadowTableRebuild{
			ShadowPrefix: "new_",
			Prologue:     []string{"PRAGMA defer_foreign_keys=ON", "PRAGMA foreign_keys=OFF"},
			Epilogue:     []string{"PRAGMA foreign_keys=ON", "PRAGMA defer_foreign_keys=OFF"},
		},
	}
}

func (sqliteFlavour) Dialect() string { return "sqlite" }

func (sqliteFlavour) Capabilities() Capabilities {
	return Capabilities{
		Enums:            EnumEmulated,
		AutoIncrement:    AutoIncrementKeyword,
		TransactionalDDL: true,
	}
}

func (sqliteFlavour) IndexesMatch(_, _ *schema.Index) bool { return true }

func (sqliteFlavour) PrimaryKeyChanged(schema.Pair[*schema.Table]) bool { return false }

// TableNeedsRedefine reports dropped columns, foreign key and primary key
// changes, and added columns ALTER TABLE ADD COLUMN cannot express. Column
// alterations are covered by the missing AlterColumn capability.
func (sqliteFlavour) TableNeedsRedefine(td *TableDiffer) bool {
	if len(td.DroppedColumns()) > 0 || len(td.CreatedForeignKeys()) > 0 || len(td.DroppedForeignKeys()) > 0 {
		return true
	}
	if td.PrimaryKeyChanged() {
		return true
	}
	next := td.Next()
	for _, ci := range td.AddedColumns() {
		col := &next.Columns[ci]
		if col.AutoIncrement || next.IsPrimaryKeyColumn(col.Name) {
			return true
		}
		if col.IsRequired() && col.Default == nil {
			return true
		}
		if col.Default != nil && (col.Default.Kind == schema.DefaultNow || col.Default.Kind == schema.DefaultDBGenerated) {
			return true
		}
	}
	return false
}

func (f sqliteFlavour) RebuildStrategy() RebuildStrategy { return f.rebuild }

func (sqliteFlavour) Quote(name string) string { return utils.QuoteIdentifier(name, "sqlite") }

func (sqliteFlavour) QuoteString(s string) string { return utils.QuoteLiteral(s, "sqlite") }

var sqliteTypes = map[schema.TypeFamily]string{
	schema.FamilyInt:      "INTEGER",
	schema.FamilyBigInt:   "BIGINT",
	schema.FamilyFloat:    "REAL",
	schema.FamilyDecimal:  "DECIMAL",
	schema.FamilyBoolean:  "BOOLEAN",
	schema.FamilyString:   "TEXT",
	schema.FamilyDateTime: "DATETIME",
	schema.FamilyJSON:     "TEXT",
	schema.FamilyBinary:   "BLOB",
	schema.FamilyUUID:     "TEXT",
	schema.FamilyEnum:     "TEXT",
}

func (sqliteFlavour) RenderColumnType(col *schema.Column, _ *schema.Snapshot) string {
	if col.IsList() {
		return "TEXT"
	}
	if col.Type.Native != nil {
		return nativeType(col.Type.Native)
	}
	return sqliteTypes[col.Type.Family]
}

// inlinePrimaryKey reports whether col is declared INTEGER PRIMARY KEY
// AUTOINCREMENT on its own line.
func inlinePrimaryKey(table *schema.Table, col *schema.Column) bool {
	return col.AutoIncrement && table.PrimaryKey != nil && len(table.PrimaryKey.Columns) == 1 &&
		schema.NamesEqual(table.PrimaryKey.Columns[0], col.Name, false)
}

func (f sqliteFlavour) RenderColumn(table *schema.Table, col *schema.Column, snap *schema.Snapshot) string {
	if table != nil && inlinePrimaryKey(table, col) {
		return f.Quote(col.Name) + " INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT"
	}
	var b strings.Builder
	b.WriteString(f.Quote(col.Name) + " " + f.RenderColumnType(col, snap))
	if col.IsRequired() {
		b.WriteString(" NOT NULL")
	}
	if d := renderDefault(f, col, "CURRENT_TIMESTAMP"); d != "" {
		b.WriteString(" DEFAULT " + d)
	}
	return b.String()
}

// RenderCreateTable declares foreign keys inline since SQLite cannot add
// them later.
func (f sqliteFlavour) RenderCreateTable(table *schema.Table, snap *schema.Snapshot) string {
	var extra []string
	if pk := table.PrimaryKey; pk != nil {
		inline := false
		for i := range table.Columns {
			if inlinePrimaryKey(table, &table.Columns[i]) {
				inline = true
				break
			}
		}
		if !inline {
			extra = append(extra, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)", f.Quote(primaryKeyName(table)), quoteAll(f, pk.Columns)))
		}
	}
	for i := range table.ForeignKeys {
		fk := &table.ForeignKeys[i]
		extra = append(extra, fmt.Sprintf("CONSTRAINT %s %s", f.Quote(foreignKeyName(table, fk)), foreignKeyClause(f, fk)))
	}
	return createTableStatement(f, table, snap, extra...)
}

func (f sqliteFlavour) RenderCreateIndex(table *schema.Table, idx *schema.Index) string {
	return fmt.Sprintf("CREATE %sINDEX %s ON %s(%s)", uniqueKeyword(idx), f.Quote(idx.Name), f.Quote(table.Name), indexColumns(f, idx, false))
}

func (f sqliteFlavour) RenderDropIndex(_ *schema.Table, idx *schema.Index) string {
	return "DROP INDEX " + f.Quote(idx.Name)
}

// Renamed indexes are redefined and foreign keys only change through a
// table rebuild, so these steps are never planned for SQLite and render
// nothing.
func (sqliteFlavour) RenderRenameIndex(*schema.Table, schema.Pair[*schema.Index]) string { return "" }
func (sqliteFlavour) RenderAddForeignKey(*schema.Table, *schema.ForeignKey) string       { return "" }
func (sqliteFlavour) RenderDropForeignKey(*schema.Table, *schema.ForeignKey) string      { return "" }

func (f sqliteFlavour) RenderRenameTable(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", f.Quote(from), f.Quote(to))
}

func (sqliteFlavour) RenderCreateEnum(*schema.Enum) []string { return nil }
func (sqliteFlavour) RenderDropEnum(*schema.Enum) []string   { return nil }

func (sqliteFlavour) RenderAlterEnum(*AlterEnum, schema.Pair[*schema.Snapshot]) []string {
	return nil
}

// RenderAlterTable handles what is left after TableNeedsRedefine: added
// columns and pure renames, one statement each.
func (f sqliteFlavour) RenderAlterTable(step *AlterTable, schemas schema.Pair[*schema.Snapshot]) []string {
	prevT := &schemas.Previous().Tables[step.Table.Previous()]
	nextT := &schemas.Next().Tables[step.Table.Next()]
	table := f.Quote(nextT.Name)

	var stmts []string
	for _, change := range step.Changes {
		switch c := change.(type) {
		case AddColumn:
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, f.RenderColumn(nil, &nextT.Columns[c.ColumnIndex], schemas.Next())))
		case AlterColumn:
			if c.Changes.Has(ChangeRenamed) {
				stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table,
					f.Quote(prevT.Columns[c.Columns.Previous()].Name), f.Quote(nextT.Columns[c.Columns.Next()].Name)))
			}
		case DropColumn:
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, f.Quote(prevT.Columns[c.ColumnIndex].Name)))
		}
	}
	return stmts
}

// PrepareSession turns foreign key enforcement off on conn for the duration
// of the migration. SQLite ignores the pragma inside a transaction, and with
// enforcement on, dropping a rebuilt parent fires the actions of its child
// keys. Integrity is verified with foreign_key_check before commit instead.
func (sqliteFlavour) PrepareSession(conn *gorm.DB) (verify func(*gorm.DB) error, restore func() error, err error) {
	var enabled int
	if err := conn.Raw("PRAGMA foreign_keys").Scan(&enabled).Error; err != nil {
		return nil, nil, fmt.Errorf("reading foreign_keys pragma: %w", err)
	}
	if enabled == 0 {
		return nil, nil, nil
	}
	if err := conn.Exec("PRAGMA foreign_keys=OFF").Error; err != nil {
		return nil, nil, fmt.Errorf("disabling foreign keys: %w", err)
	}
	restore = func() error { return conn.Exec("PRAGMA foreign_keys=ON").Error }
	return sqliteForeignKeyCheck, restore, nil
}

// sqliteForeignKeyCheck fails when any row violates a foreign key.
func sqliteForeignKeyCheck(db *gorm.DB) error {
	rows, err := db.Raw("PRAGMA foreign_key_check").Rows()
	if err != nil {
		return fmt.Errorf("running foreign_key_check: %w", err)
	}
	defer rows.Close()

	var (
		violations    int
		table, parent string
		rowID         sql.NullInt64
		fkID          int
		first         string
	)
	for rows.Next() {
		if err := rows.Scan(&table, &rowID, &parent, &fkID); err != nil {
			return fmt.Errorf("scanning foreign_key_check: %w", err)
		}
		if violations == 0 {
			first = fmt.Sprintf("row %d of '%s' references a missing row of '%s'", rowID.Int64, table, parent)
		}
		violations++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading foreign_key_check: %w", err)
	}
	if violations > 0 {
		return fmt.Errorf("foreign key check found %d violations, first: %s", violations, first)
	}
	return nil
}
