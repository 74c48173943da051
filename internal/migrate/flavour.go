package migrate

import (
	"fmt"
	"strings"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// EnumRepresentation describes how a dialect stores enums.
type EnumRepresentation int

const (
	// EnumNative is a standalone database type (CREATE TYPE ... AS ENUM).
	EnumNative EnumRepresentation = iota
	// EnumInline is spelled out in every column type (ENUM('a','b')).
	EnumInline
	// EnumEmulated stores variants as plain text.
	EnumEmulated
)

// AutoIncrementMechanism describes how a dialect generates column values.
type AutoIncrementMechanism int

const (
	AutoIncrementSerial AutoIncrementMechanism = iota
	AutoIncrementIdentity
	AutoIncrementKeyword
)

// Capabilities is the behaviour table the planner and renderer consult.
type Capabilities struct {
	AlterColumn               bool
	Enums                     EnumRepresentation
	ReplacesEnumOnVariantDrop bool
	IndexClustering           bool
	IndexAlgorithms           bool
	IndexPrefixLength         bool
	IndexRename               bool
	// AlterForeignKeys is false when foreign keys can only be declared inside
	// CREATE TABLE.
	AlterForeignKeys         bool
	AutoIncrement            AutoIncrementMechanism
	TransactionalDDL         bool
	CaseSensitiveIdentifiers bool
}

// Flavour is everything dialect-specific in the pipeline.
type Flavour interface {
	Dialect() string
	Capabilities() Capabilities

	// IndexesMatch refines structural index equality.
	IndexesMatch(previous, next *schema.Index) bool
	// PrimaryKeyChanged refines primary key comparison beyond the column list.
	PrimaryKeyChanged(tables schema.Pair[*schema.Table]) bool
	// TableNeedsRedefine reports whether the table diff cannot be expressed
	// as ALTER TABLE.
	TableNeedsRedefine(table *TableDiffer) bool
	// RebuildStrategy returns nil when the dialect cannot rebuild tables.
	RebuildStrategy() RebuildStrategy

	Quote(name string) string
	QuoteString(s string) string
	RenderColumnType(col *schema.Column, snap *schema.Snapshot) string
	RenderColumn(table *schema.Table, col *schema.Column, snap *schema.Snapshot) string
	RenderCreateTable(table *schema.Table, snap *schema.Snapshot) string
	RenderCreateIndex(table *schema.Table, index *schema.Index) string
	RenderDropIndex(table *schema.Table, index *schema.Index) string
	RenderRenameIndex(table *schema.Table, indexes schema.Pair[*schema.Index]) string
	RenderAddForeignKey(table *schema.Table, fk *schema.ForeignKey) string
	RenderDropForeignKey(table *schema.Table, fk *schema.ForeignKey) string
	RenderAlterTable(step *AlterTable, schemas schema.Pair[*schema.Snapshot]) []string
	RenderCreateEnum(enum *schema.Enum) []string
	RenderDropEnum(enum *schema.Enum) []string
	RenderAlterEnum(step *AlterEnum, schemas schema.Pair[*schema.Snapshot]) []string
	RenderRenameTable(from, to string) string
}

// FlavourFor resolves a flavour by dialect name.
func FlavourFor(dialect string) (Flavour, error) {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return NewPostgresFlavour(), nil
	case "mysql":
		return NewMySQLFlavour(), nil
	case "sqlite", "sqlite3":
		return NewSQLiteFlavour(), nil
	case "mssql", "sqlserver":
		return NewMSSQLFlavour(), nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
}
