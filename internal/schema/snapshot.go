package schema

import "strings"

// TypeFamily is the dialect-independent family of a column type.
type TypeFamily string

const (
	FamilyInt      TypeFamily = "int"
	FamilyBigInt   TypeFamily = "bigint"
	FamilyFloat    TypeFamily = "float"
	FamilyDecimal  TypeFamily = "decimal"
	FamilyBoolean  TypeFamily = "boolean"
	FamilyString   TypeFamily = "string"
	FamilyDateTime TypeFamily = "datetime"
	FamilyJSON     TypeFamily = "json"
	FamilyBinary   TypeFamily = "binary"
	FamilyUUID     TypeFamily = "uuid"
	FamilyEnum     TypeFamily = "enum"
)

// Arity describes whether a column is required, nullable or a list.
type Arity string

const (
	ArityRequired Arity = "required"
	ArityNullable Arity = "nullable"
	ArityList     Arity = "list"
)

// DefaultKind distinguishes literal defaults from the engine-managed markers.
type DefaultKind string

const (
	DefaultLiteral     DefaultKind = "literal"
	DefaultNow         DefaultKind = "now"
	DefaultSequence    DefaultKind = "sequence"
	DefaultDBGenerated DefaultKind = "dbgenerated"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

type IndexKind string

const (
	IndexNormal IndexKind = "normal"
	IndexUnique IndexKind = "unique"
)

// ReferentialAction is an ON DELETE / ON UPDATE action. Empty means the
// database default.
type ReferentialAction string

const (
	ActionNoAction   ReferentialAction = "NO ACTION"
	ActionRestrict   ReferentialAction = "RESTRICT"
	ActionCascade    ReferentialAction = "CASCADE"
	ActionSetNull    ReferentialAction = "SET NULL"
	ActionSetDefault ReferentialAction = "SET DEFAULT"
)

// Snapshot is an immutable structural description of one database schema.
type Snapshot struct {
	Tables           []Table           `yaml:"tables" json:"tables"`
	Enums            []Enum            `yaml:"enums,omitempty" json:"enums,omitempty"`
	Views            []View            `yaml:"views,omitempty" json:"views,omitempty"`
	UserDefinedTypes []UserDefinedType `yaml:"userDefinedTypes,omitempty" json:"userDefinedTypes,omitempty"`
}

type Table struct {
	Name        string       `yaml:"name" json:"name"`
	Columns     []Column     `yaml:"columns" json:"columns"`
	Indexes     []Index      `yaml:"indexes,omitempty" json:"indexes,omitempty"`
	ForeignKeys []ForeignKey `yaml:"foreignKeys,omitempty" json:"foreignKeys,omitempty"`
	PrimaryKey  *PrimaryKey  `yaml:"primaryKey,omitempty" json:"primaryKey,omitempty"`
}

type PrimaryKey struct {
	Columns        []string `yaml:"columns" json:"columns"`
	ConstraintName string   `yaml:"name,omitempty" json:"name,omitempty"`
}

type Column struct {
	Name          string        `yaml:"name" json:"name"`
	Type          ColumnType    `yaml:"type" json:"type"`
	Default       *DefaultValue `yaml:"default,omitempty" json:"default,omitempty"`
	AutoIncrement bool          `yaml:"autoIncrement,omitempty" json:"autoIncrement,omitempty"`
	// PreviousName marks an explicit rename from a column of the previous snapshot.
	PreviousName string `yaml:"previousName,omitempty" json:"previousName,omitempty"`
}

type ColumnType struct {
	Family TypeFamily  `yaml:"family" json:"family"`
	Arity  Arity       `yaml:"arity" json:"arity"`
	Enum   string      `yaml:"enum,omitempty" json:"enum,omitempty"`
	Native *NativeType `yaml:"native,omitempty" json:"native,omitempty"`
}

// NativeType pins the exact database type, e.g. VarChar(191) or Decimal(10,2).
type NativeType struct {
	Name string `yaml:"name" json:"name"`
	Args []int  `yaml:"args,omitempty" json:"args,omitempty"`
}

type DefaultValue struct {
	Kind DefaultKind `yaml:"kind" json:"kind"`
	// Value holds the literal text, or the expression for db-generated defaults.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
}

type IndexColumn struct {
	Name          string    `yaml:"name" json:"name"`
	Sort          SortOrder `yaml:"sort,omitempty" json:"sort,omitempty"`
	Length        *int      `yaml:"length,omitempty" json:"length,omitempty"`
	OperatorClass string    `yaml:"operatorClass,omitempty" json:"operatorClass,omitempty"`
}

type Index struct {
	Name      string        `yaml:"name" json:"name"`
	Columns   []IndexColumn `yaml:"columns" json:"columns"`
	Kind      IndexKind     `yaml:"kind,omitempty" json:"kind,omitempty"`
	Algorithm string        `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	Clustered *bool         `yaml:"clustered,omitempty" json:"clustered,omitempty"`
}

type ForeignKey struct {
	ConstraintName    string            `yaml:"name,omitempty" json:"name,omitempty"`
	Columns           []string          `yaml:"columns" json:"columns"`
	ReferencedTable   string            `yaml:"referencedTable" json:"referencedTable"`
	ReferencedColumns []string          `yaml:"referencedColumns" json:"referencedColumns"`
	OnDelete          ReferentialAction `yaml:"onDelete,omitempty" json:"onDelete,omitempty"`
	OnUpdate          ReferentialAction `yaml:"onUpdate,omitempty" json:"onUpdate,omitempty"`
}

type Enum struct {
	Name     string   `yaml:"name" json:"name"`
	Variants []string `yaml:"variants" json:"variants"`
}

type View struct {
	Name string `yaml:"name" json:"name"`
}

type UserDefinedType struct {
	Name       string `yaml:"name" json:"name"`
	Definition string `yaml:"definition,omitempty" json:"definition,omitempty"`
}

// NamesEqual compares two identifiers with the given case sensitivity.
func NamesEqual(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// TableIndex returns the position of the named table, or -1.
func (s *Snapshot) TableIndex(name string, caseSensitive bool) int {
	for i := range s.Tables {
		if NamesEqual(s.Tables[i].Name, name, caseSensitive) {
			return i
		}
	}
	return -1
}

// EnumIndex returns the position of the named enum, or -1.
func (s *Snapshot) EnumIndex(name string) int {
	for i := range s.Enums {
		if s.Enums[i].Name == name {
			return i
		}
	}
	return -1
}

// FindEnum looks an enum up by name.
func (s *Snapshot) FindEnum(name string) *Enum {
	if i := s.EnumIndex(name); i >= 0 {
		return &s.Enums[i]
	}
	return nil
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string, caseSensitive bool) int {
	for i := range t.Columns {
		if NamesEqual(t.Columns[i].Name, name, caseSensitive) {
			return i
		}
	}
	return -1
}

// FindColumn looks a column up by exact name.
func (t *Table) FindColumn(name string) *Column {
	if i := t.ColumnIndex(name, true); i >= 0 {
		return &t.Columns[i]
	}
	return nil
}

// IsPrimaryKeyColumn reports whether the column takes part in the primary key.
func (t *Table) IsPrimaryKeyColumn(name string) bool {
	if t.PrimaryKey == nil {
		return false
	}
	for _, c := range t.PrimaryKey.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// ColumnNames returns the names of the index columns in order.
func (i *Index) ColumnNames() []string {
	names := make([]string, len(i.Columns))
	for n, c := range i.Columns {
		names[n] = c.Name
	}
	return names
}

// IsUnique reports whether the index enforces uniqueness.
func (i *Index) IsUnique() bool { return i.Kind == IndexUnique }

// IsRequired reports whether the column rejects NULL.
func (c *Column) IsRequired() bool { return c.Type.Arity == ArityRequired }

// IsList reports whether the column is a list (array) column.
func (c *Column) IsList() bool { return c.Type.Arity == ArityList }

// HasDefault reports whether inserting without a value succeeds because of a
// default or an autoincrement mechanism.
func (c *Column) HasDefault() bool {
	if c.AutoIncrement {
		return true
	}
	if c.Default == nil {
		return false
	}
	if c.Default.Kind == DefaultDBGenerated && strings.TrimSpace(c.Default.Value) == "" {
		return false
	}
	return true
}

// IsEnumTyped reports whether the column is typed by the named enum.
func (c *Column) IsEnumTyped(enum string) bool {
	return c.Type.Family == FamilyEnum && c.Type.Enum == enum
}
