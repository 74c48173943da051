package schema

import (
	"bytes"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a snapshot from a YAML or JSON file.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file '%s': %w", path, err)
	}
	snap, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot file '%s': %w", path, err)
	}
	return snap, nil
}

// Parse decodes a snapshot document. JSON is accepted as a subset of YAML.
// Unknown fields are rejected so typos do not silently drop structure.
func Parse(data []byte) (*Snapshot, error) {
	snap := &Snapshot{}
	if len(bytes.TrimSpace(data)) == 0 {
		return snap, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	snap.applyDefaults()
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Snapshot) applyDefaults() {
	for ti := range s.Tables {
		t := &s.Tables[ti]
		for ci := range t.Columns {
			if t.Columns[ci].Type.Arity == "" {
				t.Columns[ci].Type.Arity = ArityRequired
			}
		}
		for ii := range t.Indexes {
			idx := &t.Indexes[ii]
			if idx.Kind == "" {
				idx.Kind = IndexNormal
			}
			for ci := range idx.Columns {
				if idx.Columns[ci].Sort == "" {
					idx.Columns[ci].Sort = SortAsc
				}
			}
		}
	}
}

// Validate checks the snapshot's internal references. All problems are
// reported together.
func (s *Snapshot) Validate() error {
	var errs error
	tables := make(map[string]bool, len(s.Tables))
	for ti := range s.Tables {
		t := &s.Tables[ti]
		if t.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("table #%d has no name", ti))
			continue
		}
		if tables[t.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate table '%s'", t.Name))
		}
		tables[t.Name] = true
		errs = multierr.Append(errs, s.validateTable(t))
	}
	for ti := range s.Tables {
		for _, fk := range s.Tables[ti].ForeignKeys {
			if !tables[fk.ReferencedTable] {
				errs = multierr.Append(errs, fmt.Errorf("table '%s': foreign key references unknown table '%s'", s.Tables[ti].Name, fk.ReferencedTable))
			}
		}
	}
	enums := make(map[string]bool, len(s.Enums))
	for _, e := range s.Enums {
		if enums[e.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate enum '%s'", e.Name))
		}
		enums[e.Name] = true
	}
	return errs
}

func (s *Snapshot) validateTable(t *Table) error {
	var errs error
	columns := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if columns[c.Name] {
			errs = multierr.Append(errs, fmt.Errorf("table '%s': duplicate column '%s'", t.Name, c.Name))
		}
		columns[c.Name] = true
		if c.Type.Family == "" {
			errs = multierr.Append(errs, fmt.Errorf("table '%s': column '%s' has no type family", t.Name, c.Name))
		}
		if c.Type.Family == FamilyEnum && s.FindEnum(c.Type.Enum) == nil {
			errs = multierr.Append(errs, fmt.Errorf("table '%s': column '%s' references unknown enum '%s'", t.Name, c.Name, c.Type.Enum))
		}
		if c.Default != nil {
			switch c.Default.Kind {
			case DefaultLiteral, DefaultNow, DefaultSequence, DefaultDBGenerated:
			default:
				errs = multierr.Append(errs, fmt.Errorf("table '%s': column '%s' has unknown default kind '%s'", t.Name, c.Name, c.Default.Kind))
			}
		}
	}
	checkColumns := func(what string, names []string) {
		for _, n := range names {
			if !columns[n] {
				errs = multierr.Append(errs, fmt.Errorf("table '%s': %s references unknown column '%s'", t.Name, what, n))
			}
		}
	}
	if t.PrimaryKey != nil {
		checkColumns("primary key", t.PrimaryKey.Columns)
	}
	for _, idx := range t.Indexes {
		checkColumns(fmt.Sprintf("index '%s'", idx.Name), idx.ColumnNames())
	}
	for _, fk := range t.ForeignKeys {
		checkColumns("foreign key", fk.Columns)
		if len(fk.Columns) != len(fk.ReferencedColumns) {
			errs = multierr.Append(errs, fmt.Errorf("table '%s': foreign key on (%v) has %d referenced columns", t.Name, fk.Columns, len(fk.ReferencedColumns)))
		}
	}
	return errs
}
