package migrate

import (
	"sort"
	"strings"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// IndexPair is a matched previous/next index.
type IndexPair struct {
	Indexes schema.Pair[int]
	// Renamed is set when the pair was matched by signature under a new name.
	Renamed bool
	// Changed is set when algorithm or clustering differ.
	Changed bool
}

// TableDiffer holds the comparison of one matched table.
type TableDiffer struct {
	Tables schema.Pair[int]
	db     *differDatabase

	columnPairs    []*ColumnDiffer
	addedColumns   []int
	droppedColumns []int

	foreignKeyPairs    []schema.Pair[int]
	createdForeignKeys []int
	droppedForeignKeys []int

	indexPairs     []IndexPair
	createdIndexes []int
	droppedIndexes []int
}

func newTableDiffer(db *differDatabase, pair schema.Pair[int]) *TableDiffer {
	t := &TableDiffer{Tables: pair, db: db}
	t.pairColumns()
	t.pairForeignKeys()
	t.pairIndexes()
	return t
}

func (t *TableDiffer) tables() schema.Pair[*schema.Table] { return t.db.tablePair(t.Tables) }

// Previous returns the previous table.
func (t *TableDiffer) Previous() *schema.Table { return t.tables().Previous() }

// Next returns the next table.
func (t *TableDiffer) Next() *schema.Table { return t.tables().Next() }

func (t *TableDiffer) Flavour() Flavour { return t.db.flavour }

func (t *TableDiffer) ColumnPairs() []*ColumnDiffer { return t.columnPairs }
func (t *TableDiffer) AddedColumns() []int          { return t.addedColumns }
func (t *TableDiffer) DroppedColumns() []int        { return t.droppedColumns }
func (t *TableDiffer) CreatedForeignKeys() []int    { return t.createdForeignKeys }
func (t *TableDiffer) DroppedForeignKeys() []int    { return t.droppedForeignKeys }
func (t *TableDiffer) IndexPairs() []IndexPair      { return t.indexPairs }
func (t *TableDiffer) CreatedIndexes() []int        { return t.createdIndexes }
func (t *TableDiffer) DroppedIndexes() []int        { return t.droppedIndexes }

// ForeignKeyPairs returns the keys kept unchanged on both sides.
func (t *TableDiffer) ForeignKeyPairs() []schema.Pair[int] { return t.foreignKeyPairs }

// ChangedColumns returns the column pairs that differ.
func (t *TableDiffer) ChangedColumns() []*ColumnDiffer {
	var out []*ColumnDiffer
	for _, c := range t.columnPairs {
		if !c.Changes.IsEmpty() {
			out = append(out, c)
		}
	}
	return out
}

// pairColumns matches columns by name, then pairs the remaining next columns
// that declare a previous name with the matching unpaired previous column.
func (t *TableDiffer) pairColumns() {
	tables := t.tables()
	prev, next := tables.Previous(), tables.Next()
	cs := t.db.caseSensitive

	prevMatched := make([]bool, len(prev.Columns))
	nextMatched := make([]bool, len(next.Columns))
	type match struct {
		pair    schema.Pair[int]
		renamed bool
	}
	var matches []match

	for n := range next.Columns {
		p := prev.ColumnIndex(next.Columns[n].Name, cs)
		if p < 0 || prevMatched[p] {
			continue
		}
		prevMatched[p], nextMatched[n] = true, true
		matches = append(matches, match{pair: schema.NewPair(p, n)})
	}
	for n := range next.Columns {
		if nextMatched[n] || next.Columns[n].PreviousName == "" {
			continue
		}
		p := prev.ColumnIndex(next.Columns[n].PreviousName, cs)
		if p < 0 || prevMatched[p] {
			continue
		}
		prevMatched[p], nextMatched[n] = true, true
		matches = append(matches, match{pair: schema.NewPair(p, n), renamed: true})
	}

	// Keep pairs in previous column order.
	byPrev := make(map[int]match, len(matches))
	for _, m := range matches {
		byPrev[m.pair.Previous()] = m
	}
	for p := range prev.Columns {
		m, ok := byPrev[p]
		if !ok {
			t.droppedColumns = append(t.droppedColumns, p)
			continue
		}
		t.columnPairs = append(t.columnPairs, newColumnDiffer(tables, m.pair, m.renamed))
	}
	for n := range next.Columns {
		if !nextMatched[n] {
			t.addedColumns = append(t.addedColumns, n)
		}
	}
}

// PrimaryKeyChanged compares the primary key column lists and asks the
// flavour for dialect-specific differences.
func (t *TableDiffer) PrimaryKeyChanged() bool {
	tables := t.tables()
	prev, next := tables.Previous().PrimaryKey, tables.Next().PrimaryKey
	if prev == nil || next == nil {
		return prev != next
	}
	// A renamed primary key column keeps the constraint.
	if !namesListEqual(t.renamedColumns(prev.Columns), next.Columns, t.db.caseSensitive) {
		return true
	}
	return t.db.flavour.PrimaryKeyChanged(tables)
}

// DroppedPrimaryKey reports that the previous primary key goes away or is replaced.
func (t *TableDiffer) DroppedPrimaryKey() bool {
	return t.Previous().PrimaryKey != nil && t.PrimaryKeyChanged()
}

// AddedPrimaryKey reports that the next primary key must be created.
func (t *TableDiffer) AddedPrimaryKey() bool {
	return t.Next().PrimaryKey != nil && t.PrimaryKeyChanged()
}

func (t *TableDiffer) pairForeignKeys() {
	tables := t.tables()
	prev, next := tables.Previous(), tables.Next()
	nextMatched := make([]bool, len(next.ForeignKeys))

	for p := range prev.ForeignKeys {
		found := -1
		for n := range next.ForeignKeys {
			if !nextMatched[n] && t.foreignKeysMatch(&prev.ForeignKeys[p], &next.ForeignKeys[n]) {
				found = n
				break
			}
		}
		if found < 0 {
			t.droppedForeignKeys = append(t.droppedForeignKeys, p)
			continue
		}
		nextMatched[found] = true
		// Matched keys with different referential actions are recreated.
		if !referentialActionsEqual(&prev.ForeignKeys[p], &next.ForeignKeys[found]) {
			t.droppedForeignKeys = append(t.droppedForeignKeys, p)
			t.createdForeignKeys = append(t.createdForeignKeys, found)
			continue
		}
		t.foreignKeyPairs = append(t.foreignKeyPairs, schema.NewPair(p, found))
	}
	for n := range next.ForeignKeys {
		if !nextMatched[n] {
			t.createdForeignKeys = append(t.createdForeignKeys, n)
		}
	}
	sort.Ints(t.createdForeignKeys)
}

// foreignKeysMatch compares constrained columns, referenced table and
// referenced columns. Constraint names are ignored.
func (t *TableDiffer) foreignKeysMatch(a, b *schema.ForeignKey) bool {
	cs := t.db.caseSensitive
	return schema.NamesEqual(a.ReferencedTable, b.ReferencedTable, cs) &&
		namesListEqual(t.renamedColumns(a.Columns), b.Columns, cs) &&
		namesListEqual(a.ReferencedColumns, b.ReferencedColumns, cs)
}

func referentialActionsEqual(a, b *schema.ForeignKey) bool {
	return normalizeAction(a.OnDelete) == normalizeAction(b.OnDelete) &&
		normalizeAction(a.OnUpdate) == normalizeAction(b.OnUpdate)
}

func normalizeAction(a schema.ReferentialAction) schema.ReferentialAction {
	up := schema.ReferentialAction(strings.ToUpper(strings.TrimSpace(string(a))))
	if up == "" {
		return schema.ActionNoAction
	}
	return up
}

// renamedColumns maps previous column names to their next names so keys on
// renamed columns still match.
func (t *TableDiffer) renamedColumns(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	for _, cp := range t.columnPairs {
		if !cp.Changes.Has(ChangeRenamed) {
			continue
		}
		for i, n := range out {
			if n == cp.Previous().Name {
				out[i] = cp.Next().Name
			}
		}
	}
	return out
}

func (t *TableDiffer) pairIndexes() {
	tables := t.tables()
	prev, next := tables.Previous(), tables.Next()
	prevMatched := make([]bool, len(prev.Indexes))
	nextMatched := make([]bool, len(next.Indexes))
	caps := t.db.flavour.Capabilities()

	addPair := func(p, n int, renamed bool) {
		prevMatched[p], nextMatched[n] = true, true
		pi, ni := &prev.Indexes[p], &next.Indexes[n]
		changed := (caps.IndexAlgorithms && !strings.EqualFold(indexAlgorithm(pi), indexAlgorithm(ni))) ||
			(caps.IndexClustering && isClustered(pi) != isClustered(ni))
		t.indexPairs = append(t.indexPairs, IndexPair{Indexes: schema.NewPair(p, n), Renamed: renamed, Changed: changed})
	}

	// Same name and same structure.
	for p := range prev.Indexes {
		for n := range next.Indexes {
			if nextMatched[n] || !schema.NamesEqual(prev.Indexes[p].Name, next.Indexes[n].Name, t.db.caseSensitive) {
				continue
			}
			if t.indexesMatch(&prev.Indexes[p], &next.Indexes[n]) {
				addPair(p, n, false)
			}
			break
		}
	}

	// Renames: the signature must be unique on both sides, ambiguous
	// signatures fall back to drop and create.
	for p := range prev.Indexes {
		if prevMatched[p] || t.signatureCount(prev.Indexes, &prev.Indexes[p]) != 1 {
			continue
		}
		candidate := -1
		candidates := 0
		for n := range next.Indexes {
			if !nextMatched[n] && t.indexesMatch(&prev.Indexes[p], &next.Indexes[n]) {
				candidate = n
				candidates++
			}
		}
		if candidates == 1 && t.signatureCount(next.Indexes, &next.Indexes[candidate]) == 1 {
			addPair(p, candidate, true)
		}
	}

	for p := range prev.Indexes {
		if !prevMatched[p] {
			t.droppedIndexes = append(t.droppedIndexes, p)
		}
	}
	for n := range next.Indexes {
		if !nextMatched[n] {
			t.createdIndexes = append(t.createdIndexes, n)
		}
	}
}

// signatureCount counts the indexes of list that share idx's signature,
// idx included when it belongs to list.
func (t *TableDiffer) signatureCount(list []schema.Index, idx *schema.Index) int {
	count := 0
	for i := range list {
		if indexSignatureEqual(&list[i], idx, t.db.caseSensitive) {
			count++
		}
	}
	return count
}

// indexesMatch compares the previous index (with renamed columns resolved)
// to the next index, then applies the flavour refinement.
func (t *TableDiffer) indexesMatch(prev, next *schema.Index) bool {
	resolved := *prev
	resolved.Columns = make([]schema.IndexColumn, len(prev.Columns))
	copy(resolved.Columns, prev.Columns)
	names := t.renamedColumns(prev.ColumnNames())
	for i := range resolved.Columns {
		resolved.Columns[i].Name = names[i]
	}
	return indexSignatureEqual(&resolved, next, t.db.caseSensitive) && t.db.flavour.IndexesMatch(prev, next)
}

func indexSignatureEqual(a, b *schema.Index, caseSensitive bool) bool {
	if a.Kind != b.Kind || len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		ca, cb := a.Columns[i], b.Columns[i]
		if !schema.NamesEqual(ca.Name, cb.Name, caseSensitive) || sortOrder(ca.Sort) != sortOrder(cb.Sort) {
			return false
		}
		if (ca.Length == nil) != (cb.Length == nil) || (ca.Length != nil && *ca.Length != *cb.Length) {
			return false
		}
	}
	return true
}

func sortOrder(s schema.SortOrder) schema.SortOrder {
	if s == "" {
		return schema.SortAsc
	}
	return s
}

func indexAlgorithm(idx *schema.Index) string {
	if idx.Algorithm == "" {
		return "btree"
	}
	return idx.Algorithm
}

func isClustered(idx *schema.Index) bool { return idx.Clustered != nil && *idx.Clustered }

func namesListEqual(a, b []string, caseSensitive bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !schema.NamesEqual(a[i], b[i], caseSensitive) {
			return false
		}
	}
	return true
}
