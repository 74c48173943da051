package migrate

import (
	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// differDatabase pairs the entities of two snapshots by name. It is computed
// once per planning run and queried by the differs and the planner.
type differDatabase struct {
	schemas       schema.Pair[*schema.Snapshot]
	flavour       Flavour
	caseSensitive bool

	tablePairs    []schema.Pair[int]
	createdTables []int
	droppedTables []int

	enumPairs    []schema.Pair[int]
	createdEnums []int
	droppedEnums []int

	droppedViews []int
	droppedUDTs  []int

	tables map[schema.Pair[int]]*TableDiffer
}

func newDifferDatabase(schemas schema.Pair[*schema.Snapshot], flavour Flavour) *differDatabase {
	db := &differDatabase{
		schemas:       schemas,
		flavour:       flavour,
		caseSensitive: flavour.Capabilities().CaseSensitiveIdentifiers,
		tables:        make(map[schema.Pair[int]]*TableDiffer),
	}
	prev, next := schemas.Previous(), schemas.Next()

	db.tablePairs, db.createdTables, db.droppedTables = pairByName(
		len(prev.Tables), len(next.Tables),
		func(i int) string { return prev.Tables[i].Name },
		func(i int) string { return next.Tables[i].Name },
		db.caseSensitive,
	)
	// Enum names live in a case-sensitive type namespace.
	db.enumPairs, db.createdEnums, db.droppedEnums = pairByName(
		len(prev.Enums), len(next.Enums),
		func(i int) string { return prev.Enums[i].Name },
		func(i int) string { return next.Enums[i].Name },
		true,
	)
	_, _, db.droppedViews = pairByName(
		len(prev.Views), len(next.Views),
		func(i int) string { return prev.Views[i].Name },
		func(i int) string { return next.Views[i].Name },
		db.caseSensitive,
	)
	_, _, db.droppedUDTs = pairByName(
		len(prev.UserDefinedTypes), len(next.UserDefinedTypes),
		func(i int) string { return prev.UserDefinedTypes[i].Name },
		func(i int) string { return next.UserDefinedTypes[i].Name },
		true,
	)

	for _, pair := range db.tablePairs {
		db.tables[pair] = newTableDiffer(db, pair)
	}
	return db
}

// pairByName matches two entity lists by name. Pairs follow previous order,
// created entities follow next order and dropped entities previous order.
func pairByName(prevLen, nextLen int, prevName, nextName func(int) string, caseSensitive bool) (pairs []schema.Pair[int], created, dropped []int) {
	matchedNext := make([]bool, nextLen)
	for p := 0; p < prevLen; p++ {
		found := -1
		for n := 0; n < nextLen; n++ {
			if !matchedNext[n] && schema.NamesEqual(prevName(p), nextName(n), caseSensitive) {
				found = n
				break
			}
		}
		if found < 0 {
			dropped = append(dropped, p)
			continue
		}
		matchedNext[found] = true
		pairs = append(pairs, schema.NewPair(p, found))
	}
	for n := 0; n < nextLen; n++ {
		if !matchedNext[n] {
			created = append(created, n)
		}
	}
	return pairs, created, dropped
}

func (db *differDatabase) previous() *schema.Snapshot { return db.schemas.Previous() }
func (db *differDatabase) next() *schema.Snapshot     { return db.schemas.Next() }

// tablePair resolves a pair of table positions.
func (db *differDatabase) tablePair(pair schema.Pair[int]) schema.Pair[*schema.Table] {
	return schema.NewPair(&db.previous().Tables[pair.Previous()], &db.next().Tables[pair.Next()])
}

// TableDiffers returns the differ of every matched table in previous order.
func (db *differDatabase) tableDiffers() []*TableDiffer {
	out := make([]*TableDiffer, 0, len(db.tablePairs))
	for _, pair := range db.tablePairs {
		out = append(out, db.tables[pair])
	}
	return out
}

// nextTableForPrevious maps a previous table position to its next position.
func (db *differDatabase) nextTableForPrevious(prev int) (int, bool) {
	for _, pair := range db.tablePairs {
		if pair.Previous() == prev {
			return pair.Next(), true
		}
	}
	return 0, false
}

func (db *differDatabase) enumDiffers() []*EnumDiffer {
	out := make([]*EnumDiffer, 0, len(db.enumPairs))
	for _, pair := range db.enumPairs {
		out = append(out, newEnumDiffer(db, pair))
	}
	return out
}
