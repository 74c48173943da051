package migrate

import (
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// Planner turns two snapshots into an ordered migration for one flavour.
type Planner struct {
	flavour Flavour
	logger  *zap.Logger
}

func NewPlanner(flavour Flavour, logger *zap.Logger) *Planner {
	return &Planner{
		flavour: flavour,
		logger:  logger.Named("planner"),
	}
}

// Plan diffs previous against next. It performs no I/O.
func (p *Planner) Plan(previous, next *schema.Snapshot) (*Migration, error) {
	start := time.Now()
	if previous == nil || next == nil {
		return nil, &StructuralDiffError{Entity: "snapshot", Reason: "previous and next snapshots are required"}
	}
	schemas := schema.NewPair(previous, next)
	db := newDifferDatabase(schemas, p.flavour)
	caps := p.flavour.Capabilities()
	log := p.logger.With(zap.String("dialect", p.flavour.Dialect()))

	var steps []Step

	for _, v := range db.droppedViews {
		steps = append(steps, DropView{ViewIndex: v})
	}
	for _, u := range db.droppedUDTs {
		steps = append(steps, DropUserDefinedType{TypeIndex: u})
	}

	steps = append(steps, p.enumSteps(db, caps)...)

	for _, ti := range db.createdTables {
		table := &next.Tables[ti]
		steps = append(steps, CreateTable{TableIndex: ti})
		for ii := range table.Indexes {
			steps = append(steps, CreateIndex{TableIndex: ti, IndexIndex: ii, CausedByCreateTable: true})
		}
		if caps.AlterForeignKeys {
			for fi := range table.ForeignKeys {
				steps = append(steps, AddForeignKey{TableIndex: ti, ForeignKeyIndex: fi})
			}
		}
	}

	for _, ti := range db.droppedTables {
		if caps.AlterForeignKeys {
			for fi := range previous.Tables[ti].ForeignKeys {
				steps = append(steps, DropForeignKey{TableIndex: ti, ForeignKeyIndex: fi})
			}
		}
		steps = append(steps, DropTable{TableIndex: ti})
	}

	var redefines []RedefineTable
	var inPlace []*TableDiffer
	for _, td := range db.tableDiffers() {
		tlog := log.With(zap.String("table", td.Next().Name))
		if !p.needsRedefine(td, caps) {
			inPlace = append(inPlace, td)
			continue
		}
		if p.flavour.RebuildStrategy() == nil {
			tlog.Error("Table needs a rebuild but the dialect has no rebuild strategy")
			return nil, &PlanningDegeneracyError{
				Dialect: p.flavour.Dialect(),
				Table:   td.Next().Name,
				Reason:  "changes cannot be expressed as ALTER TABLE",
			}
		}
		tlog.Debug("Table will be redefined")
		redefines = append(redefines, redefineTable(td))
	}
	for _, td := range inPlace {
		steps = append(steps, p.tableSteps(td, caps)...)
	}
	if len(redefines) > 0 {
		step := RedefineTables{Tables: redefines}
		if caps.AlterForeignKeys {
			step.ReferencingForeignKeys = referencingForeignKeys(db, inPlace, redefines)
		}
		steps = append(steps, step)
	}

	sortSteps(steps)
	m := &Migration{Schemas: schemas, Steps: steps}
	log.Info("Migration planned",
		zap.Int("steps", len(steps)),
		zap.Int("created_tables", len(db.createdTables)),
		zap.Int("dropped_tables", len(db.droppedTables)),
		zap.Int("redefined_tables", len(redefines)),
		zap.Duration("duration", time.Since(start)))
	return m, nil
}

func (p *Planner) enumSteps(db *differDatabase, caps Capabilities) []Step {
	var steps []Step
	switch caps.Enums {
	case EnumEmulated:
		return nil
	case EnumNative:
		for _, ei := range db.createdEnums {
			steps = append(steps, CreateEnum{EnumIndex: ei})
		}
	}
	for _, ed := range db.enumDiffers() {
		created, dropped := ed.CreatedVariants(), ed.DroppedVariants()
		if len(created) == 0 && len(dropped) == 0 {
			continue
		}
		step := AlterEnum{
			Index:           ed.Enums,
			CreatedVariants: created,
			DroppedVariants: dropped,
		}
		if len(dropped) > 0 && caps.ReplacesEnumOnVariantDrop {
			step.PreviousUsagesAsDefault = ed.PreviousUsagesAsDefault()
		}
		steps = append(steps, step)
	}
	if caps.Enums == EnumNative {
		for _, ei := range db.droppedEnums {
			steps = append(steps, DropEnum{EnumIndex: ei})
		}
	}
	return steps
}

// needsRedefine reports whether the table diff has to go through a rebuild.
// Without in-place column alteration any column change beyond a rename does.
func (p *Planner) needsRedefine(td *TableDiffer, caps Capabilities) bool {
	if !caps.AlterColumn {
		for _, cd := range td.ChangedColumns() {
			if !cd.Changes.OnlyRenamed() {
				return true
			}
		}
	}
	return p.flavour.TableNeedsRedefine(td)
}

// referencingForeignKeys collects the unchanged keys of in-place tables that
// reference a rebuilt table.
func referencingForeignKeys(db *differDatabase, inPlace []*TableDiffer, redefines []RedefineTable) []ReferencingForeignKey {
	prevSnap := db.schemas.Previous()
	rebuilt := func(name string) bool {
		for _, rt := range redefines {
			if schema.NamesEqual(prevSnap.Tables[rt.Table.Previous()].Name, name, db.caseSensitive) {
				return true
			}
		}
		return false
	}
	var out []ReferencingForeignKey
	for _, td := range inPlace {
		prev := td.Previous()
		for _, fp := range td.ForeignKeyPairs() {
			if rebuilt(prev.ForeignKeys[fp.Previous()].ReferencedTable) {
				out = append(out, ReferencingForeignKey{Table: td.Tables, ForeignKey: fp})
			}
		}
	}
	return out
}

// tableSteps expresses the diff of one matched table as in-place steps.
func (p *Planner) tableSteps(td *TableDiffer, caps Capabilities) []Step {
	var steps []Step
	tables := td.Tables

	for _, fi := range td.DroppedForeignKeys() {
		steps = append(steps, DropForeignKey{TableIndex: tables.Previous(), ForeignKeyIndex: fi})
	}
	for _, ii := range td.DroppedIndexes() {
		steps = append(steps, DropIndex{TableIndex: tables.Previous(), IndexIndex: ii})
	}
	if changes := alterTableChanges(td); len(changes) > 0 {
		steps = append(steps, AlterTable{Table: tables, Changes: changes})
	}
	for _, ii := range td.CreatedIndexes() {
		steps = append(steps, CreateIndex{TableIndex: tables.Next(), IndexIndex: ii})
	}
	for _, fi := range td.CreatedForeignKeys() {
		steps = append(steps, AddForeignKey{TableIndex: tables.Next(), ForeignKeyIndex: fi})
	}
	for _, ip := range td.IndexPairs() {
		switch {
		case ip.Changed || (ip.Renamed && !caps.IndexRename):
			steps = append(steps, RedefineIndex{Table: tables, Index: ip.Indexes})
		case ip.Renamed:
			steps = append(steps, AlterIndex{Table: tables, Index: ip.Indexes})
		}
	}
	return steps
}

func alterTableChanges(td *TableDiffer) []TableChange {
	var changes []TableChange
	if td.DroppedPrimaryKey() {
		changes = append(changes, DropPrimaryKey{})
	}
	for _, ci := range td.DroppedColumns() {
		changes = append(changes, DropColumn{ColumnIndex: ci})
	}
	for _, cd := range td.ChangedColumns() {
		if cd.TypeChange == NotCastable {
			changes = append(changes, DropAndRecreateColumn{Columns: cd.Columns, Changes: cd.Changes})
			continue
		}
		changes = append(changes, AlterColumn{Columns: cd.Columns, Changes: cd.Changes, TypeChange: cd.TypeChange})
	}
	for _, ci := range td.AddedColumns() {
		changes = append(changes, AddColumn{ColumnIndex: ci})
	}
	if td.AddedPrimaryKey() {
		changes = append(changes, AddPrimaryKey{})
	}
	return changes
}

func redefineTable(td *TableDiffer) RedefineTable {
	rt := RedefineTable{
		Table:             td.Tables,
		AddedColumns:      td.AddedColumns(),
		DroppedColumns:    td.DroppedColumns(),
		DroppedPrimaryKey: td.DroppedPrimaryKey(),
	}
	for _, cd := range td.ColumnPairs() {
		rt.ColumnPairs = append(rt.ColumnPairs, RedefinedColumn{
			Columns:    cd.Columns,
			Changes:    cd.Changes,
			TypeChange: cd.TypeChange,
		})
	}
	return rt
}
