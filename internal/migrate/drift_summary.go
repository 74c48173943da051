package migrate

import (
	"fmt"
	"sort"
	"strings"
)

// driftType orders the sections of a drift summary.
type driftType int

const (
	driftAddedEnum driftType = iota
	driftAddedTable
	driftRemovedEnum
	driftRemovedTable
	driftRemovedUDT
	driftRemovedView
	driftRedefinedTable
	driftChangedEnum
	driftChangedTable
)

type driftItem struct {
	kind      driftType
	name      string
	stepIndex int
}

// DriftSummary renders a human readable report of the migration, grouped
// into sections: added enums and tables, removed entities, then redefined
// and changed tables and enums by name.
func (m *Migration) DriftSummary() string {
	prev, next := m.previous(), m.next()
	var items []driftItem
	add := func(kind driftType, name string, i int) {
		items = append(items, driftItem{kind: kind, name: name, stepIndex: i})
	}

	for i, step := range m.Steps {
		switch s := step.(type) {
		case DropView:
			add(driftRemovedView, prev.Views[s.ViewIndex].Name, i)
		case DropUserDefinedType:
			add(driftRemovedUDT, prev.UserDefinedTypes[s.TypeIndex].Name, i)
		case CreateEnum:
			add(driftAddedEnum, "", i)
		case AlterEnum:
			add(driftChangedEnum, prev.Enums[s.Index.Previous()].Name, i)
		case DropForeignKey:
			add(driftChangedTable, prev.Tables[s.TableIndex].Name, i)
		case DropIndex:
			add(driftChangedTable, prev.Tables[s.TableIndex].Name, i)
		case AlterTable:
			add(driftChangedTable, prev.Tables[s.Table.Previous()].Name, i)
		case DropTable:
			add(driftRemovedTable, "", i)
		case DropEnum:
			add(driftRemovedEnum, "", i)
		case CreateTable:
			add(driftAddedTable, "", i)
		case RedefineTables:
			for _, rt := range s.Tables {
				add(driftRedefinedTable, prev.Tables[rt.Table.Previous()].Name, i)
			}
		case CreateIndex:
			add(driftChangedTable, next.Tables[s.TableIndex].Name, i)
		case AddForeignKey:
			add(driftChangedTable, next.Tables[s.TableIndex].Name, i)
		case AlterIndex:
			add(driftChangedTable, prev.Tables[s.Table.Previous()].Name, i)
		case RedefineIndex:
			add(driftChangedTable, prev.Tables[s.Table.Previous()].Name, i)
		}
	}

	sort.Slice(items, func(a, b int) bool {
		x, y := items[a], items[b]
		if x.kind != y.kind {
			return x.kind < y.kind
		}
		if x.name != y.name {
			return x.name < y.name
		}
		return x.stepIndex < y.stepIndex
	})

	var out strings.Builder
	for n, item := range items {
		if n == 0 || item.kind != items[n-1].kind || item.name != items[n-1].name {
			out.WriteString(driftHeader(item))
		}
		m.writeDriftLines(&out, item.stepIndex)
	}
	return out.String()
}

func driftHeader(item driftItem) string {
	switch item.kind {
	case driftAddedEnum:
		return "\n[+] Added enums\n"
	case driftAddedTable:
		return "\n[+] Added tables\n"
	case driftRemovedEnum:
		return "\n[-] Removed enums\n"
	case driftRemovedTable:
		return "\n[-] Removed tables\n"
	case driftRemovedUDT:
		return "\n[-] Removed UDTs\n"
	case driftRemovedView:
		return "\n[-] Removed views\n"
	case driftRedefinedTable:
		return fmt.Sprintf("\n[*] Redefined table `%s`\n", item.name)
	case driftChangedEnum:
		return fmt.Sprintf("\n[*] Changed the `%s` enum\n", item.name)
	default:
		return fmt.Sprintf("\n[*] Changed the `%s` table\n", item.name)
	}
}

func (m *Migration) writeDriftLines(out *strings.Builder, i int) {
	prev, next := m.previous(), m.next()
	switch s := m.Steps[i].(type) {
	case CreateEnum:
		fmt.Fprintf(out, "  - %s\n", next.Enums[s.EnumIndex].Name)
	case AlterEnum:
		for _, v := range s.CreatedVariants {
			fmt.Fprintf(out, "  [+] Added variant `%s`\n", v)
		}
		for _, v := range s.DroppedVariants {
			fmt.Fprintf(out, "  [-] Removed variant `%s`\n", v)
		}
	case DropForeignKey:
		fk := &prev.Tables[s.TableIndex].ForeignKeys[s.ForeignKeyIndex]
		fmt.Fprintf(out, "  [-] Removed foreign key on columns (%s)\n", strings.Join(fk.Columns, ", "))
	case DropIndex:
		idx := &prev.Tables[s.TableIndex].Indexes[s.IndexIndex]
		fmt.Fprintf(out, "  [-] Removed %sindex on columns (%s)\n", uniqueLabel(idx.IsUnique()), strings.Join(idx.ColumnNames(), ", "))
	case AlterTable:
		prevT, nextT := &prev.Tables[s.Table.Previous()], &next.Tables[s.Table.Next()]
		for _, change := range s.Changes {
			switch c := change.(type) {
			case AddColumn:
				fmt.Fprintf(out, "  [+] Added column `%s`\n", nextT.Columns[c.ColumnIndex].Name)
			case AlterColumn:
				fmt.Fprintf(out, "  [*] Altered column `%s` (%s)\n", nextT.Columns[c.Columns.Next()].Name, c.Changes)
			case DropColumn:
				fmt.Fprintf(out, "  [-] Removed column `%s`\n", prevT.Columns[c.ColumnIndex].Name)
			case DropAndRecreateColumn:
				fmt.Fprintf(out, "  [*] Column `%s` would be dropped and recreated (%s)\n", nextT.Columns[c.Columns.Next()].Name, c.Changes)
			case DropPrimaryKey:
				fmt.Fprintf(out, "  [-] Dropped the primary key on columns (%s)\n", strings.Join(prevT.PrimaryKey.Columns, ", "))
			case AddPrimaryKey:
				fmt.Fprintf(out, "  [+] Added primary key on columns (%s)\n", strings.Join(nextT.PrimaryKey.Columns, ", "))
			}
		}
	case DropTable:
		fmt.Fprintf(out, "  - %s\n", prev.Tables[s.TableIndex].Name)
	case DropEnum:
		fmt.Fprintf(out, "  - %s\n", prev.Enums[s.EnumIndex].Name)
	case CreateTable:
		fmt.Fprintf(out, "  - %s\n", next.Tables[s.TableIndex].Name)
	case CreateIndex:
		idx := &next.Tables[s.TableIndex].Indexes[s.IndexIndex]
		fmt.Fprintf(out, "  [+] Added %sindex on columns (%s)\n", uniqueLabel(idx.IsUnique()), strings.Join(idx.ColumnNames(), ", "))
	case AddForeignKey:
		fk := &next.Tables[s.TableIndex].ForeignKeys[s.ForeignKeyIndex]
		fmt.Fprintf(out, "  [+] Added foreign key on columns (%s)\n", strings.Join(fk.Columns, ", "))
	case AlterIndex:
		fmt.Fprintf(out, "  [*] Renamed index `%s` to `%s`\n",
			prev.Tables[s.Table.Previous()].Indexes[s.Index.Previous()].Name,
			next.Tables[s.Table.Next()].Indexes[s.Index.Next()].Name)
	case RedefineIndex:
		fmt.Fprintf(out, "  [*] Redefined index `%s`\n", prev.Tables[s.Table.Previous()].Indexes[s.Index.Previous()].Name)
	}
}

func uniqueLabel(unique bool) string {
	if unique {
		return "unique "
	}
	return ""
}
