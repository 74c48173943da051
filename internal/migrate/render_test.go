package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arwahdevops/dbmigrate/internal/schema"
)

func TestRenderCreateTable(t *testing.T) {
	next := &schema.Snapshot{Tables: []schema.Table{fooTable()}}

	testCases := []struct {
		flavour Flavour
		want    string
	}{
		{
			flavour: NewPostgresFlavour(),
			want:    "CREATE TABLE \"Foo\" (\n    \"id\" INTEGER NOT NULL,\n    \"name\" TEXT NOT NULL,\n\n    CONSTRAINT \"Foo_pkey\" PRIMARY KEY (\"id\")\n)",
		},
		{
			flavour: NewMySQLFlavour(),
			want:    "CREATE TABLE `Foo` (\n    `id` INTEGER NOT NULL,\n    `name` VARCHAR(191) NOT NULL,\n\n    PRIMARY KEY (`id`)\n) DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci",
		},
		{
			flavour: NewMSSQLFlavour(),
			want:    "CREATE TABLE [Foo] (\n    [id] INT NOT NULL,\n    [name] NVARCHAR(1000) NOT NULL,\n\n    CONSTRAINT [Foo_pkey] PRIMARY KEY CLUSTERED ([id])\n)",
		},
		{
			flavour: NewSQLiteFlavour(),
			want:    "CREATE TABLE \"Foo\" (\n    \"id\" INTEGER NOT NULL,\n    \"name\" TEXT NOT NULL,\n\n    CONSTRAINT \"Foo_pkey\" PRIMARY KEY (\"id\")\n)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.flavour.Dialect(), func(t *testing.T) {
			m := plan(t, tc.flavour, &schema.Snapshot{}, next)
			steps := renderAll(t, tc.flavour, m)
			require.Len(t, steps, 1)
			assert.Equal(t, KindCreateTable, steps[0].Kind)
			assert.Equal(t, []string{tc.want}, steps[0].Statements)
		})
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	prev := &schema.Snapshot{
		Enums:  []schema.Enum{{Name: "Color", Variants: []string{"RED", "BLUE"}}},
		Tables: []schema.Table{fooTable(), {Name: "Paint", Columns: []schema.Column{enumColumn("color", "Color", "RED")}}},
	}
	next := &schema.Snapshot{
		Enums: []schema.Enum{{Name: "Color", Variants: []string{"BLUE", "GREEN"}}},
		Tables: []schema.Table{
			{Name: "Paint", Columns: []schema.Column{enumColumn("color", "Color", "BLUE"), nullable("note", schema.FamilyString)}},
			{Name: "Bar", Columns: []schema.Column{required("id", schema.FamilyInt)}, PrimaryKey: pk("id")},
		},
	}

	for _, f := range allFlavours() {
		t.Run(f.Dialect(), func(t *testing.T) {
			first := Script(renderAll(t, f, plan(t, f, prev, next)))
			second := Script(renderAll(t, f, plan(t, f, prev, next)))
			assert.NotEmpty(t, first)
			assert.Equal(t, first, second)
		})
	}
}

func TestRenderDroppedColumn(t *testing.T) {
	prev := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next.Tables[0].Columns = next.Tables[0].Columns[:1]

	t.Run("postgres", func(t *testing.T) {
		steps := renderAll(t, NewPostgresFlavour(), plan(t, NewPostgresFlavour(), prev, next))
		require.Len(t, steps, 1)
		assert.Equal(t, []string{`ALTER TABLE "Foo" DROP COLUMN "name"`}, steps[0].Statements)
	})

	t.Run("sqlite", func(t *testing.T) {
		f := NewSQLiteFlavour()
		steps := renderAll(t, f, plan(t, f, prev, next))
		require.Len(t, steps, 1)
		assert.Equal(t, []string{
			"PRAGMA defer_foreign_keys=ON",
			"PRAGMA foreign_keys=OFF",
			"CREATE TABLE \"new_Foo\" (\n    \"id\" INTEGER NOT NULL,\n\n    CONSTRAINT \"new_Foo_pkey\" PRIMARY KEY (\"id\")\n)",
			`INSERT INTO "new_Foo" ("id") SELECT "id" FROM "Foo"`,
			`DROP TABLE "Foo"`,
			`ALTER TABLE "new_Foo" RENAME TO "Foo"`,
			"PRAGMA foreign_keys=ON",
			"PRAGMA defer_foreign_keys=OFF",
		}, steps[0].Statements)
	})

	t.Run("sqlserver", func(t *testing.T) {
		f := NewMSSQLFlavour()
		steps := renderAll(t, f, plan(t, f, prev, next))
		require.Len(t, steps, 1)
		assert.Equal(t, []string{"ALTER TABLE [Foo] DROP COLUMN [name]"}, steps[0].Statements)
	})
}

func TestRenderPostgresEnumReplacement(t *testing.T) {
	prev := &schema.Snapshot{
		Enums:  []schema.Enum{{Name: "Color", Variants: []string{"RED", "BLUE"}}},
		Tables: []schema.Table{{Name: "Paint", Columns: []schema.Column{enumColumn("color", "Color", "RED")}}},
	}
	next := &schema.Snapshot{
		Enums:  []schema.Enum{{Name: "Color", Variants: []string{"BLUE", "GREEN"}}},
		Tables: []schema.Table{{Name: "Paint", Columns: []schema.Column{enumColumn("color", "Color", "BLUE")}}},
	}

	f := NewPostgresFlavour()
	steps := renderAll(t, f, plan(t, f, prev, next))
	require.Len(t, steps, 2)
	assert.Equal(t, []string{
		`ALTER TABLE "Paint" ALTER COLUMN "color" DROP DEFAULT`,
		`ALTER TYPE "Color" RENAME TO "Color_old"`,
		`CREATE TYPE "Color" AS ENUM ('BLUE', 'GREEN')`,
		`ALTER TABLE "Paint" ALTER COLUMN "color" TYPE "Color" USING ("color"::text::"Color")`,
		`DROP TYPE "Color_old"`,
		`ALTER TABLE "Paint" ALTER COLUMN "color" SET DEFAULT 'BLUE'`,
	}, steps[0].Statements)
	assert.Equal(t, []string{`ALTER TABLE "Paint" ALTER COLUMN "color" SET DEFAULT 'BLUE'`}, steps[1].Statements)
}

func TestRenderEnumAddedVariant(t *testing.T) {
	prev := &schema.Snapshot{
		Enums:  []schema.Enum{{Name: "Color", Variants: []string{"RED"}}},
		Tables: []schema.Table{{Name: "Paint", Columns: []schema.Column{enumColumn("color", "Color", "RED")}}},
	}
	next := &schema.Snapshot{
		Enums:  []schema.Enum{{Name: "Color", Variants: []string{"RED", "GREEN"}}},
		Tables: prev.Tables,
	}

	testCases := []struct {
		flavour Flavour
		want    []string
	}{
		{NewPostgresFlavour(), []string{`ALTER TYPE "Color" ADD VALUE 'GREEN'`}},
		{NewMySQLFlavour(), []string{"ALTER TABLE `Paint` MODIFY `color` ENUM('RED', 'GREEN') NOT NULL DEFAULT 'RED'"}},
	}
	for _, tc := range testCases {
		t.Run(tc.flavour.Dialect(), func(t *testing.T) {
			steps := renderAll(t, tc.flavour, plan(t, tc.flavour, prev, next))
			require.Len(t, steps, 1)
			assert.Equal(t, KindAlterEnum, steps[0].Kind)
			assert.Equal(t, tc.want, steps[0].Statements)
		})
	}
}

func TestRenderPostgresSequence(t *testing.T) {
	prev := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next.Tables[0].Columns[0].AutoIncrement = true

	f := NewPostgresFlavour()
	steps := renderAll(t, f, plan(t, f, prev, next))
	require.Len(t, steps, 1)
	assert.Equal(t, []string{
		`CREATE SEQUENCE "foo_id_seq"`,
		`ALTER TABLE "Foo" ALTER COLUMN "id" SET DEFAULT nextval('"foo_id_seq"')`,
		`ALTER SEQUENCE "foo_id_seq" OWNED BY "Foo"."id"`,
	}, steps[0].Statements)
}

func TestRenderAlterColumn(t *testing.T) {
	prev := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next.Tables[0].Columns[1] = withDefault(nullable("name", schema.FamilyString), "anon")

	testCases := []struct {
		flavour Flavour
		want    []string
	}{
		{
			flavour: NewPostgresFlavour(),
			want:    []string{"ALTER TABLE \"Foo\" ALTER COLUMN \"name\" DROP NOT NULL,\nALTER COLUMN \"name\" SET DEFAULT 'anon'"},
		},
		{
			flavour: NewMySQLFlavour(),
			want:    []string{"ALTER TABLE `Foo` MODIFY `name` VARCHAR(191) NULL DEFAULT 'anon'"},
		},
		{
			flavour: NewMSSQLFlavour(),
			want: []string{
				"ALTER TABLE [Foo] ALTER COLUMN [name] NVARCHAR(1000) NULL",
				"ALTER TABLE [Foo] ADD CONSTRAINT [Foo_name_df] DEFAULT N'anon' FOR [name]",
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.flavour.Dialect(), func(t *testing.T) {
			steps := renderAll(t, tc.flavour, plan(t, tc.flavour, prev, next))
			require.Len(t, steps, 1)
			assert.Equal(t, tc.want, steps[0].Statements)
		})
	}
}

func TestRenderColumnRename(t *testing.T) {
	prev := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next := &schema.Snapshot{Tables: []schema.Table{fooTable()}}
	next.Tables[0].Columns[1].Name = "title"
	next.Tables[0].Columns[1].PreviousName = "name"

	testCases := []struct {
		flavour Flavour
		want    []string
	}{
		{NewPostgresFlavour(), []string{`ALTER TABLE "Foo" RENAME COLUMN "name" TO "title"`}},
		{NewMySQLFlavour(), []string{"ALTER TABLE `Foo` RENAME COLUMN `name` TO `title`"}},
		{NewSQLiteFlavour(), []string{`ALTER TABLE "Foo" RENAME COLUMN "name" TO "title"`}},
		{NewMSSQLFlavour(), []string{"EXEC SP_RENAME N'Foo.name', N'title', N'COLUMN'"}},
	}
	for _, tc := range testCases {
		t.Run(tc.flavour.Dialect(), func(t *testing.T) {
			steps := renderAll(t, tc.flavour, plan(t, tc.flavour, prev, next))
			require.Len(t, steps, 1)
			assert.Equal(t, tc.want, steps[0].Statements)
		})
	}
}

func TestRenderIndexesAndForeignKeys(t *testing.T) {
	bar := schema.Table{
		Name:       "Bar",
		Columns:    []schema.Column{required("id", schema.FamilyInt), required("a", schema.FamilyInt)},
		PrimaryKey: pk("id"),
		Indexes:    []schema.Index{index("Bar_a_key", schema.IndexUnique, "a")},
		ForeignKeys: []schema.ForeignKey{
			{Columns: []string{"a"}, ReferencedTable: "Bar", ReferencedColumns: []string{"id"}, OnDelete: schema.ActionRestrict},
		},
	}
	next := &schema.Snapshot{Tables: []schema.Table{bar}}

	t.Run("postgres", func(t *testing.T) {
		f := NewPostgresFlavour()
		steps := renderAll(t, f, plan(t, f, &schema.Snapshot{}, next))
		require.Len(t, steps, 3)
		assert.Equal(t, []string{`CREATE UNIQUE INDEX "Bar_a_key" ON "Bar"("a")`}, steps[1].Statements)
		assert.Equal(t, []string{`ALTER TABLE "Bar" ADD CONSTRAINT "Bar_a_fkey" FOREIGN KEY ("a") REFERENCES "Bar"("id") ON DELETE RESTRICT`}, steps[2].Statements)
	})

	t.Run("sqlserver", func(t *testing.T) {
		f := NewMSSQLFlavour()
		steps := renderAll(t, f, plan(t, f, &schema.Snapshot{}, next))
		require.Len(t, steps, 3)
		assert.Equal(t, []string{"ALTER TABLE [Bar] ADD CONSTRAINT [Bar_a_fkey] FOREIGN KEY ([a]) REFERENCES [Bar]([id]) ON DELETE NO ACTION"}, steps[2].Statements)
	})

	t.Run("sqlite declares keys inline", func(t *testing.T) {
		f := NewSQLiteFlavour()
		steps := renderAll(t, f, plan(t, f, &schema.Snapshot{}, next))
		require.Len(t, steps, 2)
		assert.Contains(t, steps[0].Statements[0], `CONSTRAINT "Bar_a_fkey" FOREIGN KEY ("a") REFERENCES "Bar"("id") ON DELETE RESTRICT`)
	})
}

func TestRenderIndexRename(t *testing.T) {
	withIndex := func(name string) *schema.Snapshot {
		tbl := fooTable()
		tbl.Indexes = []schema.Index{index(name, schema.IndexNormal, "name")}
		return &schema.Snapshot{Tables: []schema.Table{tbl}}
	}
	prev, next := withIndex("Foo_name_idx"), withIndex("Foo_by_name")

	testCases := []struct {
		flavour Flavour
		want    []string
	}{
		{NewPostgresFlavour(), []string{`ALTER INDEX "Foo_name_idx" RENAME TO "Foo_by_name"`}},
		{NewMySQLFlavour(), []string{"ALTER TABLE `Foo` RENAME INDEX `Foo_name_idx` TO `Foo_by_name`"}},
		{NewMSSQLFlavour(), []string{"EXEC SP_RENAME N'[Foo].[Foo_name_idx]', N'Foo_by_name', N'INDEX'"}},
		{NewSQLiteFlavour(), []string{`DROP INDEX "Foo_name_idx"`, `CREATE INDEX "Foo_by_name" ON "Foo"("name")`}},
	}
	for _, tc := range testCases {
		t.Run(tc.flavour.Dialect(), func(t *testing.T) {
			steps := renderAll(t, tc.flavour, plan(t, tc.flavour, prev, next))
			require.Len(t, steps, 1)
			assert.Equal(t, tc.want, steps[0].Statements)
		})
	}
}

func TestRenderLiteral(t *testing.T) {
	testCases := []struct {
		name    string
		flavour Flavour
		family  schema.TypeFamily
		value   string
		want    string
	}{
		{"integer is canonicalised", NewPostgresFlavour(), schema.FamilyInt, " 042 ", "42"},
		{"decimal keeps scale", NewPostgresFlavour(), schema.FamilyDecimal, "1.50", "1.50"},
		{"unparsable number is quoted", NewPostgresFlavour(), schema.FamilyInt, "abc", "'abc'"},
		{"boolean", NewPostgresFlavour(), schema.FamilyBoolean, "TRUE", "true"},
		{"boolean as bit", NewMSSQLFlavour(), schema.FamilyBoolean, "false", "0"},
		{"postgres quote", NewPostgresFlavour(), schema.FamilyString, "it's", "'it''s'"},
		{"mysql quote", NewMySQLFlavour(), schema.FamilyString, "it's", `'it\'s'`},
		{"mssql quote", NewMSSQLFlavour(), schema.FamilyString, "it's", "N'it''s'"},
		{"sqlite quote", NewSQLiteFlavour(), schema.FamilyString, "it's", "'it''s'"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			col := required("c", tc.family)
			assert.Equal(t, tc.want, renderLiteral(tc.flavour, &col, tc.value))
		})
	}
}

func TestScript(t *testing.T) {
	steps := []RenderedStep{
		{StepIndex: 0, Kind: KindDropIndex, Statements: []string{"A", "B"}},
		{StepIndex: 1, Kind: KindAlterTable},
		{StepIndex: 2, Kind: KindCreateIndex, Statements: []string{"C"}},
	}
	assert.Equal(t, "A;\nB;\nC;\n", Script(steps))
	assert.Empty(t, Script(nil))
}

// userPostIdentity is User(id) referenced by Post(userId). identity sets
// IDENTITY on User.id and, when post is true, on Post.id too.
func userPostIdentity(identity, post bool) *schema.Snapshot {
	user := schema.Table{Name: "User", Columns: []schema.Column{required("id", schema.FamilyInt)}, PrimaryKey: pk("id")}
	user.Columns[0].AutoIncrement = identity
	p := schema.Table{
		Name:       "Post",
		Columns:    []schema.Column{required("id", schema.FamilyInt), required("userId", schema.FamilyInt)},
		PrimaryKey: pk("id"),
		ForeignKeys: []schema.ForeignKey{
			{Columns: []string{"userId"}, ReferencedTable: "User", ReferencedColumns: []string{"id"}},
		},
	}
	p.Columns[0].AutoIncrement = post
	return &schema.Snapshot{Tables: []schema.Table{user, p}}
}

func TestRenderMSSQLRebuildOfReferencedTable(t *testing.T) {
	f := NewMSSQLFlavour()

	t.Run("referencing table altered in place", func(t *testing.T) {
		m := plan(t, f, userPostIdentity(false, false), userPostIdentity(true, false))
		redefines := stepsOfKind[RedefineTables](m)
		require.Len(t, redefines, 1)
		require.Len(t, redefines[0].ReferencingForeignKeys, 1)

		steps := renderAll(t, f, m)
		require.Len(t, steps, 1)
		assert.Equal(t, []string{
			"ALTER TABLE [Post] DROP CONSTRAINT [Post_userId_fkey]",
			"CREATE TABLE [_dbmigrate_new_User] (\n    [id] INT IDENTITY(1,1) NOT NULL,\n\n    CONSTRAINT [_dbmigrate_new_User_pkey] PRIMARY KEY CLUSTERED ([id])\n)",
			"SET IDENTITY_INSERT [_dbmigrate_new_User] ON",
			"INSERT INTO [_dbmigrate_new_User] ([id]) SELECT [id] FROM [User]",
			"SET IDENTITY_INSERT [_dbmigrate_new_User] OFF",
			"DROP TABLE [User]",
			"EXEC SP_RENAME N'_dbmigrate_new_User', N'User'",
			"EXEC SP_RENAME N'_dbmigrate_new_User_pkey', N'User_pkey', N'OBJECT'",
			"ALTER TABLE [Post] ADD CONSTRAINT [Post_userId_fkey] FOREIGN KEY ([userId]) REFERENCES [User]([id])",
		}, steps[0].Statements)
	})

	t.Run("referencing table rebuilt too", func(t *testing.T) {
		m := plan(t, f, userPostIdentity(false, false), userPostIdentity(true, true))
		redefines := stepsOfKind[RedefineTables](m)
		require.Len(t, redefines, 1)
		require.Len(t, redefines[0].Tables, 2)
		assert.Empty(t, redefines[0].ReferencingForeignKeys)

		stmts := renderAll(t, f, m)[0].Statements
		position := func(stmt string) int {
			for i, s := range stmts {
				if s == stmt {
					return i
				}
			}
			t.Fatalf("statement %q not rendered:\n%v", stmt, stmts)
			return -1
		}
		dropKey := position("ALTER TABLE [Post] DROP CONSTRAINT [Post_userId_fkey]")
		dropUser := position("DROP TABLE [User]")
		dropPost := position("DROP TABLE [Post]")
		addKey := position("ALTER TABLE [Post] ADD CONSTRAINT [Post_userId_fkey] FOREIGN KEY ([userId]) REFERENCES [User]([id])")
		renamePost := position("EXEC SP_RENAME N'_dbmigrate_new_Post', N'Post'")

		assert.Less(t, dropKey, dropUser)
		assert.Less(t, dropKey, dropPost)
		assert.Less(t, renamePost, addKey)
		assert.Equal(t, len(stmts)-1, addKey, "keys are added once every table is in place")
	})
}

func TestRenderIndexPrefixLength(t *testing.T) {
	length := 10
	idx := index("Foo_name_idx", schema.IndexNormal, "name")
	idx.Columns[0].Length = &length
	table := fooTable()

	testCases := []struct {
		flavour Flavour
		want    string
	}{
		{NewMySQLFlavour(), "CREATE INDEX `Foo_name_idx` ON `Foo`(`name`(10))"},
		{NewPostgresFlavour(), `CREATE INDEX "Foo_name_idx" ON "Foo"("name")`},
		{NewSQLiteFlavour(), `CREATE INDEX "Foo_name_idx" ON "Foo"("name")`},
	}

	for _, tc := range testCases {
		t.Run(tc.flavour.Dialect(), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.flavour.RenderCreateIndex(&table, &idx))
		})
	}
}

func TestRenderSQLiteUnplannedStepsAreEmpty(t *testing.T) {
	f := NewSQLiteFlavour()
	table := fooTable()
	fk := schema.ForeignKey{Columns: []string{"id"}, ReferencedTable: "Bar", ReferencedColumns: []string{"id"}}
	a, b := index("a", schema.IndexNormal, "name"), index("b", schema.IndexNormal, "name")

	assert.Empty(t, f.RenderAddForeignKey(&table, &fk))
	assert.Empty(t, f.RenderDropForeignKey(&table, &fk))
	assert.Empty(t, f.RenderRenameIndex(&table, schema.NewPair(&a, &b)))

	m := &Migration{
		Schemas: schema.NewPair(
			&schema.Snapshot{Tables: []schema.Table{{Name: "Foo", ForeignKeys: []schema.ForeignKey{fk}}}},
			&schema.Snapshot{},
		),
		Steps: []Step{DropForeignKey{}},
	}
	steps := renderAll(t, f, m)
	require.Len(t, steps, 1)
	assert.Empty(t, steps[0].Statements)
}
