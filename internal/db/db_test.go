package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/dbmigrate/internal/config"
	"github.com/arwahdevops/dbmigrate/internal/logger"
)

func TestBuildDSN(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     config.DatabaseConfig
		want    string
		wantErr bool
	}{
		{
			name: "postgres",
			cfg:  config.DatabaseConfig{Dialect: "postgres", Host: "db", Port: 5432, DBName: "app", SSLMode: "require"},
			want: "host=db port=5432 user=u password=p dbname=app sslmode=require connect_timeout=10",
		},
		{
			name: "mysql without tls",
			cfg:  config.DatabaseConfig{Dialect: "mysql", Host: "db", Port: 3306, DBName: "app", SSLMode: "disable"},
			want: "u:p@tcp(db:3306)/app?charset=utf8mb4&parseTime=True&loc=UTC&timeout=10s&tls=false",
		},
		{
			name: "sqlite",
			cfg:  config.DatabaseConfig{Dialect: "sqlite", DBName: "/tmp/app.db"},
			want: "file:/tmp/app.db?_foreign_keys=1&_busy_timeout=5000",
		},
		{
			name: "sqlserver",
			cfg:  config.DatabaseConfig{Dialect: "sqlserver", Host: "db", Port: 1433, DBName: "app"},
			want: "sqlserver://u:p@db:1433?database=app&encrypt=disable",
		},
		{name: "sqlite without path", cfg: config.DatabaseConfig{Dialect: "sqlite"}, wantErr: true},
		{name: "unknown dialect", cfg: config.DatabaseConfig{Dialect: "oracle"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dsn, err := BuildDSN(tc.cfg, "u", "p")
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, dsn)
		})
	}
}

func TestInspector(t *testing.T) {
	logger.Replace(zaptest.NewLogger(t), false)
	conn, err := New("sqlite", "file::memory:", logger.GetGormLogger())
	require.NoError(t, err)
	require.NoError(t, conn.Optimize(1, 0))
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.DB.Exec(`CREATE TABLE "Foo" ("id" INTEGER PRIMARY KEY, "name" TEXT)`).Error)
	require.NoError(t, conn.DB.Exec(`INSERT INTO "Foo" ("id", "name") VALUES (1, 'a'), (2, NULL), (3, 'c')`).Error)

	ctx := context.Background()
	inspector := conn.Inspector()

	rows, err := inspector.CountRows(ctx, "Foo")
	require.NoError(t, err)
	assert.EqualValues(t, 3, rows)

	values, err := inspector.CountNonNullValues(ctx, "Foo", "name")
	require.NoError(t, err)
	assert.EqualValues(t, 2, values)

	_, err = inspector.CountRows(ctx, "Missing")
	assert.Error(t, err)
	assert.Equal(t, 1, conn.OpenConnections())
}
