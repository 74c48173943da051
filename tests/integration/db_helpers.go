package integration

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbmigrate/internal/config"
	"github.com/arwahdevops/dbmigrate/internal/db"
	"github.com/arwahdevops/dbmigrate/internal/schema"
)

const (
	postgresImage = "postgres:13-alpine"
	mysqlImage    = "mysql:8.0"
)

// TestDBInstance holds a running database container and a connection to it.
type TestDBInstance struct {
	Container testcontainers.Container
	Conn      *db.Connector
	Config    config.DatabaseConfig
	Port      nat.Port
}

// mustPortInt converts a nat.Port to int.
func mustPortInt(t *testing.T, port nat.Port) int {
	t.Helper()
	p, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("Failed to convert port %s to int: %v", port.Port(), err)
	}
	return p
}

// startContainer starts req and connects to it through the db package, the
// same way the CLI does.
func startContainer(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, cfg config.DatabaseConfig, log *zap.Logger) *TestDBInstance {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start %s container: %s", cfg.Dialect, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get %s container host: %s", cfg.Dialect, err)
	}
	mappedPort, err := container.MappedPort(ctx, nat.Port(req.ExposedPorts[0]))
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get mapped port for %s: %s", cfg.Dialect, err)
	}
	cfg.Host = host
	cfg.Port = mustPortInt(t, mappedPort)

	dsn, err := db.BuildDSN(cfg, cfg.User, cfg.Password)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to build %s DSN: %s", cfg.Dialect, err)
	}
	// MySQL accepts TCP connections before it accepts logins.
	conn, err := db.ConnectWithRetry(ctx, cfg, dsn, 10, 2*time.Second, log)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to connect to test %s instance: %s", cfg.Dialect, err)
	}
	if err := conn.Optimize(2, time.Hour); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to configure %s pool: %s", cfg.Dialect, err)
	}

	t.Logf("%s container started. Host: %s, Port: %s", cfg.Dialect, host, mappedPort.Port())
	return &TestDBInstance{Container: container, Conn: conn, Config: cfg, Port: mappedPort}
}

func startPostgresContainer(ctx context.Context, t *testing.T, log *zap.Logger) *TestDBInstance {
	t.Helper()
	cfg := config.DatabaseConfig{Dialect: "postgres", User: "testpguser", Password: "testpgpass", DBName: "testpgdb", SSLMode: "disable"}
	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       cfg.DBName,
			"POSTGRES_USER":     cfg.User,
			"POSTGRES_PASSWORD": cfg.Password,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	return startContainer(ctx, t, req, cfg, log)
}

func startMySQLContainer(ctx context.Context, t *testing.T, log *zap.Logger) *TestDBInstance {
	t.Helper()
	cfg := config.DatabaseConfig{Dialect: "mysql", User: "testmysqluser", Password: "testmysqlpass", DBName: "testmysqldb", SSLMode: "disable"}
	req := testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_DATABASE":      cfg.DBName,
			"MYSQL_USER":          cfg.User,
			"MYSQL_PASSWORD":      cfg.Password,
			"MYSQL_ROOT_PASSWORD": "MYSQL_R00T_P@$$W0RD!",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").
			WithStartupTimeout(120 * time.Second),
	}
	return startContainer(ctx, t, req, cfg, log)
}

// stopContainer closes the connection and terminates the container.
func stopContainer(ctx context.Context, t *testing.T, instance *TestDBInstance) {
	t.Helper()
	if instance == nil {
		return
	}
	if instance.Conn != nil {
		if err := instance.Conn.Close(); err != nil {
			t.Logf("Warning: error closing connection for %s: %v", instance.Config.Dialect, err)
		}
	}
	if instance.Container != nil {
		if err := instance.Container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate container for %s: %s", instance.Config.Dialect, err)
		} else {
			t.Logf("%s container terminated successfully.", instance.Config.Dialect)
		}
	}
}

// loadSnapshot reads a snapshot from testdata.
func loadSnapshot(t *testing.T, name string) *schema.Snapshot {
	t.Helper()
	snap, err := schema.LoadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("Failed to load snapshot %s: %s", name, err)
	}
	return snap
}

// columnExists asks information_schema, which both Postgres and MySQL expose.
func columnExists(t *testing.T, instance *TestDBInstance, table, column string) bool {
	t.Helper()
	var n int64
	err := instance.Conn.DB.Raw(
		"SELECT COUNT(*) FROM information_schema.columns WHERE table_name = ? AND column_name = ?",
		table, column).Scan(&n).Error
	if err != nil {
		t.Fatalf("Failed to query information_schema on %s: %s", instance.Config.Dialect, err)
	}
	return n > 0
}
