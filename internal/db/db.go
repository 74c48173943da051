package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arwahdevops/dbmigrate/internal/config"
	"github.com/arwahdevops/dbmigrate/internal/logger"
)

// Connector is an open connection pool to the migration target.
type Connector struct {
	DB      *gorm.DB
	Dialect string
}

func New(dialect, dsn string, gl gormlogger.Interface) (*Connector, error) {
	var dialector gorm.Dialector

	lcDialect := strings.ToLower(dialect)
	switch lcDialect {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "sqlserver", "mssql":
		lcDialect = "sqlserver"
		dialector = sqlserver.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gl,
		// DDL runs outside GORM's implicit write transactions.
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database (%s): %w", lcDialect, err)
	}

	return &Connector{DB: db, Dialect: lcDialect}, nil
}

// Optimize configures the underlying connection pool.
func (c *Connector) Optimize(poolSize int, maxLifetime time.Duration) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for optimization: %w", err)
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	if maxLifetime <= 0 {
		maxLifetime = time.Hour
	}

	switch c.Dialect {
	case "sqlite":
		// one writer; PRAGMAs are per connection
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	default:
		sqlDB.SetMaxIdleConns(max(poolSize/2, 1))
		sqlDB.SetMaxOpenConns(poolSize)
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
	return nil
}

// OpenConnections reports the open connections of the pool.
func (c *Connector) OpenConnections() int {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return 0
	}
	return sqlDB.Stats().OpenConnections
}

func (c *Connector) Ping(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for ping: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

func (c *Connector) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB handle to close: %w", err)
	}
	logger.Log.Info("Closing database connection pool", zap.String("dialect", c.Dialect))
	return sqlDB.Close()
}

// BuildDSN builds the driver connection string for the target.
func BuildDSN(cfg config.DatabaseConfig, username, password string) (string, error) {
	sslmode := strings.ToLower(cfg.SSLMode)

	switch strings.ToLower(cfg.Dialect) {
	case "mysql":
		tls := "false"
		switch sslmode {
		case "", "disable":
		case "allow", "prefer":
			tls = "skip-verify"
		default:
			tls = "true"
		}
		// multiStatements stays off: every statement is executed on its own.
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=10s&tls=%s",
			username, password, cfg.Host, cfg.Port, cfg.DBName, tls), nil
	case "postgres":
		if sslmode == "" {
			sslmode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
			cfg.Host, cfg.Port, username, password, cfg.DBName, sslmode), nil
	case "sqlite":
		if cfg.DBName == "" {
			return "", fmt.Errorf("sqlite requires a database file path")
		}
		return fmt.Sprintf("file:%s?_foreign_keys=1&_busy_timeout=5000", cfg.DBName), nil
	case "sqlserver", "mssql":
		u := &url.URL{
			Scheme: "sqlserver",
			User:   url.UserPassword(username, password),
			Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		}
		q := url.Values{}
		q.Set("database", cfg.DBName)
		if sslmode == "" || sslmode == "disable" {
			q.Set("encrypt", "disable")
		} else {
			q.Set("encrypt", "true")
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	default:
		return "", fmt.Errorf("cannot build DSN: unsupported dialect %q", cfg.Dialect)
	}
}

// ConnectWithRetry opens and pings the target, retrying with a fixed
// interval until maxRetries is exhausted or ctx is done.
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, dsn string, maxRetries int, retryInterval time.Duration, log *zap.Logger) (*Connector, error) {
	log = log.With(zap.String("dialect", cfg.Dialect), zap.String("host", cfg.Host), zap.String("dbname", cfg.DBName))
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			log.Warn("Retrying database connection",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", maxRetries+1),
				zap.Duration("wait_interval", retryInterval),
				zap.NamedError("previous_error", lastErr))
			timer := time.NewTimer(retryInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("context cancelled while waiting to reconnect (attempt %d): %w; last error: %v", i+1, ctx.Err(), lastErr)
			}
		}

		start := time.Now()
		conn, err := New(cfg.Dialect, dsn, logger.GetGormLogger())
		if err != nil {
			lastErr = fmt.Errorf("connect attempt %d/%d failed: %w", i+1, maxRetries+1, err)
			continue
		}
		if err := conn.Ping(ctx); err != nil {
			lastErr = fmt.Errorf("ping attempt %d/%d failed: %w", i+1, maxRetries+1, err)
			_ = conn.Close()
			continue
		}
		log.Info("Database connection successful", zap.Duration("connect_duration", time.Since(start)))
		return conn, nil
	}
	log.Error("Failed to connect to database after all retries", zap.Int("attempts", maxRetries+1), zap.NamedError("final_error", lastErr))
	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", cfg.Dialect, maxRetries+1, lastErr)
}
