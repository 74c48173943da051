package migrate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arwahdevops/dbmigrate/internal/metrics"
)

// Applier executes rendered steps against the target database.
type Applier struct {
	db      *gorm.DB
	flavour Flavour
	metrics *metrics.Store
	logger  *zap.Logger
}

// NewApplier returns an applier. metricsStore may be nil.
func NewApplier(db *gorm.DB, flavour Flavour, metricsStore *metrics.Store, logger *zap.Logger) *Applier {
	return &Applier{
		db:      db,
		flavour: flavour,
		metrics: metricsStore,
		logger:  logger.Named("applier").With(zap.String("dialect", flavour.Dialect())),
	}
}

// sessionPreparer is implemented by flavours whose connection settings must
// change outside the migration transaction. verify runs after the last
// statement, inside the transaction when there is one. restore runs on the
// same connection once the migration is over. Both may be nil.
type sessionPreparer interface {
	PrepareSession(conn *gorm.DB) (verify func(*gorm.DB) error, restore func() error, err error)
}

// Apply runs the steps in order and returns the number of steps applied.
// On dialects with transactional DDL the whole plan is one transaction and a
// failure applies nothing. Elsewhere statements commit one by one and a
// failure after the first statement leaves the schema partially migrated.
// Everything runs on a single connection.
func (a *Applier) Apply(ctx context.Context, steps []RenderedStep) (int, error) {
	start := time.Now()
	if a.metrics != nil {
		a.metrics.MigrationRunning.Set(1)
		defer func() {
			a.metrics.MigrationRunning.Set(0)
			a.metrics.ApplyDuration.Observe(time.Since(start).Seconds())
		}()
	}

	transactional := a.flavour.Capabilities().TransactionalDDL
	a.logger.Info("Applying migration",
		zap.Int("steps", len(steps)),
		zap.Bool("transactional", transactional))

	var applied int
	err := a.db.WithContext(ctx).Connection(func(pinned *gorm.DB) error {
		// A fresh session per call keeps one failed statement from
		// poisoning the restore.
		conn := pinned.Session(&gorm.Session{NewDB: true})
		var verify func(*gorm.DB) error
		if sp, ok := a.flavour.(sessionPreparer); ok {
			v, restore, err := sp.PrepareSession(conn)
			if err != nil {
				return fmt.Errorf("failed to prepare %s session: %w", a.flavour.Dialect(), err)
			}
			verify = v
			if restore != nil {
				defer func() {
					if err := restore(); err != nil {
						a.logger.Warn("Failed to restore session settings", zap.Error(err))
					}
				}()
			}
		}

		if transactional {
			// A failed transaction is rolled back, so applied stays 0.
			return conn.Transaction(func(tx *gorm.DB) error {
				n, err := a.run(tx, steps, false)
				if err != nil {
					return err
				}
				if err := runVerify(verify, tx); err != nil {
					return err
				}
				applied = n
				return nil
			})
		}
		n, err := a.run(conn, steps, true)
		applied = n
		if err != nil {
			return err
		}
		return runVerify(verify, conn)
	})

	if err != nil {
		if a.metrics != nil {
			a.metrics.MigrationErrorsTotal.WithLabelValues("apply").Inc()
		}
		a.logger.Error("Migration failed", zap.Int("applied_steps", applied), zap.Error(err))
		return applied, err
	}
	a.logger.Info("Migration applied", zap.Int("applied_steps", applied), zap.Duration("duration", time.Since(start)))
	return applied, nil
}

func runVerify(verify func(*gorm.DB) error, db *gorm.DB) error {
	if verify == nil {
		return nil
	}
	if err := verify(db); err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}
	return nil
}

// run executes every statement on db and stops at the first failure.
func (a *Applier) run(db *gorm.DB, steps []RenderedStep, autocommit bool) (int, error) {
	executed := 0
	for n, step := range steps {
		log := a.logger.With(zap.Int("step", step.StepIndex), zap.String("kind", string(step.Kind)))
		for i, stmt := range step.Statements {
			log.Debug("Executing statement", zap.Int("statement", i), zap.String("sql", stmt))
			stmtStart := time.Now()
			if err := db.Exec(stmt).Error; err != nil {
				a.observeStatement(step.Kind, "failure", stmtStart)
				return n, &ApplyError{
					StepIndex:        step.StepIndex,
					StatementIndex:   i,
					Statement:        stmt,
					AppliedSteps:     n,
					PartiallyApplied: autocommit && executed > 0,
					RolledBack:       !autocommit,
					Code:             driverErrorCode(err),
					Err:              err,
				}
			}
			a.observeStatement(step.Kind, "success", stmtStart)
			executed++
		}
		if a.metrics != nil {
			a.metrics.StepsApplied.Inc()
		}
	}
	return len(steps), nil
}

func (a *Applier) observeStatement(kind StepKind, status string, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.StatementDuration.WithLabelValues(string(kind), status).Observe(time.Since(start).Seconds())
	if status == "success" {
		a.metrics.StatementsApplied.Inc()
	}
}

// driverErrorCode extracts the SQLSTATE or vendor error number from a
// driver error, or "" when the driver is unknown.
func driverErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return strconv.Itoa(int(myErr.Number))
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return strconv.Itoa(int(liteErr.ExtendedCode))
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return strconv.Itoa(int(msErr.Number))
	}
	return ""
}
