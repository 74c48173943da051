package logger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	Log        = zap.NewNop()
	gormLogger gormlogger.Interface
)

// Init builds the global logger. debug switches to a colored development
// console at debug level; jsonOutput selects the JSON encoder.
func Init(debug bool, jsonOutput bool) error {
	config := zap.NewProductionConfig()
	encoderConfig := zap.NewProductionEncoderConfig()
	config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	config.DisableCaller = true
	if debug {
		config = zap.NewDevelopmentConfig()
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoderConfig.CallerKey = "caller"
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "level"
	encoderConfig.NameKey = "logger"
	encoderConfig.MessageKey = "msg"
	encoderConfig.StacktraceKey = "stacktrace"
	config.EncoderConfig = encoderConfig
	config.DisableStacktrace = !debug
	config.Encoding = "console"
	if jsonOutput {
		// colored levels break JSON
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		config.EncoderConfig = encoderConfig
		config.Encoding = "json"
	}

	l, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to build zap logger: %w", err)
	}
	Replace(l, debug)
	Log.Info("Logger initialized",
		zap.Bool("debug_mode", debug),
		zap.Bool("json_output", jsonOutput),
		zap.String("log_level", config.Level.Level().String()))
	return nil
}

// Replace installs l as the global logger, e.g. a zaptest logger in tests.
func Replace(l *zap.Logger, debug bool) {
	Log = l
	gormLogger = NewGormLogger(l, debug)
}

// GetGormLogger returns the GORM bridge of the global logger.
func GetGormLogger() gormlogger.Interface {
	if gormLogger == nil {
		gormLogger = NewGormLogger(Log, false)
	}
	return gormLogger
}

// GormLogger forwards GORM logs to zap. SQL is only traced at Info level,
// with credentials redacted.
type GormLogger struct {
	logger        *zap.Logger
	LogLevel      gormlogger.LogLevel
	SlowThreshold time.Duration
	redactions    []*regexp.Regexp
}

var sensitiveWords = []string{"password", "token", "secret", "apikey", "credential"}

// NewGormLogger wraps base. DDL statements are traced in debug mode.
func NewGormLogger(base *zap.Logger, debug bool) *GormLogger {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	redactions := make([]*regexp.Regexp, 0, len(sensitiveWords))
	for _, w := range sensitiveWords {
		redactions = append(redactions, regexp.MustCompile(fmt.Sprintf(`(?i)(%s\s*[:=]\s*)('.*?'|".*?"|\S+)`, regexp.QuoteMeta(w))))
	}
	return &GormLogger{
		logger:        base.Named("gorm").WithOptions(zap.AddCallerSkip(3)),
		LogLevel:      level,
		SlowThreshold: time.Second, // DDL is slower than row traffic
		redactions:    redactions,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.LogLevel = level
	return &clone
}

func (l *GormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(msg, data...))
	}
}

// Redact masks values assigned to sensitive keys in sql.
func (l *GormLogger) Redact(sql string) string {
	for _, re := range l.redactions {
		sql = re.ReplaceAllString(sql, `${1}***REDACTED***`)
	}
	return sql
}

func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	slow := l.SlowThreshold > 0 && elapsed > l.SlowThreshold

	switch {
	case err != nil && l.LogLevel >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.logger.Error("SQL error", l.traceFields(sql, rows, elapsed, zap.Error(err))...)
	case slow && l.LogLevel >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.Warn("Slow statement", l.traceFields(sql, rows, elapsed, zap.Duration("threshold", l.SlowThreshold))...)
	case l.LogLevel >= gormlogger.Info:
		sql, rows := fc()
		l.logger.Debug("SQL statement", l.traceFields(sql, rows, elapsed)...)
	}
}

func (l *GormLogger) traceFields(sql string, rows int64, elapsed time.Duration, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.Duration("duration", elapsed.Round(time.Millisecond)),
		zap.String("sql", l.Redact(sql)),
	}
	if rows > -1 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	return append(fields, extra...)
}
