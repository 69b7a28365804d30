package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global structured logger used throughout the daemon.
	Logger *zap.SugaredLogger
	// JSONOutput tracks whether the active logger emits JSON or console lines.
	JSONOutput bool
)

func init() {
	// Safe no-op logger at package load time so code can log before
	// Initialize runs without nil-checking everywhere.
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. jsonOutput selects structured JSON
// for machine consumption (production) over human-readable console lines.
func Initialize(jsonOutput bool) error {
	JSONOutput = jsonOutput

	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		zapLogger, err = cfg.Build()
		if err != nil {
			return err
		}
	} else {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderCfg),
				zapcore.Lock(zapcore.AddSync(os.Stdout)),
				zap.InfoLevel,
			),
		)
	}

	Logger = zapLogger.Sugar()
	return nil
}

// Cleanup flushes any buffered log entries. Sync errors on stdout/stderr are
// often ignorable (EINVAL on some platforms), so callers may discard them.
func Cleanup() error {
	if Logger != nil {
		return Logger.Sync()
	}
	return nil
}

func Info(args ...interface{})  { if Logger != nil { Logger.Info(args...) } }
func Infof(format string, args ...interface{})  { if Logger != nil { Logger.Infof(format, args...) } }
func Infow(msg string, kv ...interface{})  { if Logger != nil { Logger.Infow(msg, kv...) } }

func Error(args ...interface{})  { if Logger != nil { Logger.Error(args...) } }
func Errorf(format string, args ...interface{})  { if Logger != nil { Logger.Errorf(format, args...) } }
func Errorw(msg string, kv ...interface{})  { if Logger != nil { Logger.Errorw(msg, kv...) } }

func Warn(args ...interface{})  { if Logger != nil { Logger.Warn(args...) } }
func Warnf(format string, args ...interface{})  { if Logger != nil { Logger.Warnf(format, args...) } }
func Warnw(msg string, kv ...interface{})  { if Logger != nil { Logger.Warnw(msg, kv...) } }

func Debug(args ...interface{})  { if Logger != nil { Logger.Debug(args...) } }
func Debugf(format string, args ...interface{})  { if Logger != nil { Logger.Debugf(format, args...) } }
func Debugw(msg string, kv ...interface{})  { if Logger != nil { Logger.Debugw(msg, kv...) } }
