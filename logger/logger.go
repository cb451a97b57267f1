package logger

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFile is the file the CLI appends its log to.
const LogFile = "deftheim.log"

var (
	// Log starts as a no-op logger so packages can log before InitLogger runs (and in tests).
	Log       = zap.NewNop().Sugar()
	ZapLogger = zap.NewNop() // Expose the raw zap Logger
)

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "T",
		LevelKey:         "L",
		NameKey:          "N",
		CallerKey:        "",              // Disable caller key
		FunctionKey:      zapcore.OmitKey, // Disable function key
		MessageKey:       "M",
		StacktraceKey:    "S",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,                        // INFO, WARN, etc.
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"), // Simpler time format
		EncodeDuration:   zapcore.SecondsDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: "  ",
	}
}

// InitLogger points Log at LogFile in the working directory.
func InitLogger() {
	logFile, err := os.OpenFile(LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("can't open log file: %v", err)
	}
	InitWithWriter(zapcore.AddSync(logFile), zap.InfoLevel)
	Log.Infow("Logger initialized", zap.String("file", LogFile))
}

// InitWithWriter builds the console-encoded logger on top of an arbitrary sink.
func InitWithWriter(w zapcore.WriteSyncer, level zapcore.Level) {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		w,
		level,
	)

	ZapLogger = zap.New(core)
	Log = ZapLogger.Sugar()
}

// Named returns a child of Log scoped to a component, e.g. "installer".
func Named(component string) *zap.SugaredLogger {
	return Log.Named(component)
}

func Sync() {
	if ZapLogger != nil {
		_ = ZapLogger.Sync() // flushes buffer, if any
	}
}
