package common

import (
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Names of the loggers used throughout the rpc packages
const (
	LoggerClient    = "client"
	LoggerAdapter   = "adapter"
	LoggerTransport = "transport/rpc"
	LoggerRPC       = "rpc"
)

// logScope names the process in every log line (e.g. "serve" or "call"),
// empty until SetLogScope is called
var logScope atomic.Value

// SetLogScope sets the name that prefixes the log lines of all rpc loggers
func SetLogScope(scope string) {
	logScope.Store(scope)
}

// levelNames are the tags written for each level, levels without a tag are never written
var levelNames = map[logger.LogLevel]string{
	logger.DEBUG:   "DEBUG",
	logger.INFO:    "INFO",
	logger.WARNING: "WARN",
	logger.ERROR:   "ERROR",
}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// iceLogger writes lines of the form "<time> <level> [<scope>] <pkg>: <message>"
type iceLogger struct {
	pkg   string
	level atomic.Int32
	out   *log.Logger
}

func newIceLogger(pkg string, w io.Writer) *iceLogger {
	l := &iceLogger{pkg: pkg, out: log.New(w, "", log.Ldate|log.Lmicroseconds)}
	l.level.Store(int32(logger.INFO))
	return l
}

func (l *iceLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *iceLogger) Debugf(format string, args ...interface{}) {
	l.logf(logger.DEBUG, format, args...)
}

func (l *iceLogger) Infof(format string, args ...interface{}) {
	l.logf(logger.INFO, format, args...)
}

func (l *iceLogger) Warningf(format string, args ...interface{}) {
	l.logf(logger.WARNING, format, args...)
}

func (l *iceLogger) Errorf(format string, args ...interface{}) {
	l.logf(logger.ERROR, format, args...)
}

func (l *iceLogger) Panicf(format string, args ...interface{}) {
	panic(fmt.Sprintf("%s: %s", l.pkg, fmt.Sprintf(format, args...)))
}

func (l *iceLogger) logf(level logger.LogLevel, format string, args ...interface{}) {
	if logger.LogLevel(l.level.Load()) < level {
		return
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-5s ", levelNames[level]))
	if scope, _ := logScope.Load().(string); scope != "" {
		b.WriteString("[" + scope + "] ")
	}
	b.WriteString(l.pkg)
	b.WriteString(": ")
	b.WriteString(fmt.Sprintf(format, args...))
	l.out.Print(b.String())
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger creates a stderr logger for the given package, it is installed
// as dragonboat's logger factory by InitLoggers
func CreateLogger(pkgName string) logger.ILogger {
	return newIceLogger(pkgName, os.Stderr)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers installs the custom format and sets the level of all rpc loggers.
// Loggers must be created through logger.GetLogger after this call to pick up the
// custom format, levels of existing loggers are updated.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)

	for _, name := range []string{LoggerClient, LoggerAdapter, LoggerTransport, LoggerRPC} {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
