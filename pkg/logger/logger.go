package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger is the key/value logger shared by every component
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	// With returns a logger that prefixes every entry with the given key/value pairs
	With(keyvals ...interface{}) Logger
}

type logLevel int

const (
	debugLevel logLevel = iota
	infoLevel
	warnLevel
	errorLevel
	silentLevel
)

type simpleLogger struct {
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	level       logLevel
	fields      []interface{}
}

// NewLogger creates a logger writing info and below to stdout and errors to stderr
func NewLogger(level string) Logger {
	return newSimpleLogger(parseLevel(level), os.Stdout, os.Stderr)
}

// NewWriterLogger creates a logger that writes every level to w
func NewWriterLogger(level string, w io.Writer) Logger {
	return newSimpleLogger(parseLevel(level), w, w)
}

// Nop returns a logger that discards everything
func Nop() Logger {
	return newSimpleLogger(silentLevel, io.Discard, io.Discard)
}

func newSimpleLogger(l logLevel, out, errOut io.Writer) *simpleLogger {
	return &simpleLogger{
		debugLogger: log.New(out, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile),
		infoLogger:  log.New(out, "INFO: ", log.Ldate|log.Ltime),
		warnLogger:  log.New(out, "WARN: ", log.Ldate|log.Ltime),
		errorLogger: log.New(errOut, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile),
		level:       l,
	}
}

func parseLevel(level string) logLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return debugLevel
	case "info":
		return infoLevel
	case "warn", "warning":
		return warnLevel
	case "error":
		return errorLevel
	case "silent", "off":
		return silentLevel
	default:
		return infoLevel
	}
}

func (l *simpleLogger) With(keyvals ...interface{}) Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(keyvals))
	fields = append(fields, l.fields...)
	fields = append(fields, keyvals...)

	child := *l
	child.fields = fields
	return &child
}

func (l *simpleLogger) Debug(msg string, keyvals ...interface{}) {
	l.write(debugLevel, l.debugLogger, msg, keyvals)
}

func (l *simpleLogger) Info(msg string, keyvals ...interface{}) {
	l.write(infoLevel, l.infoLogger, msg, keyvals)
}

func (l *simpleLogger) Warn(msg string, keyvals ...interface{}) {
	l.write(warnLevel, l.warnLogger, msg, keyvals)
}

func (l *simpleLogger) Error(msg string, keyvals ...interface{}) {
	l.write(errorLevel, l.errorLogger, msg, keyvals)
}

func (l *simpleLogger) write(level logLevel, out *log.Logger, msg string, keyvals []interface{}) {
	if l.level > level {
		return
	}

	if len(l.fields) > 0 {
		keyvals = append(append([]interface{}{}, l.fields...), keyvals...)
	}

	// depth 3: write -> Debug/Error -> caller
	out.Output(3, formatMsg(msg, keyvals...))
}

func formatMsg(msg string, keyvals ...interface{}) string {
	if len(keyvals) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)

	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprintf("%v", keyvals[i])
		value := "missing"

		if i+1 < len(keyvals) {
			value = fmt.Sprintf("%v", keyvals[i+1])
		}

		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(value)
	}

	return b.String()
}
