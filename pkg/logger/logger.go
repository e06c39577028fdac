package logger

import (
	"log"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// Network identifies which chain environment a message relates to.
type Network int

const (
	None Network = iota
	Testnet
	Mainnet
)

var networkNames = map[string]Network{
	"testnet": Testnet,
	"mainnet": Mainnet,
}

var networkPrefixes = map[Network]string{
	None:    "",
	Testnet: "[TESTNET] ",
	Mainnet: "[MAINNET] ",
}

var colors = map[Network]color.Attribute{
	None:    color.FgWhite,
	Testnet: color.FgYellow,
	Mainnet: color.FgMagenta,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithNetwork(network string, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithNetwork(network string, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithNetwork(network string, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithNetwork(network string, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                 {}
func (l *EmptyLogger) InfoWithNetwork(_, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                {}
func (l *EmptyLogger) ErrorWithNetwork(_, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                {}
func (l *EmptyLogger) DebugWithNetwork(_, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})               {}
func (l *EmptyLogger) NoticeWithNetwork(_, _ string, _ ...interface{}) {}

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
	}
}

// formatMessage formats the log message with the appropriate log level, network prefix, and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, network Network, format string) string {
	networkPrefix := networkPrefixes[network]
	if l.enableColoring {
		networkPrefix = color.New(colors[network]).Sprint(networkPrefix)
	}

	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}

	return levelStr + networkPrefix + format
}

func (l *StdLogger) logf(level Level, network Network, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= level {
		log.Printf(l.formatMessage(level, network, format), args...)
	}
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, None, format, args...)
}

func (l *StdLogger) InfoWithNetwork(network string, format string, args ...interface{}) {
	l.logf(InfoLevel, networkNames[network], format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, None, format, args...)
}

func (l *StdLogger) ErrorWithNetwork(network string, format string, args ...interface{}) {
	l.logf(ErrorLevel, networkNames[network], format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, None, format, args...)
}

func (l *StdLogger) DebugWithNetwork(network string, format string, args ...interface{}) {
	l.logf(DebugLevel, networkNames[network], format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, None, format, args...)
}

func (l *StdLogger) NoticeWithNetwork(network string, format string, args ...interface{}) {
	l.logf(NoticeLevel, networkNames[network], format, args...)
}
