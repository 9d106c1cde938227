// logs/log.go
// 统一的日志包：提供包级函数和可注入的 Logger 接口
package logs

import (
	"log"
	"os"
)

// 日志级别常量（数值越大，级别越高）
const (
	LevelTrace   = iota // 0（最低，最详细）
	LevelDebug          // 1
	LevelVerbose        // 2
	LevelInfo           // 3
	LevelWarning        // 4
	LevelError          // 5（最高，最严重）
)

// Logger 可注入的日志接口，各 Manager 持有该接口而非全局实例
type Logger interface {
	Trace(format string, v ...interface{})
	Debug(format string, v ...interface{})
	Verbose(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

// StdLogger 默认实现：分级写 stdout/stderr
type StdLogger struct {
	level         int
	traceLogger   *log.Logger
	debugLogger   *log.Logger
	verboseLogger *log.Logger
	infoLogger    *log.Logger
	warnLogger    *log.Logger
	errorLogger   *log.Logger
}

// NewStdLogger 创建指定级别的 StdLogger
func NewStdLogger(level int) *StdLogger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	return &StdLogger{
		level:         level,
		traceLogger:   log.New(os.Stdout, "[TRACE]   ", flags),
		debugLogger:   log.New(os.Stdout, "[DEBUG]   ", flags),
		verboseLogger: log.New(os.Stdout, "[VERBOSE] ", flags),
		infoLogger:    log.New(os.Stdout, "[INFO]    ", flags),
		warnLogger:    log.New(os.Stdout, "[WARN]    ", flags),
		errorLogger:   log.New(os.Stderr, "[ERROR]   ", flags),
	}
}

func (l *StdLogger) Trace(format string, v ...interface{}) {
	if l.level <= LevelTrace {
		l.traceLogger.Printf(format, v...)
	}
}

func (l *StdLogger) Debug(format string, v ...interface{}) {
	if l.level <= LevelDebug {
		l.debugLogger.Printf(format, v...)
	}
}

func (l *StdLogger) Verbose(format string, v ...interface{}) {
	if l.level <= LevelVerbose {
		l.verboseLogger.Printf(format, v...)
	}
}

func (l *StdLogger) Info(format string, v ...interface{}) {
	if l.level <= LevelInfo {
		l.infoLogger.Printf(format, v...)
	}
}

func (l *StdLogger) Warn(format string, v ...interface{}) {
	if l.level <= LevelWarning {
		l.warnLogger.Printf(format, v...)
	}
}

func (l *StdLogger) Error(format string, v ...interface{}) {
	if l.level <= LevelError {
		l.errorLogger.Printf(format, v...)
	}
}

// 全局默认 Logger（包级函数走这里）
var defaultLogger Logger = NewStdLogger(LevelInfo)

// SetDefault 替换全局默认 Logger（进程启动时调用一次）
func SetDefault(l Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default 返回全局默认 Logger，便于注入
func Default() Logger {
	return defaultLogger
}

// 包级别的日志方法

func Trace(format string, v ...interface{}) {
	defaultLogger.Trace(format, v...)
}

func Debug(format string, v ...interface{}) {
	defaultLogger.Debug(format, v...)
}

func Verbose(format string, v ...interface{}) {
	defaultLogger.Verbose(format, v...)
}

func Info(format string, v ...interface{}) {
	defaultLogger.Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	defaultLogger.Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	defaultLogger.Error(format, v...)
}

// Nop 静默 Logger，测试注入用
type Nop struct{}

func (Nop) Trace(string, ...interface{})   {}
func (Nop) Debug(string, ...interface{})   {}
func (Nop) Verbose(string, ...interface{}) {}
func (Nop) Info(string, ...interface{})    {}
func (Nop) Warn(string, ...interface{})    {}
func (Nop) Error(string, ...interface{})   {}
