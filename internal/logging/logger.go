package logging

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger пишет сообщения компонента в общие синки (консоль и файл).
// Уровни фильтрации задаются отдельно для консоли и файла.
type Logger struct {
	component       string
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
}

// Общие синки процесса. Консоль доступна всегда,
// файловый синк появляется после InitDefaultLogger.
var (
	sinkMu        sync.RWMutex
	consoleLogger = log.New(os.Stdout, "", log.LstdFlags)
	fileLogger    *log.Logger
	logFile       *os.File

	defaultLogger = &Logger{component: "main", minConsoleLevel: INFO, minFileLevel: TRACE}
)

// InitDefaultLogger создает файловый синк в директории logs.
// До вызова логирование идет только в консоль.
func InitDefaultLogger() error {
	if err := os.MkdirAll("logs", 0755); err != nil {
		return fmt.Errorf("ошибка создания директории logs: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join("logs", fmt.Sprintf("server_%s.log", timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	sinkMu.Lock()
	fileLogger = log.New(file, "", log.LstdFlags)
	logFile = file
	sinkMu.Unlock()

	return nil
}

// CloseDefaultLogger закрывает файловый синк
func CloseDefaultLogger() {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
		fileLogger = nil
	}
}

// NewLogger возвращает логгер компонента с уровнями по умолчанию:
// INFO в консоль, TRACE в файл.
func NewLogger(component string) *Logger {
	return &Logger{
		component:       component,
		minConsoleLevel: INFO,
		minFileLevel:    TRACE,
	}
}

// SetLevels меняет пороги фильтрации логгера
func (l *Logger) SetLevels(console, file LogLevel) {
	l.minConsoleLevel = console
	l.minFileLevel = file
}

// Trace логирует сообщение уровня TRACE
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(TRACE, format, args...)
}

// Debug логирует сообщение уровня DEBUG
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info логирует сообщение уровня INFO
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn логирует сообщение уровня WARN
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error логирует сообщение уровня ERROR
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// ProtocolError логирует ошибку разбора пакета вместе с hex-дампом сырых данных
func (l *Logger) ProtocolError(connID string, err error, data []byte) {
	l.Warn("Protocol error from %s: %v", connID, err)
	if len(data) > 0 {
		l.Debug("Raw data (%d bytes):\n%s", len(data), HexDump(data))
	}
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	message := fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, fmt.Sprintf(format, args...))

	sinkMu.RLock()
	defer sinkMu.RUnlock()

	if level >= l.minConsoleLevel {
		consoleLogger.Println(message)
	}
	if fileLogger != nil && level >= l.minFileLevel {
		fileLogger.Println(message)
	}
}

// Пакетные функции пишут через логгер по умолчанию.

// Trace логирует сообщение уровня TRACE
func Trace(format string, args ...interface{}) {
	defaultLogger.Trace(format, args...)
}

// Debug логирует сообщение уровня DEBUG
func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(format, args...)
}

// Info логирует сообщение уровня INFO
func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

// Warn логирует сообщение уровня WARN
func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(format, args...)
}

// Error логирует сообщение уровня ERROR
func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}

// HexDump создает hex-дамп данных, ограниченный 256 байтами
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}
