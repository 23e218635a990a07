// Package zaplogger contains the application logger: console output
// always, plus a database sink once InitLogger is given a connection.
// The database rows back the /api/logs endpoint.
package zaplogger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

var log *zap.Logger
var logLevel zap.AtomicLevel

// Fields type, used to pass to `WithFields`.
type Fields map[string]interface{}

// LogModel represents the structure of the log entry in the database
type LogModel struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Level     string    `json:"level"`
	Caller    string    `json:"caller"`
	Message   string    `json:"message"`
	Fields    string    `json:"fields"` // JSON string of additional fields
}

// TableName specifies the table name for LogModel
func (LogModel) TableName() string {
	return "_app_logs"
}

// DbWriter implements zapcore.WriteSyncer for database logging using GORM
type DbWriter struct {
	db *gorm.DB
}

// LogData represents the structure of the JSON log data
type LogData struct {
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
	Caller    string `json:"caller"`
	Message   string `json:"message"`
}

func (w *DbWriter) Write(p []byte) (n int, err error) {
	var logData LogData
	err = json.Unmarshal(p, &logData)
	if err != nil {
		return 0, err
	}

	// Extract additional fields
	var rawMessage map[string]json.RawMessage
	err = json.Unmarshal(p, &rawMessage)
	if err != nil {
		return 0, err
	}

	additionalFields := make(map[string]interface{})
	for k, v := range rawMessage {
		if k != "level" && k != "timestamp" && k != "caller" && k != "message" {
			additionalFields[k] = v
		}
	}

	fieldsJSON, err := json.Marshal(additionalFields)
	if err != nil {
		return 0, err
	}

	timestamp, err := time.Parse("2006-01-02T15:04:05.999-0700", logData.Timestamp)
	if err != nil {
		return 0, err
	}

	logRecord := LogModel{
		Timestamp: timestamp,
		Level:     logData.Level,
		Caller:    logData.Caller,
		Message:   logData.Message,
		Fields:    string(fieldsJSON),
	}

	result := w.db.Create(&logRecord)
	if result.Error != nil {
		return 0, result.Error
	}
	return len(p), nil
}

func (w *DbWriter) Sync() error {
	return nil
}

func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02T15:04:05.999-0700"))
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:   "message",
		LevelKey:     "level",
		TimeKey:      "timestamp",
		CallerKey:    "caller",
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeTime:   customTimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
}

func init() {
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(os.Stdout),
		logLevel,
	)
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// InitLogger initializes the logger with both console and database output
func InitLogger(db *gorm.DB) error {
	// Create the table if it doesn't exist
	err := db.AutoMigrate(&LogModel{})
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %v", err)
	}

	dbWriter := &DbWriter{db: db}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(os.Stdout), logLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(dbWriter), logLevel),
	)

	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return nil
}

// SetLogLevel sets the logging level
func SetLogLevel(level string) {
	switch level {
	case "debug":
		logLevel.SetLevel(zapcore.DebugLevel)
	case "info":
		logLevel.SetLevel(zapcore.InfoLevel)
	case "warn":
		logLevel.SetLevel(zapcore.WarnLevel)
	case "error":
		logLevel.SetLevel(zapcore.ErrorLevel)
	default:
		logLevel.SetLevel(zapcore.InfoLevel)
	}
}

// Info logs an info message
func Info(msg string, fields ...Fields) {
	if len(fields) > 0 {
		log.Info(msg, getZapFields(fields[0])...)
	} else {
		log.Info(msg)
	}
}

// Debug logs a debug message
func Debug(msg string, fields ...Fields) {
	if len(fields) > 0 {
		log.Debug(msg, getZapFields(fields[0])...)
	} else {
		log.Debug(msg)
	}
}

// Warn logs a warning message
func Warn(msg string, fields ...Fields) {
	if len(fields) > 0 {
		log.Warn(msg, getZapFields(fields[0])...)
	} else {
		log.Warn(msg)
	}
}

// Error logs an error message
func Error(msg string, fields ...Fields) {
	if len(fields) > 0 {
		log.Error(msg, getZapFields(fields[0])...)
	} else {
		log.Error(msg)
	}
}

// Fatal logs a fatal message and exits the program
func Fatal(msg string, fields ...Fields) {
	if len(fields) > 0 {
		log.Fatal(msg, getZapFields(fields[0])...)
	} else {
		log.Fatal(msg)
	}
}

// WithFields adds fields to the logger
func WithFields(fields Fields) *zap.Logger {
	return log.With(getZapFields(fields)...)
}

// getZapFields converts our Fields type to zap.Field slice
func getZapFields(fields Fields) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return zapFields
}

// Sync flushes any buffered log entries
func Sync() error {
	return log.Sync()
}
