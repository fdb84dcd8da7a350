package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

const (
	serviceName    = "nysc-auth"
	redacted       = "[REDACTED]"
	maxBodyLogged  = 1024
	maxBodySummary = 200
)

// LogEntry is one JSON line. UserID carries the corper's state code.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Service   string                 `json:"service"`
	UserID    *string                `json:"user_id,omitempty"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

type Logger struct {
	mu     sync.Mutex
	output io.Writer
}

var globalLogger *Logger

func New(output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{output: output}
}

func Init() {
	globalLogger = New(os.Stdout)
}

// InitWithWriter routes the package-level logger to w. Tests use it to
// capture or silence output.
func InitWithWriter(w io.Writer) {
	globalLogger = New(w)
}

func (l *Logger) log(level LogLevel, action string, userID *string, details map[string]interface{}, err error) {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Service:   serviceName,
		UserID:    userID,
		Action:    action,
		Details:   redactDetails(details),
		Caller:    caller(),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	data, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		data, _ = json.Marshal(LogEntry{
			Timestamp: entry.Timestamp,
			Level:     LevelError,
			Service:   serviceName,
			Action:    "log_marshal_failed",
			Error:     fmt.Sprintf("%s: %v", action, marshalErr),
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write(append(data, '\n'))
}

func Info(action string, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.log(LevelInfo, action, nil, details, nil)
	}
}

func InfoWithUser(userID string, action string, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.log(LevelInfo, action, &userID, details, nil)
	}
}

func Warn(action string, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.log(LevelWarn, action, nil, details, nil)
	}
}

func WarnWithUser(userID string, action string, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.log(LevelWarn, action, &userID, details, nil)
	}
}

func Error(action string, err error, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.log(LevelError, action, nil, details, err)
	}
}

func ErrorWithUser(userID string, action string, err error, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.log(LevelError, action, &userID, details, err)
	}
}

// GetUserIDFromContext returns the state code the session middleware stored
// on the request, if any.
func GetUserIDFromContext(c *fiber.Ctx) *string {
	if id, ok := c.Locals("userID").(string); ok && id != "" {
		return &id
	}
	return nil
}

// caller reports the logging call site as package/file.go:line.
func caller() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
}

// Credential and code fields of the auth request bodies.
var sensitiveFields = map[string]bool{
	"password":         true,
	"confirmpassword":  true,
	"newpassword":      true,
	"secret":           true,
	"token":            true,
	"temptoken":        true,
	"twofactorcode":    true,
	"verificationcode": true,
	"resetcode":        true,
	"code":             true,
	"backupcodes":      true,
}

func isSensitive(key string) bool {
	return sensitiveFields[strings.ToLower(key)]
}

func redactDetails(details map[string]interface{}) map[string]interface{} {
	if len(details) == 0 {
		return details
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if isSensitive(k) {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}

func redactJSON(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, inner := range v {
			if isSensitive(k) {
				v[k] = redacted
				continue
			}
			v[k] = redactJSON(inner)
		}
		return v
	case []interface{}:
		for i := range v {
			v[i] = redactJSON(v[i])
		}
		return v
	default:
		return v
	}
}

// SummarizeBody renders a request body for the access log with credential
// fields redacted at any depth. Non-JSON and oversized bodies are reported
// by size only.
func SummarizeBody(body []byte) string {
	if len(body) == 0 {
		return "empty"
	}
	if len(body) > maxBodyLogged {
		return fmt.Sprintf("large (%d bytes)", len(body))
	}

	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Sprintf("non-json (%d bytes)", len(body))
	}
	summary, err := json.Marshal(redactJSON(decoded))
	if err != nil {
		return fmt.Sprintf("non-json (%d bytes)", len(body))
	}
	if len(summary) > maxBodySummary {
		return string(summary[:maxBodySummary]) + "..."
	}
	return string(summary)
}

func GetRequestBodySummary(c *fiber.Ctx) string {
	return SummarizeBody(c.Body())
}
