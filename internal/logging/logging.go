// Package logging builds the run logger and scrubs secrets from anything
// that is logged.
package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RedactedText is the replacement text for sensitive data
const RedactedText = "[REDACTED]"

var (
	// password=xxx, pwd=xxx, pass=xxx until the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// libSQL auth tokens passed as a query parameter
	authTokenPattern = regexp.MustCompile(`(?i)(authToken|auth_token)=[^;&\s]+`)

	// user:pass@host
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)
)

// New builds a development-style console logger at Info, or Debug when
// verbose is set
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = !verbose
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}

// OrNop returns logger, or a no-op logger when it is nil
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// SanitizeConnectionString removes credentials from a connection string.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = authTokenPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllStringFunc(sanitized, func(m string) string {
		// keep the user name
		user := m[len("://"):]
		if idx := strings.IndexByte(user, ':'); idx >= 0 {
			user = user[:idx]
		}
		return "://" + user + ":" + RedactedText + "@"
	})
	return sanitized
}
