package database

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Target describes the database being reconciled
type Target struct {
	// URL is a connection string: a postgres:// URL or key=value DSN, a
	// SQLite file path (optionally sqlite:// or file: prefixed), or a
	// libsql:// URL.
	URL string
	// Local overrides host-based locality detection when set.
	Local *bool
}

// DetectDriver returns the driver type for a connection string:
// "postgres", "sqlite" or "libsql". A schemeless string is a SQLite file
// path; any other URL scheme is an input error.
func DetectDriver(connStr string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(connStr))

	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres", nil
	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "wss://"), strings.HasPrefix(lower, "ws://"):
		return "libsql", nil
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		// sqld speaks HTTP too
		return "libsql", nil
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "file:"), lower == ":memory:":
		return "sqlite", nil
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname="):
		return "postgres", nil
	case lower == "":
		return "", Wrap(KindInput, "resolve target", fmt.Errorf("empty connection string"))
	case strings.Contains(lower, "://"):
		scheme, _, _ := strings.Cut(lower, "://")
		return "", Wrap(KindInput, "resolve target", fmt.Errorf("unsupported connection string scheme %q", scheme))
	default:
		return "sqlite", nil
	}
}

// SQLDriverName returns the database/sql driver registered for driverType
func SQLDriverName(driverType string) string {
	switch driverType {
	case "postgres":
		return "postgres"
	case "libsql":
		return "libsql"
	default:
		return "sqlite"
	}
}

// IsLocal reports whether the target lives on this machine. Only local
// targets may ever be reset. An unrecognized connection string is never
// local.
func (t Target) IsLocal() bool {
	if t.Local != nil {
		return *t.Local
	}

	driverType, err := DetectDriver(t.URL)
	if err != nil {
		return false
	}
	switch driverType {
	case "sqlite":
		return true
	case "libsql":
		u, err := url.Parse(t.URL)
		if err != nil {
			return false
		}
		return isLoopback(u.Hostname())
	default:
		return isLoopback(postgresHost(t.URL))
	}
}

// Redacted returns the connection string with credentials removed, for
// display.
func (t Target) Redacted() string {
	u, err := url.Parse(t.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return t.URL
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	q := u.Query()
	if q.Has("authToken") {
		q.Set("authToken", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// postgresHost extracts the host from a URL or key=value connection string.
// An empty host means a unix socket.
func postgresHost(connStr string) string {
	lower := strings.ToLower(connStr)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		u, err := url.Parse(connStr)
		if err != nil {
			return "invalid"
		}
		if host := u.Hostname(); host != "" {
			return host
		}
		return u.Query().Get("host")
	}

	for _, field := range strings.Fields(connStr) {
		key, value, ok := strings.Cut(field, "=")
		if ok && strings.EqualFold(key, "host") {
			return strings.Trim(value, "'")
		}
	}
	return ""
}

func isLoopback(host string) bool {
	if host == "" || strings.HasPrefix(host, "/") {
		// unix socket
		return true
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
