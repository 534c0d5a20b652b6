// Package dburl infers dialects from database URLs and rewrites them into
// the DSN form each driver expects.
package dburl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Supported database dialects
const (
	DialectMSSQL    = "mssql"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

var (
	ErrUnknownDialect = errors.New("unknown database dialect")
	ErrInvalidURL     = errors.New("invalid database URL")
)

// InferDialectFromDBUrl returns the dialect ("mssql", "mysql", "postgres",
// or "sqlite") based on the URL scheme.
func InferDialectFromDBUrl(dbURL string) (string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "sqlserver", "mssql":
		return DialectMSSQL, nil
	case "mysql":
		return DialectMySQL, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownDialect, scheme)
	}
}

// DriverName returns the database/sql driver name registered for a dialect.
func DriverName(dialect string) (string, error) {
	switch dialect {
	case DialectMSSQL:
		return "sqlserver", nil
	case DialectMySQL:
		return "mysql", nil
	case DialectPostgres:
		return "pgx", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownDialect, dialect)
	}
}

// DSN converts a database URL into the DSN string the dialect's driver
// expects. Postgres and MSSQL drivers take the URL form directly (the
// mssql:// alias is normalized to sqlserver://); SQLite takes the bare
// file path; MySQL takes the user:pass@tcp(host:port)/dbname form.
func DSN(dbURL string) (string, error) {
	dialect, err := InferDialectFromDBUrl(dbURL)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(dbURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	switch dialect {
	case DialectPostgres:
		return dbURL, nil

	case DialectMSSQL:
		u.Scheme = "sqlserver"
		return u.String(), nil

	case DialectSQLite:
		if u.Opaque != "" {
			return u.Opaque, nil
		}
		return u.Path, nil

	case DialectMySQL:
		var auth string
		if u.User != nil {
			auth = u.User.Username()
			if pass, ok := u.User.Password(); ok {
				auth += ":" + pass
			}
			auth += "@"
		}
		dsn := fmt.Sprintf("%stcp(%s)/%s", auth, Endpoint(dbURL), ParseDatabaseName(dbURL))
		query := u.Query()
		if query.Get("parseTime") == "" {
			query.Set("parseTime", "true")
		}
		return dsn + "?" + query.Encode(), nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownDialect, dialect)
}

// WithPassword returns the URL with the userinfo password replaced. Used to
// splice freshly minted auth tokens into the connection string.
func WithPassword(dbURL, password string) (string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.User == nil {
		return "", fmt.Errorf("%w: no username in URL", ErrInvalidURL)
	}
	u.User = url.UserPassword(u.User.Username(), password)
	return u.String(), nil
}

// Username returns the userinfo username, or "".
func Username(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil || u.User == nil {
		return ""
	}
	return u.User.Username()
}

// Endpoint returns host:port, filling in the dialect's default port when
// the URL omits one.
func Endpoint(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		dialect, err := InferDialectFromDBUrl(dbURL)
		if err != nil {
			return host
		}
		switch dialect {
		case DialectMSSQL:
			port = "1433"
		case DialectMySQL:
			port = "3306"
		case DialectPostgres:
			port = "5432"
		default:
			return host
		}
	}
	return host + ":" + port
}

// IsLocalhost returns true if the URL points to localhost (127.0.0.1,
// localhost, or ::1). For SQLite URLs, this always returns true since
// SQLite is file-based.
func IsLocalhost(dbURL string) bool {
	u, err := url.Parse(dbURL)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(u.Scheme)

	// SQLite is always local
	if scheme == "sqlite" || scheme == "sqlite3" {
		return true
	}

	host := strings.ToLower(u.Hostname())

	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ParseDatabaseName extracts the database name from a URL.
// Returns an empty string if no database name is present.
func ParseDatabaseName(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return ""
	}

	return strings.TrimPrefix(u.Path, "/")
}
