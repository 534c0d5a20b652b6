package execute

import (
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
)

// IsTransient reports whether an error is worth retrying: the statement
// failed for a reason that can clear on its own, not because the
// statement is wrong. Constraint violations, syntax errors and permission
// failures are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var ms mssql.Error
	if errors.As(err, &ms) {
		switch ms.Number {
		// Azure SQL availability and throttling codes, plus deadlock.
		case 40613, 40501, 40197, 49918, 49919, 49920, 4060, 10928, 10929, 1205:
			return true
		}
		return false
	}

	var my *mysql.MySQLError
	if errors.As(err, &my) {
		switch my.Number {
		// Lock wait timeout, deadlock, server gone, lost connection.
		case 1205, 1213, 2006, 2013:
			return true
		}
		return false
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var pg *pgconn.PgError
	if errors.As(err, &pg) {
		// Class 08 is connection exceptions; the named codes are
		// serialization failure, deadlock, and cannot-connect-now.
		if strings.HasPrefix(pg.Code, "08") {
			return true
		}
		switch pg.Code {
		case "40001", "40P01", "57P03":
			return true
		}
		return false
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		// SQLITE_BUSY and SQLITE_LOCKED, including extended codes.
		base := se.Code() & 0xff
		return base == 5 || base == 6
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
