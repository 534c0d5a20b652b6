package execute

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
)

// ConstraintViolation classifies a driver error as a client-caused
// integrity violation and returns a message safe to show the caller. The
// message names the constraint kind but never the constraint, column, or
// value involved. ok is false for everything else, including transient
// faults.
func ConstraintViolation(err error) (msg string, ok bool) {
	if err == nil {
		return "", false
	}

	var ms mssql.Error
	if errors.As(err, &ms) {
		switch ms.Number {
		case 2627, 2601:
			return "the operation violates a unique constraint", true
		case 547:
			// Foreign key and check violations share the error number.
			return "the operation violates a foreign key or check constraint", true
		case 515:
			return "a required column was left null", true
		}
		return "", false
	}

	var my *mysql.MySQLError
	if errors.As(err, &my) {
		switch my.Number {
		case 1062:
			return "the operation violates a unique constraint", true
		case 1216, 1217, 1451, 1452:
			return "the operation violates a foreign key constraint", true
		case 1048:
			return "a required column was left null", true
		case 3819:
			return "the operation violates a check constraint", true
		}
		return "", false
	}

	var pg *pgconn.PgError
	if errors.As(err, &pg) {
		switch pg.Code {
		case "23505":
			return "the operation violates a unique constraint", true
		case "23503":
			return "the operation violates a foreign key constraint", true
		case "23502":
			return "a required column was left null", true
		case "23514":
			return "the operation violates a check constraint", true
		}
		return "", false
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		// SQLITE_CONSTRAINT with any extended code.
		if se.Code()&0xff == 19 {
			return "the operation violates a constraint", true
		}
	}

	return "", false
}
