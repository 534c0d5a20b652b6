package execute

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gateql/gateql/dburl"
	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/query"
	"github.com/gateql/gateql/query/compile"
)

// MaxRetries bounds the retry loop: a transient failure is retried up to
// this many times after the initial attempt, sleeping 2^attempt seconds
// before each retry.
const MaxRetries = 5

// Executor owns the connection pool and the retry policy every statement
// runs under.
type Executor struct {
	DB      *sql.DB
	Dialect compile.Dialect
	Log     *slog.Logger

	// sleep is swapped out by tests; nil means real sleeping.
	sleep func(ctx context.Context, d time.Duration) error
}

// Open connects to the database a URL names. When tokens is non-nil a
// fresh credential is fetched and spliced in as the password before
// opening; rotation past the token lifetime means reopening.
func Open(ctx context.Context, dbURL string, tokens TokenSource, log *slog.Logger) (*Executor, error) {
	dialectName, err := dburl.InferDialectFromDBUrl(dbURL)
	if err != nil {
		return nil, err
	}
	dialect, err := compile.ForName(dialectName)
	if err != nil {
		return nil, err
	}
	driverName, err := dburl.DriverName(dialectName)
	if err != nil {
		return nil, err
	}

	if tokens != nil {
		token, err := tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		dbURL, err = dburl.WithPassword(dbURL, token)
		if err != nil {
			return nil, err
		}
	}

	dsn, err := dburl.DSN(dbURL)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	e := &Executor{DB: db, Dialect: dialect, Log: log}
	if err := e.Retry(ctx, "ping", func(ctx context.Context) error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Executor) Close() error {
	return e.DB.Close()
}

// Retry runs fn, retrying transient failures with exponential backoff.
// Non-transient errors return immediately; a transient error that
// survives every retry comes back as a service-unavailable error.
func (e *Executor) Retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt > MaxRetries {
			return httperror.TransientError(err)
		}

		delay := time.Duration(1<<attempt) * time.Second
		e.Log.WarnContext(ctx, "transient database error, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err.Error(),
		)
		if serr := e.doSleep(ctx, delay); serr != nil {
			return httperror.TransientError(err)
		}
	}
}

func (e *Executor) doSleep(ctx context.Context, d time.Duration) error {
	if e.sleep != nil {
		return e.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// InTx runs fn inside a transaction, retrying the whole transaction on
// transient failure.
func (e *Executor) InTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return e.Retry(ctx, op, func(ctx context.Context) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// JSON runs a JSON-shaped select under the retry policy.
func (e *Executor) JSON(ctx context.Context, op string, stmt query.Statement) (string, error) {
	var out string
	err := e.Retry(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = QueryJSON(ctx, e.DB, stmt)
		return err
	})
	return out, err
}

// Row runs a single-row statement under the retry policy.
func (e *Executor) Row(ctx context.Context, op string, stmt query.Statement) (map[string]any, error) {
	var out map[string]any
	err := e.Retry(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = QueryRow(ctx, e.DB, stmt)
		return err
	})
	return out, err
}

// RowSets runs a multi-result-set batch under the retry policy.
func (e *Executor) RowSets(ctx context.Context, op string, stmt query.Statement) (map[string]any, bool, error) {
	var (
		out    map[string]any
		second bool
	)
	err := e.Retry(ctx, op, func(ctx context.Context) error {
		var err error
		out, second, err = QueryRowSets(ctx, e.DB, stmt)
		return err
	})
	return out, second, err
}

// Rows runs a statement under the retry policy and returns every row of
// its first result set.
func (e *Executor) Rows(ctx context.Context, op string, stmt query.Statement) ([]map[string]any, error) {
	var out []map[string]any
	err := e.Retry(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = QueryRows(ctx, e.DB, stmt)
		return err
	})
	return out, err
}

// Affected runs a statement under the retry policy and returns its
// affected-row count.
func (e *Executor) Affected(ctx context.Context, op string, stmt query.Statement) (int64, error) {
	var out int64
	err := e.Retry(ctx, op, func(ctx context.Context) error {
		res, err := Exec(ctx, e.DB, stmt)
		if err != nil {
			return err
		}
		out, err = res.RowsAffected()
		return err
	})
	return out, err
}

// Result runs a statement under the retry policy and returns the driver
// result, for callers that need LastInsertId as well as the count.
func (e *Executor) Result(ctx context.Context, op string, stmt query.Statement) (sql.Result, error) {
	var out sql.Result
	err := e.Retry(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = Exec(ctx, e.DB, stmt)
		return err
	})
	return out, err
}
