package engine

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/query/compile"
	"github.com/gateql/gateql/request"
)

func bookRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "pages", "authorId"})
}

func TestInsert_ReturnsWholeRow(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.SQLite, "")

	mock.ExpectQuery(`INSERT INTO "books" ("id", "title") VALUES (?, ?) RETURNING "id" AS "id", "title" AS "title", "pages" AS "pages", "author_id" AS "authorId"`).
		WithArgs(int64(7), "Dune").
		WillReturnRows(bookRows().AddRow(int64(7), "Dune", nil, nil))

	res, err := me.Insert(context.Background(), "admin", nil, &request.InsertRequest{
		Entity: "Book",
		Item:   map[string]any{"title": "Dune", "id": 7},
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.JSONEq(t, `{"id":7,"title":"Dune","pages":null,"authorId":null}`, string(res.Item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_EmptyBody(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.SQLite, "")

	_, err := me.Insert(context.Background(), "admin", nil, &request.InsertRequest{
		Entity: "Book",
		Item:   map[string]any{},
	})
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestInsert_UnknownField(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.SQLite, "")

	_, err := me.Insert(context.Background(), "admin", nil, &request.InsertRequest{
		Entity: "Book",
		Item:   map[string]any{"isbn": "978"},
	})
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestInsert_MySQLReadsBackByGeneratedKey(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.MySQL, "")

	mock.ExpectExec("INSERT INTO `books` (`title`) VALUES (?)").
		WithArgs("Dune").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery("SELECT JSON_OBJECT('id', `subq0`.`id`, 'title', `subq0`.`title`, 'pages', `subq0`.`pages`, 'authorId', `subq0`.`authorId`) AS `data` FROM (SELECT `table0`.`id` AS `id`, `table0`.`title` AS `title`, `table0`.`pages` AS `pages`, `table0`.`author_id` AS `authorId` FROM `books` AS `table0` WHERE `table0`.`id` = ? LIMIT 1) AS `subq0`").
		WithArgs(int64(7)).
		WillReturnRows(dataRows(`{"id": 7, "title": "Dune", "pages": null, "authorId": null}`))

	res, err := me.Insert(context.Background(), "admin", nil, &request.InsertRequest{
		Entity: "Book",
		Item:   map[string]any{"title": "Dune"},
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.JSONEq(t, `{"id":7,"title":"Dune","pages":null,"authorId":null}`, string(res.Item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_MySQLNonIntegerKeyMustBeSupplied(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.MySQL, "")

	// A string key cannot come from LAST_INSERT_ID, so omitting it has to
	// fail before anything is written.
	_, err := me.Insert(context.Background(), "admin", nil, &request.InsertRequest{
		Entity: "Tag",
		Item:   map[string]any{"label": "Science Fiction"},
	})
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestUpdate_ReturnsRow(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.SQLite, "")

	mock.ExpectQuery(`UPDATE "books" SET "title" = ? WHERE "id" = ? RETURNING "id" AS "id", "title" AS "title", "pages" AS "pages", "author_id" AS "authorId"`).
		WithArgs("Dune Messiah", int64(7)).
		WillReturnRows(bookRows().AddRow(int64(7), "Dune Messiah", nil, nil))

	res, err := me.Update(context.Background(), "admin", nil, &request.UpdateRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
		Item:   map[string]any{"title": "Dune Messiah"},
	})
	require.NoError(t, err)
	require.False(t, res.Created)
	require.JSONEq(t, `{"id":7,"title":"Dune Messiah","pages":null,"authorId":null}`, string(res.Item))
}

func TestUpdate_MissingRow(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.SQLite, "")

	mock.ExpectQuery(`UPDATE "books" SET "title" = ? WHERE "id" = ? RETURNING "id" AS "id", "title" AS "title", "pages" AS "pages", "author_id" AS "authorId"`).
		WithArgs("X", int64(404)).
		WillReturnRows(bookRows())

	_, err := me.Update(context.Background(), "admin", nil, &request.UpdateRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 404},
		Item:   map[string]any{"title": "X"},
	})
	require.Error(t, err)
	require.Equal(t, 404, httperror.FromError(err).Code())
}

func TestUpdate_PolicyHidesRow(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.SQLite, "")

	// The row exists but belongs to another author; an update pruned by
	// the policy reads the same as a missing row.
	mock.ExpectQuery(`UPDATE "books" SET "title" = ? WHERE ("id" = ? AND "author_id" = ?) RETURNING "id" AS "id", "title" AS "title", "pages" AS "pages", "author_id" AS "authorId"`).
		WithArgs("X", int64(7), int64(9)).
		WillReturnRows(bookRows())

	_, err := me.Update(context.Background(), "tenant", map[string]any{"sub": 9}, &request.UpdateRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
		Item:   map[string]any{"title": "X"},
	})
	require.Error(t, err)
	require.Equal(t, 404, httperror.FromError(err).Code())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_FieldRestriction(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.SQLite, "")

	_, err := me.Update(context.Background(), "reviewer", nil, &request.UpdateRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
		Item:   map[string]any{"pages": 100},
	})
	require.Error(t, err)
	require.Equal(t, 403, httperror.FromError(err).Code())
}

func TestUpdate_KeyInBody(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.SQLite, "")

	_, err := me.Update(context.Background(), "admin", nil, &request.UpdateRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
		Item:   map[string]any{"id": 9},
	})
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestUpsert_SQLiteProbesForExistence(t *testing.T) {
	probeSQL := `SELECT json_object('id', "subq0"."id") AS "data" FROM (SELECT "table0"."id" AS "id" FROM "books" AS "table0" WHERE "table0"."id" = ? LIMIT 1) AS "subq0"`
	upsertSQL := `INSERT INTO "books" ("id", "title") VALUES (?, ?) ON CONFLICT ("id") DO UPDATE SET "title" = excluded."title" RETURNING "id" AS "id", "title" AS "title", "pages" AS "pages", "author_id" AS "authorId"`

	t.Run("insert arm", func(t *testing.T) {
		_, me, mock := newTestEngines(t, compile.SQLite, "")

		mock.ExpectBegin()
		mock.ExpectQuery(probeSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"data"}))
		mock.ExpectQuery(upsertSQL).WithArgs(int64(7), "Dune").
			WillReturnRows(bookRows().AddRow(int64(7), "Dune", nil, nil))
		mock.ExpectCommit()

		res, err := me.Upsert(context.Background(), "admin", nil, &request.UpsertRequest{
			Entity: "Book",
			Keys:   map[string]any{"id": 7},
			Item:   map[string]any{"title": "Dune"},
		})
		require.NoError(t, err)
		require.True(t, res.Created)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update arm", func(t *testing.T) {
		_, me, mock := newTestEngines(t, compile.SQLite, "")

		mock.ExpectBegin()
		mock.ExpectQuery(probeSQL).WithArgs(int64(7)).
			WillReturnRows(dataRows(`{"id":7}`))
		mock.ExpectQuery(upsertSQL).WithArgs(int64(7), "Dune").
			WillReturnRows(bookRows().AddRow(int64(7), "Dune", nil, nil))
		mock.ExpectCommit()

		res, err := me.Upsert(context.Background(), "admin", nil, &request.UpsertRequest{
			Entity: "Book",
			Keys:   map[string]any{"id": 7},
			Item:   map[string]any{"title": "Dune"},
		})
		require.NoError(t, err)
		require.False(t, res.Created)
	})
}

func TestUpsert_MSSQLResultSetTellsTheArm(t *testing.T) {
	upsertSQL := `BEGIN TRANSACTION; UPDATE [dbo].[books] WITH (UPDLOCK, SERIALIZABLE) SET [title] = @param1 OUTPUT INSERTED.[id] AS [id], INSERTED.[title] AS [title], INSERTED.[pages] AS [pages], INSERTED.[author_id] AS [authorId] WHERE [id] = @param0; IF @@ROWCOUNT = 0 BEGIN INSERT INTO [dbo].[books] ([id], [title]) OUTPUT INSERTED.[id] AS [id], INSERTED.[title] AS [title], INSERTED.[pages] AS [pages], INSERTED.[author_id] AS [authorId] VALUES (@param0, @param1); END COMMIT TRANSACTION;`

	t.Run("update arm", func(t *testing.T) {
		_, me, mock := newTestEngines(t, compile.MSSQL, "dbo")

		mock.ExpectQuery(upsertSQL).WillReturnRows(
			bookRows().AddRow(int64(7), "Dune", nil, nil),
			bookRows(),
		)

		res, err := me.Upsert(context.Background(), "admin", nil, &request.UpsertRequest{
			Entity: "Book",
			Keys:   map[string]any{"id": 7},
			Item:   map[string]any{"title": "Dune"},
		})
		require.NoError(t, err)
		require.False(t, res.Created)
		require.JSONEq(t, `{"id":7,"title":"Dune","pages":null,"authorId":null}`, string(res.Item))
	})

	t.Run("insert arm", func(t *testing.T) {
		_, me, mock := newTestEngines(t, compile.MSSQL, "dbo")

		mock.ExpectQuery(upsertSQL).WillReturnRows(
			bookRows(),
			bookRows().AddRow(int64(7), "Dune", nil, nil),
		)

		res, err := me.Upsert(context.Background(), "admin", nil, &request.UpsertRequest{
			Entity: "Book",
			Keys:   map[string]any{"id": 7},
			Item:   map[string]any{"title": "Dune"},
		})
		require.NoError(t, err)
		require.True(t, res.Created)
	})
}

func TestUpsert_PostgresDiscriminator(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.Postgres, "public")

	mock.ExpectQuery(`INSERT INTO "public"."books" ("id", "title") VALUES ($1, $2) ON CONFLICT ("id") DO UPDATE SET "title" = EXCLUDED."title" RETURNING "id" AS "id", "title" AS "title", "pages" AS "pages", "author_id" AS "authorId", (xmax = 0) AS "__operation_is_insert"`).
		WithArgs(int64(7), "Dune").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "pages", "authorId", "__operation_is_insert"}).
			AddRow(int64(7), "Dune", nil, nil, true))

	res, err := me.Upsert(context.Background(), "admin", nil, &request.UpsertRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
		Item:   map[string]any{"title": "Dune"},
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	// The discriminator never reaches the response document.
	require.JSONEq(t, `{"id":7,"title":"Dune","pages":null,"authorId":null}`, string(res.Item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_PostgresPolicyExcludesExistingRow(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.Postgres, "public")

	// The conflict fired but the policy on the update arm refused the
	// existing row, so nothing came back.
	mock.ExpectQuery(`INSERT INTO "public"."books" ("id", "title") VALUES ($1, $2) ON CONFLICT ("id") DO UPDATE SET "title" = EXCLUDED."title" WHERE "books"."author_id" = $3 RETURNING "id" AS "id", "title" AS "title", "pages" AS "pages", "author_id" AS "authorId", (xmax = 0) AS "__operation_is_insert"`).
		WithArgs(int64(7), "Dune", int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "pages", "authorId", "__operation_is_insert"}))

	_, err := me.Upsert(context.Background(), "tenant", map[string]any{"sub": 9}, &request.UpsertRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
		Item:   map[string]any{"title": "Dune"},
	})
	require.Error(t, err)
	require.Equal(t, 403, httperror.FromError(err).Code())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_MySQLAffectedRows(t *testing.T) {
	upsertSQL := "INSERT INTO `books` (`id`, `title`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `title` = ?"
	readbackSQL := "SELECT JSON_OBJECT('id', `subq0`.`id`, 'title', `subq0`.`title`, 'pages', `subq0`.`pages`, 'authorId', `subq0`.`authorId`) AS `data` FROM (SELECT `table0`.`id` AS `id`, `table0`.`title` AS `title`, `table0`.`pages` AS `pages`, `table0`.`author_id` AS `authorId` FROM `books` AS `table0` WHERE `table0`.`id` = ? LIMIT 1) AS `subq0`"

	t.Run("one affected row is an insert", func(t *testing.T) {
		_, me, mock := newTestEngines(t, compile.MySQL, "")

		mock.ExpectExec(upsertSQL).WithArgs(int64(7), "Dune", "Dune").
			WillReturnResult(sqlmock.NewResult(7, 1))
		mock.ExpectQuery(readbackSQL).WithArgs(int64(7)).
			WillReturnRows(dataRows(`{"id": 7, "title": "Dune", "pages": null, "authorId": null}`))

		res, err := me.Upsert(context.Background(), "admin", nil, &request.UpsertRequest{
			Entity: "Book",
			Keys:   map[string]any{"id": 7},
			Item:   map[string]any{"title": "Dune"},
		})
		require.NoError(t, err)
		require.True(t, res.Created)
	})

	t.Run("two affected rows are an update", func(t *testing.T) {
		_, me, mock := newTestEngines(t, compile.MySQL, "")

		mock.ExpectExec(upsertSQL).WithArgs(int64(7), "Dune", "Dune").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectQuery(readbackSQL).WithArgs(int64(7)).
			WillReturnRows(dataRows(`{"id": 7, "title": "Dune", "pages": null, "authorId": null}`))

		res, err := me.Upsert(context.Background(), "admin", nil, &request.UpsertRequest{
			Entity: "Book",
			Keys:   map[string]any{"id": 7},
			Item:   map[string]any{"title": "Dune"},
		})
		require.NoError(t, err)
		require.False(t, res.Created)
	})
}

func TestUpsert_MySQLRejectsUpdatePolicy(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.MySQL, "")

	// ON DUPLICATE KEY UPDATE cannot carry the tenant policy, so the
	// request is refused before any SQL runs.
	_, err := me.Upsert(context.Background(), "tenant", map[string]any{"sub": 9}, &request.UpsertRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
		Item:   map[string]any{"title": "Dune"},
	})
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestUpsert_UpdateOnlyDelegates(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.SQLite, "")

	mock.ExpectQuery(`UPDATE "books" SET "title" = ? WHERE "id" = ? RETURNING "id" AS "id", "title" AS "title", "pages" AS "pages", "author_id" AS "authorId"`).
		WithArgs("Dune", int64(404)).
		WillReturnRows(bookRows())

	_, err := me.Upsert(context.Background(), "admin", nil, &request.UpsertRequest{
		Entity:     "Book",
		Keys:       map[string]any{"id": 404},
		Item:       map[string]any{"title": "Dune"},
		UpdateOnly: true,
	})
	require.Error(t, err)
	require.Equal(t, 404, httperror.FromError(err).Code())
}

func TestUpsert_RequiresBothGrants(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.SQLite, "")

	// Either arm may run, so a role holding update but not create is
	// refused before any SQL. The update-only form stays available.
	_, err := me.Upsert(context.Background(), "reviewer", nil, &request.UpsertRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
		Item:   map[string]any{"title": "Dune"},
	})
	require.Error(t, err)
	require.Equal(t, 403, httperror.FromError(err).Code())
}

func TestDelete_Bodiless(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.SQLite, "")

	mock.ExpectExec(`DELETE FROM "books" WHERE "id" = ?`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := me.Delete(context.Background(), "admin", nil, &request.DeleteRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
	}, nil)
	require.NoError(t, err)
	require.Nil(t, res.Item)
}

func TestDelete_MissingRow(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.SQLite, "")

	mock.ExpectExec(`DELETE FROM "books" WHERE "id" = ?`).
		WithArgs(int64(404)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := me.Delete(context.Background(), "admin", nil, &request.DeleteRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 404},
	}, nil)
	require.Error(t, err)
	require.Equal(t, 404, httperror.FromError(err).Code())
}

func TestDelete_ReturnsRowFields(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.SQLite, "")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT json_object('id', "subq0"."id", 'title', "subq0"."title") AS "data" FROM (SELECT "table0"."id" AS "id", "table0"."title" AS "title" FROM "books" AS "table0" WHERE "table0"."id" = ? LIMIT 1) AS "subq0"`).
		WithArgs(int64(7)).
		WillReturnRows(dataRows(`{"id":7,"title":"Dune"}`))
	mock.ExpectExec(`DELETE FROM "books" WHERE "id" = ?`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := me.Delete(context.Background(), "admin", nil, &request.DeleteRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
	}, []string{"id", "title"})
	require.NoError(t, err)
	require.Equal(t, `{"id":7,"title":"Dune"}`, string(res.Item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_RaceRollsBack(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.SQLite, "")

	// Another writer deleted the row between the read and the delete.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT json_object('id', "subq0"."id") AS "data" FROM (SELECT "table0"."id" AS "id" FROM "books" AS "table0" WHERE "table0"."id" = ? LIMIT 1) AS "subq0"`).
		WithArgs(int64(7)).
		WillReturnRows(dataRows(`{"id":7}`))
	mock.ExpectExec(`DELETE FROM "books" WHERE "id" = ?`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := me.Delete(context.Background(), "admin", nil, &request.DeleteRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
	}, []string{"id"})
	require.Error(t, err)
	require.Equal(t, 404, httperror.FromError(err).Code())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_PolicyScopesPredicate(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.SQLite, "")

	mock.ExpectExec(`DELETE FROM "books" WHERE ("id" = ? AND "author_id" = ?)`).
		WithArgs(int64(7), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := me.Delete(context.Background(), "tenant", map[string]any{"sub": 9}, &request.DeleteRequest{
		Entity: "Book",
		Keys:   map[string]any{"id": 7},
	}, nil)
	require.Error(t, err)
	require.Equal(t, 404, httperror.FromError(err).Code())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExec_OrdersAndDefaultsParameters(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.MySQL, "")

	mock.ExpectQuery("CALL `count_books`(?, ?)").
		WithArgs("scifi", int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(12)))

	out, err := me.Exec(context.Background(), "admin", nil, &request.ExecRequest{
		Entity: "CountBooks",
		Params: map[string]any{"category": "scifi"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `[{"total":12}]`, string(out))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExec_EmptyResult(t *testing.T) {
	_, me, mock := newTestEngines(t, compile.MySQL, "")

	mock.ExpectQuery("CALL `count_books`(?, ?)").
		WithArgs("poetry", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"total"}))

	out, err := me.Exec(context.Background(), "admin", nil, &request.ExecRequest{
		Entity: "CountBooks",
		Params: map[string]any{"category": "poetry", "top": 1},
	})
	require.NoError(t, err)
	require.Equal(t, `[]`, string(out))
}

func TestExec_MissingRequiredParameter(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.MySQL, "")

	_, err := me.Exec(context.Background(), "admin", nil, &request.ExecRequest{
		Entity: "CountBooks",
		Params: map[string]any{"top": 5},
	})
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestExec_UndeclaredParameter(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.MySQL, "")

	_, err := me.Exec(context.Background(), "admin", nil, &request.ExecRequest{
		Entity: "CountBooks",
		Params: map[string]any{"category": "scifi", "bogus": 1},
	})
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestExec_UnsupportedDialect(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.SQLite, "")

	_, err := me.Exec(context.Background(), "admin", nil, &request.ExecRequest{
		Entity: "CountBooks",
		Params: map[string]any{"category": "scifi"},
	})
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestExec_TableIsNotAProcedure(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.MySQL, "")

	_, err := me.Exec(context.Background(), "admin", nil, &request.ExecRequest{
		Entity: "Book",
		Params: map[string]any{},
	})
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestMutations_RejectViewsAndProcedures(t *testing.T) {
	_, me, _ := newTestEngines(t, compile.SQLite, "")

	_, err := me.Insert(context.Background(), "admin", nil, &request.InsertRequest{
		Entity: "CountBooks",
		Item:   map[string]any{"total": 1},
	})
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}
