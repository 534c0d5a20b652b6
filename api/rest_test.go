package api

import (
	"net/http"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/gateql/gateql/config"
	"github.com/gateql/gateql/query/compile"
)

func dataRows(docs ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"data"})
	for _, doc := range docs {
		rows.AddRow(doc)
	}
	return rows
}

func bookRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "pages", "authorId"})
}

func TestListEnvelope(t *testing.T) {
	srv, mock := testServer(t, compile.SQLite)
	mock.ExpectQuery("SELECT").
		WillReturnRows(dataRows(`[{"id":1,"title":"Dune"},{"id":2,"title":"Emma"}]`))

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Book?$select=id,title&$first=1", "", asRole("admin"))
	require.Equal(t, http.StatusOK, rec.Code)

	value, next := decodeEnvelope(t, rec)
	require.JSONEq(t, `[{"id":1,"title":"Dune"}]`, string(value))
	require.Contains(t, next, "http://example.com/api/Book?")
	require.Contains(t, next, "%24after=")
	require.Contains(t, next, "%24first=1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListLastPageHasNoNextLink(t *testing.T) {
	srv, mock := testServer(t, compile.SQLite)
	mock.ExpectQuery("SELECT").
		WillReturnRows(dataRows(`[{"id":1,"title":"Dune"}]`))

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Book?$select=id,title&$first=5", "", asRole("admin"))
	require.Equal(t, http.StatusOK, rec.Code)

	_, next := decodeEnvelope(t, rec)
	require.Empty(t, next)
}

func TestListUnknownEntity(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Magazine", "", asRole("admin"))
	require.Equal(t, http.StatusNotFound, rec.Code)
	_, msg := decodeError(t, rec)
	require.Equal(t, `unknown entity "Magazine"`, msg)
}

func TestListUnknownParameter(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Book?$top=3", "", asRole("admin"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, msg := decodeError(t, rec)
	require.Equal(t, `unknown query parameter "$top"`, msg)
}

func TestListBadFilter(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Book?$filter=title+resembles+%27x%27", "", asRole("admin"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, msg := decodeError(t, rec)
	require.Contains(t, msg, "$filter")
}

func TestListBadFirst(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	for target, want := range map[string]string{
		"/api/Book?$first=many": `$first must be an integer, not "many"`,
		"/api/Book?$first=0":    "$first must be positive",
	} {
		rec := doRequest(t, srv.Handler(), http.MethodGet, target, "", asRole("admin"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		_, msg := decodeError(t, rec)
		require.Equal(t, want, msg)
	}
}

func TestListBadOrderBy(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Book?$orderby=title+sideways", "", asRole("admin"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, msg := decodeError(t, rec)
	require.Equal(t, `$orderby direction must be asc or desc, not "sideways"`, msg)
}

func TestListFilterReachesTheStatement(t *testing.T) {
	srv, mock := testServer(t, compile.SQLite)
	mock.ExpectQuery(regexp.QuoteMeta(`"table0"."title" = ?`)).
		WithArgs("Dune").
		WillReturnRows(dataRows(`[{"id":1,"title":"Dune"}]`))

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Book?$select=id,title&$filter=title+eq+%27Dune%27", "", asRole("admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadByKey(t *testing.T) {
	srv, mock := testServer(t, compile.SQLite)
	mock.ExpectQuery("SELECT").
		WithArgs(int64(7)).
		WillReturnRows(dataRows(`{"id":7,"title":"Dune"}`))

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Book/id/7?$select=id,title", "", asRole("admin"))
	require.Equal(t, http.StatusOK, rec.Code)

	value, next := decodeEnvelope(t, rec)
	require.JSONEq(t, `[{"id":7,"title":"Dune"}]`, string(value))
	require.Empty(t, next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadMissingRow(t *testing.T) {
	srv, mock := testServer(t, compile.SQLite)
	mock.ExpectQuery("SELECT").WillReturnRows(dataRows())

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Book/id/7", "", asRole("admin"))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadRejectsListParameters(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Book/id/7?$first=2", "", asRole("admin"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, msg := decodeError(t, rec)
	require.Equal(t, `query parameter "$first" does not apply to a by-key read`, msg)
}

func TestKeyPathErrors(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	for target, want := range map[string]string{
		"/api/Book/id":        "the key path wants field/value pairs, like /api/Book/id/7",
		"/api/Book/id/7/id/8": `key field "id" appears twice in the path`,
	} {
		rec := doRequest(t, srv.Handler(), http.MethodGet, target, "", asRole("admin"))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		_, msg := decodeError(t, rec)
		require.Equal(t, want, msg)
	}
}

func TestCreate(t *testing.T) {
	srv, mock := testServer(t, compile.SQLite)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "books"`)).
		WithArgs(int64(7), "Dune").
		WillReturnRows(bookRows().AddRow(int64(7), "Dune", nil, nil))

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/Book", `{"id": 7, "title": "Dune"}`, asRole("admin"))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "/api/Book/id/7", rec.Header().Get("Location"))

	value, _ := decodeEnvelope(t, rec)
	require.JSONEq(t, `[{"id":7,"title":"Dune","pages":null,"authorId":null}]`, string(value))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNeedsBody(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/Book", "", asRole("admin"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, msg := decodeError(t, rec)
	require.Equal(t, "a JSON object body is required", msg)
}

func TestReplaceNullsAbsentFields(t *testing.T) {
	srv, mock := testServer(t, compile.SQLite)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT json_object`)).
		WithArgs(int64(7)).
		WillReturnRows(dataRows(`{"id":7}`))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "books"`)).
		WithArgs(int64(7), "Dune", nil, nil).
		WillReturnRows(bookRows().AddRow(int64(7), "Dune", nil, nil))
	mock.ExpectCommit()

	rec := doRequest(t, srv.Handler(), http.MethodPut, "/api/Book/id/7", `{"title": "Dune"}`, asRole("admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Location"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceMissingRequiredField(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	rec := doRequest(t, srv.Handler(), http.MethodPut, "/api/Book/id/7", `{"pages": 320}`, asRole("admin"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, msg := decodeError(t, rec)
	require.Equal(t, `a replace must supply field "title"`, msg)
}

func TestPatchCreatesWhenMissing(t *testing.T) {
	srv, mock := testServer(t, compile.SQLite)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT json_object`)).
		WithArgs("go").
		WillReturnRows(dataRows())
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "tags"`)).
		WithArgs("go", "Go").
		WillReturnRows(sqlmock.NewRows([]string{"slug", "label"}).AddRow("go", "Go"))
	mock.ExpectCommit()

	rec := doRequest(t, srv.Handler(), http.MethodPatch, "/api/Tag/slug/go", `{"label": "Go"}`, asRole("admin"))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "/api/Tag/slug/go", rec.Header().Get("Location"))

	value, _ := decodeEnvelope(t, rec)
	require.JSONEq(t, `[{"slug":"go","label":"Go"}]`, string(value))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchIfMatchSkipsTheInsertArm(t *testing.T) {
	srv, mock := testServer(t, compile.SQLite)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "books"`)).
		WillReturnRows(bookRows())

	rec := doRequest(t, srv.Handler(), http.MethodPatch, "/api/Book/id/7", `{"title": "Dune"}`,
		map[string]string{config.DefaultRoleHeader: "admin", "If-Match": "*"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIfMatchValueUnsupported(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	rec := doRequest(t, srv.Handler(), http.MethodPatch, "/api/Book/id/7", `{"title": "Dune"}`,
		map[string]string{config.DefaultRoleHeader: "admin", "If-Match": `"v1"`})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, msg := decodeError(t, rec)
	require.Equal(t, `only If-Match: * is supported, not "\"v1\""`, msg)
}

func TestDelete(t *testing.T) {
	srv, mock := testServer(t, compile.SQLite)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "books"`)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doRequest(t, srv.Handler(), http.MethodDelete, "/api/Book/id/7", "", asRole("admin"))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingRow(t *testing.T) {
	srv, mock := testServer(t, compile.SQLite)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "books"`)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := doRequest(t, srv.Handler(), http.MethodDelete, "/api/Book/id/7", "", asRole("admin"))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcedureGet(t *testing.T) {
	srv, mock := testServer(t, compile.MySQL)
	mock.ExpectQuery("CALL").
		WithArgs("scifi", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(12)))

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/CountBooks?category=scifi&top=3", "", asRole("admin"))
	require.Equal(t, http.StatusOK, rec.Code)

	value, _ := decodeEnvelope(t, rec)
	require.JSONEq(t, `[{"total":12}]`, string(value))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcedurePost(t *testing.T) {
	srv, mock := testServer(t, compile.MySQL)
	mock.ExpectQuery("CALL").
		WithArgs("scifi", int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(12)))

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/CountBooks", `{"category": "scifi"}`, asRole("admin"))
	require.Equal(t, http.StatusOK, rec.Code)

	value, _ := decodeEnvelope(t, rec)
	require.JSONEq(t, `[{"total":12}]`, string(value))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcedureRejectsReservedParameters(t *testing.T) {
	srv, _ := testServer(t, compile.MySQL)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/CountBooks?$first=2", "", asRole("admin"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, msg := decodeError(t, rec)
	require.Equal(t, `query parameter "$first" does not apply to a stored procedure`, msg)
}

func TestFieldRestrictionAppliesToSelect(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Book?$select=pages", "", asRole("reviewer"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAnonymousHasNoGrant(t *testing.T) {
	srv, _ := testServer(t, compile.SQLite)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/Book", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
