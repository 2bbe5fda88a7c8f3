package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
)

func TestMySQLStoreRunsMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(readMigrationStatement(), mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if _, err := NewMySQLStore(context.Background(), db); err != nil {
		t.Fatalf("new store failed: %v", err)
	}
}

func TestMySQLStoreSkipsAppliedMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if _, err := NewMySQLStore(context.Background(), db); err != nil {
		t.Fatalf("new store failed: %v", err)
	}
}

func TestMySQLStoreCreate(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertRouteSQL(), mockResult{rowsAffected: 1}),
		{typ: opExec, query: insertRouteSQL(), err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}},
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db, now: fixedNow(50)}
	rec := NewRecord(sampleRoute("r1", ""), "0xabc")
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if rec.CreatedAt != 50 || rec.UpdatedAt != 50 {
		t.Fatalf("timestamps not assigned: %+v", rec)
	}
	if err := store.Create(context.Background(), NewRecord(sampleRoute("r1", ""), "")); !errors.Is(err, ErrRouteConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMySQLStoreGet(t *testing.T) {
	t.Parallel()

	doc := mustRouteDoc(t, sampleRoute("r1", route.StatusActionRequired))
	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectColumns+` WHERE id = ?`, recordRows([]driver.Value{"r1", "ACTION_REQUIRED", "0xabc", doc, int64(2), "", nil, int64(10), int64(20)})),
		queryOp(selectColumns+` WHERE id = ?`, recordRows()),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db, now: time.Now}
	rec, err := store.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.Status != route.StatusActionRequired || rec.Attempts != 2 || rec.Route.Steps[0].Tool != "stargate" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreSaveRoute(t *testing.T) {
	t.Parallel()

	const update = `UPDATE route_executions SET status = ?, route_doc = ?, updated_at = ? WHERE id = ?`
	const exists = `SELECT 1 FROM route_executions WHERE id = ?`
	db, drv := newMockDB(t, []mockOperation{
		execOp(update, mockResult{rowsAffected: 1}),
		execOp(update, mockResult{rowsAffected: 0}),
		queryOp(exists, mockRowsData{columns: []string{"1"}, values: [][]driver.Value{{int64(1)}}}),
		execOp(update, mockResult{rowsAffected: 0}),
		queryOp(exists, mockRowsData{columns: []string{"1"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db, now: fixedNow(60)}
	ctx := context.Background()
	if err := store.SaveRoute(ctx, sampleRoute("r1", route.StatusDone)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	// 内容未变化时 MySQL 返回 0 行
	if err := store.SaveRoute(ctx, sampleRoute("r1", route.StatusDone)); err != nil {
		t.Fatalf("unchanged save failed: %v", err)
	}
	if err := store.SaveRoute(ctx, sampleRoute("ghost", route.StatusDone)); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreAttemptsAndFailures(t *testing.T) {
	t.Parallel()

	doc := mustRouteDoc(t, sampleRoute("r1", ""))
	db, drv := newMockDB(t, []mockOperation{
		execOp(`UPDATE route_executions SET attempts = attempts + 1, error_code = '', last_error = '', updated_at = ? WHERE id = ?`, mockResult{rowsAffected: 1}),
		queryOp(selectColumns+` WHERE id = ?`, recordRows([]driver.Value{"r1", "PENDING", "", doc, int64(1), "", "", int64(10), int64(70)})),
		execOp(`UPDATE route_executions SET status = ?, error_code = ?, last_error = ?, updated_at = ? WHERE id = ?`, mockResult{rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db, now: fixedNow(70)}
	ctx := context.Background()
	rec, err := store.BeginAttempt(ctx, "r1")
	if err != nil {
		t.Fatalf("begin attempt failed: %v", err)
	}
	if rec.Attempts != 1 {
		t.Fatalf("unexpected attempts: %d", rec.Attempts)
	}
	if err := store.MarkFailed(ctx, "r1", xerrors.CodeTransactionFailed, "reverted"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
}

func TestMySQLStoreListAndStats(t *testing.T) {
	t.Parallel()

	docA := mustRouteDoc(t, sampleRoute("a", route.StatusFailed))
	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectColumns+` WHERE status IN (?,?) AND account = ? AND updated_at >= ? AND (id LIKE ? OR account LIKE ? OR error_code LIKE ? OR last_error LIKE ? OR route_doc LIKE ?) ORDER BY updated_at ASC, id ASC LIMIT ? OFFSET ?`,
			recordRows([]driver.Value{"a", "FAILED", "0x1", docA, int64(1), "BALANCE_TOO_LOW", "low", int64(1), int64(5)})),
		queryOp(`SELECT status, COUNT(*), COALESCE(MIN(updated_at), 0), COALESCE(MAX(updated_at), 0) FROM route_executions GROUP BY status`,
			mockRowsData{
				columns: []string{"status", "count", "oldest", "newest"},
				values: [][]driver.Value{
					{"DONE", int64(3), int64(10), int64(40)},
					{"FAILED", int64(1), int64(5), int64(5)},
				},
			}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db, now: time.Now}
	ctx := context.Background()
	list, err := store.List(ctx, BuildListOptions(
		WithStatuses(route.StatusFailed, route.StatusCancelled),
		WithAccount("0x1"),
		WithUpdatedSince(time.Unix(1, 0)),
		WithQuery("low"),
		WithSortOrder(SortByUpdatedAsc),
	))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 || list[0].ErrorCode != "BALANCE_TOO_LOW" || list[0].LastError != "low" {
		t.Fatalf("unexpected list: %+v", list)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 4 || stats.ByStatus[route.StatusDone] != 3 || stats.OldestUpdatedAt != 5 || stats.NewestUpdatedAt != 40 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func fixedNow(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func mustRouteDoc(t *testing.T, r route.Route) string {
	t.Helper()
	data, err := route.Marshal(r)
	if err != nil {
		t.Fatalf("marshal route: %v", err)
	}
	return string(data)
}

func recordRows(values ...[]driver.Value) mockRowsData {
	return mockRowsData{
		columns: []string{"id", "status", "account", "route_doc", "attempts", "error_code", "last_error", "created_at", "updated_at"},
		values:  values,
	}
}

func insertRouteSQL() string {
	return `INSERT INTO route_executions
        (id, status, account, from_chain_id, to_chain_id, route_doc, attempts, error_code, last_error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`
}

func readMigrationStatement() string {
	content, err := fs.ReadFile(embeddedMigrations, "0001_route_executions.sql")
	if err != nil {
		panic(fmt.Sprintf("failed to read migration: %v", err))
	}
	statements := splitSQLStatements(string(content))
	if len(statements) == 0 {
		panic("no statements in migration")
	}
	return statements[0]
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-route-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()
	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
	return op, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
