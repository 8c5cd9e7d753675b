package sqldb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dan-strohschein/sqlbatch/driver"
)

func openTemp(t *testing.T) (string, driver.Conn) {
	t.Helper()

	connStr := "sqlite3://" + filepath.Join(t.TempDir(), "test.db")
	connector, err := driver.Open(connStr)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	conn, err := connector.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return connStr, conn
}

func TestRender(t *testing.T) {
	params := []driver.Param{
		{Name: "@id", Value: 7},
		{Name: "name", Value: "x"},
	}

	text, args := render(driver.Request{Text: "SELECT 1", Params: params}, Positional)
	if text != "SELECT 1" {
		t.Errorf("unexpected text %q", text)
	}
	if len(args) != 2 || args[0] != 7 || args[1] != "x" {
		t.Errorf("unexpected positional args: %v", args)
	}

	text, _ = render(driver.Request{Text: "add_user", Kind: driver.StoredProcedure, Params: params}, Positional)
	if text != "CALL add_user(?, ?)" {
		t.Errorf("unexpected procedure text %q", text)
	}

	text, _ = render(driver.Request{Text: "add_user", Kind: driver.StoredProcedure, Params: params}, Named)
	if text != "CALL add_user(@id, @name)" {
		t.Errorf("unexpected named procedure text %q", text)
	}
}

func TestNormalizeMySQLDSN(t *testing.T) {
	dsn, err := NormalizeMySQLDSN("user:pw@tcp(localhost:3306)/app")
	if err != nil {
		t.Fatalf("NormalizeMySQLDSN failed: %v", err)
	}
	if !strings.HasPrefix(dsn, "user:pw@tcp(localhost:3306)/app") {
		t.Errorf("unexpected dsn %q", dsn)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("expected parseTime=true in %q", dsn)
	}

	if _, err := NormalizeMySQLDSN("not a dsn"); err == nil {
		t.Error("expected error for malformed dsn")
	}
}

func TestHandleCacheReuse(t *testing.T) {
	connStr := "sqlite3://" + filepath.Join(t.TempDir(), "cache.db")

	a, err := driver.Open(connStr)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	before := CacheStats()

	b, err := driver.Open(connStr)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if a.(*Connector).DB() != b.(*Connector).DB() {
		t.Error("expected the same *sql.DB for the same connection string")
	}
	if CacheStats().Hits != before.Hits+1 {
		t.Errorf("expected a cache hit, stats: %+v", CacheStats())
	}
}

func TestExecQueryCommit(t *testing.T) {
	ctx := context.Background()
	_, conn := openTemp(t)

	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}

	if _, err := tx.Exec(ctx, driver.Request{Text: "CREATE TABLE [Users] ([Id] INTEGER PRIMARY KEY, [Name] TEXT)"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	n, err := tx.Exec(ctx, driver.Request{
		Text:   "INSERT INTO [Users] ([Name]) VALUES (@name)",
		Params: []driver.Param{{Name: "@name", Value: "Alice"}},
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row affected, got %d", n)
	}

	cur, err := tx.Query(ctx, driver.Request{
		Text:    "SELECT [Id], [Name] FROM [Users] WHERE [Name] = @name",
		Timeout: 5 * time.Second,
		Params:  []driver.Param{{Name: "@name", Value: "Alice"}},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if cur.RecordsAffected() != -1 {
		t.Errorf("expected RecordsAffected=-1, got %d", cur.RecordsAffected())
	}

	ok, err := cur.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a row, got ok=%v err=%v", ok, err)
	}

	cols, err := cur.Columns()
	if err != nil {
		t.Fatalf("Columns failed: %v", err)
	}
	if len(cols) != 2 || cols[1] != "Name" {
		t.Errorf("unexpected columns: %v", cols)
	}

	var id int64
	var name string
	if err := cur.Scan(&id, &name); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if name != "Alice" {
		t.Errorf("expected Alice, got %s", name)
	}

	v, err := cur.Value(0)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v.(int64) != id {
		t.Errorf("expected Value(0)=%d, got %v", id, v)
	}

	ok, err = cur.Next(ctx)
	if err != nil || ok {
		t.Errorf("expected exhaustion, got ok=%v err=%v", ok, err)
	}
	if err := cur.Close(ctx); err != nil {
		t.Fatalf("cursor close failed: %v", err)
	}
	if err := cur.Close(ctx); err != nil {
		t.Errorf("second close should be a no-op: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	_, conn := openTemp(t)

	setup, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if _, err := setup.Exec(ctx, driver.Request{Text: "CREATE TABLE t (v INTEGER)"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := setup.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	tx, err := conn.BeginTx(ctx, driver.TxOptions{Isolation: driver.Serializable})
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if _, err := tx.Exec(ctx, driver.Request{Text: "INSERT INTO t (v) VALUES (1)"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	check, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	defer check.Rollback()

	cur, err := check.Query(ctx, driver.Request{Text: "SELECT COUNT(*) FROM t"})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	defer cur.Close(ctx)

	if ok, _ := cur.Next(ctx); !ok {
		t.Fatal("expected a count row")
	}
	v, _ := cur.Value(0)
	if v.(int64) != 0 {
		t.Errorf("expected 0 rows after rollback, got %v", v)
	}
}

func TestCancelledContextLeavesTransactionToCaller(t *testing.T) {
	_, conn := openTemp(t)

	setup, err := conn.BeginTx(context.Background(), driver.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if _, err := setup.Exec(context.Background(), driver.Request{Text: "CREATE TABLE t (v INTEGER)"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := setup.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if _, err := tx.Exec(ctx, driver.Request{Text: "INSERT INTO t (v) VALUES (1)"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	cancel()
	time.Sleep(10 * time.Millisecond)

	if _, err := tx.Exec(ctx, driver.Request{Text: "INSERT INTO t (v) VALUES (2)"}); err == nil {
		t.Error("statements must still observe the cancelled context")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit after cancellation failed: %v", err)
	}

	check, err := conn.BeginTx(context.Background(), driver.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	defer check.Rollback()

	cur, err := check.Query(context.Background(), driver.Request{Text: "SELECT COUNT(*) FROM t"})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	defer cur.Close(context.Background())

	if ok, _ := cur.Next(context.Background()); !ok {
		t.Fatal("expected a count row")
	}
	v, _ := cur.Value(0)
	if v.(int64) != 1 {
		t.Errorf("expected the first insert committed, got %v rows", v)
	}
}

func TestIsolationMapping(t *testing.T) {
	levels := []driver.IsolationLevel{
		driver.LevelDefault, driver.ReadUncommitted, driver.ReadCommitted,
		driver.RepeatableRead, driver.Serializable,
	}
	seen := make(map[string]bool)
	for _, l := range levels {
		seen[isolation(l).String()] = true
	}
	if len(seen) != len(levels) {
		t.Errorf("expected distinct sql isolation levels, got %v", seen)
	}
}
