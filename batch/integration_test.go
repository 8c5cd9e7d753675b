package batch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/sqlbatch/batch"
	"github.com/dan-strohschein/sqlbatch/testutil"
)

const schema = `
CREATE TABLE [Users] (
	[Id]   INTEGER PRIMARY KEY AUTOINCREMENT,
	[Name] TEXT NOT NULL UNIQUE,
	[Age]  INTEGER NULL
)`

const logSchema = `
CREATE TABLE [Log] (
	[UserId]  INTEGER NOT NULL,
	[Message] TEXT NOT NULL
)`

func setupDatabase(t *testing.T) string {
	t.Helper()

	connStr := testutil.SQLiteConn(t)
	testutil.MustExec(t, connStr, schema, logSchema)
	return connStr
}

func counts(t *testing.T, connStr string) (users, logs int64) {
	t.Helper()
	return testutil.Count(t, connStr, "SELECT COUNT(*) FROM [Users]"),
		testutil.Count(t, connStr, "SELECT COUNT(*) FROM [Log]")
}

func TestIntegration_BatchCommitsAsOneUnit(t *testing.T) {
	connStr := setupDatabase(t)

	exec := testutil.NewExecutor(t, connStr)
	exec.RegisterText("INSERT INTO [Users] ([Name], [Age]) VALUES (@Name, @Age)",
		batch.Param("@Name", "Alice"), batch.Param("@Age", 30))
	exec.RegisterText("INSERT INTO [Log] ([UserId], [Message]) SELECT [Id], @Message FROM [Users] WHERE [Name] = @Name",
		batch.Param("@Message", "created"), batch.Param("@Name", "Alice"))
	total := batch.RegisterScalar(exec, 0, "SELECT COUNT(*) FROM [Users]")

	results, err := exec.Execute()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, -1}, results)
	assert.Equal(t, 1, total.Value(), "scalar sees uncommitted writes of its own batch")
	assert.Equal(t, 0, exec.Len(), "batch is cleared after execution")

	users, logs := counts(t, connStr)
	assert.Equal(t, int64(1), users)
	assert.Equal(t, int64(1), logs)
}

func TestIntegration_FailureRollsBackEverything(t *testing.T) {
	connStr := setupDatabase(t)

	exec := testutil.NewExecutor(t, connStr)
	exec.RegisterText("INSERT INTO [Users] ([Name]) VALUES (@Name)", batch.Param("@Name", "Alice"))
	exec.RegisterText("INSERT INTO [Log] ([UserId], [Message]) VALUES (@UserId, @Message)",
		batch.Param("@UserId", 1), batch.Param("@Message", nil))

	_, err := exec.Execute()
	require.Error(t, err)

	var stmtErr *batch.StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Contains(t, stmtErr.Query, "INSERT INTO [Log]")
	assert.Contains(t, err.Error(), "@Message=NULL")
	assert.Equal(t, batch.Idle, exec.State())

	users, logs := counts(t, connStr)
	assert.Equal(t, int64(0), users, "first insert must be rolled back")
	assert.Equal(t, int64(0), logs)
}

func TestIntegration_ChainedStatementsUseReadValues(t *testing.T) {
	connStr := setupDatabase(t)

	exec := testutil.NewExecutor(t, connStr)
	exec.RegisterText("INSERT INTO [Users] ([Name]) VALUES (@Name)", batch.Param("@Name", "Bob"))
	exec.Register(batch.NewReaderEach(func(row batch.Row) {
		var id int64
		var name string
		if err := row.Scan(&id, &name); err != nil {
			t.Errorf("scan: %v", err)
			return
		}
		exec.RegisterText("INSERT INTO [Log] ([UserId], [Message]) VALUES (@UserId, @Message)",
			batch.Param("@UserId", id), batch.Param("@Message", "hello "+name))
	}, "SELECT [Id], [Name] FROM [Users] ORDER BY [Id]"))

	_, err := exec.Execute()
	require.NoError(t, err)

	var message string
	exec.Register(batch.NewScalar[string]("SELECT [Message] FROM [Log]").OnValue(func(v string) {
		message = v
	}))
	_, err = exec.Execute()
	require.NoError(t, err)
	assert.Equal(t, "hello Bob", message)
}

func TestIntegration_NullScalarKeepsDefault(t *testing.T) {
	connStr := setupDatabase(t)

	exec := testutil.NewExecutor(t, connStr)
	exec.RegisterText("INSERT INTO [Users] ([Name]) VALUES (@Name)", batch.Param("@Name", "Carol"))
	age := batch.RegisterScalar(exec, 99, "SELECT [Age] FROM [Users] WHERE [Name] = @Name", batch.Param("@Name", "Carol"))
	missing := batch.RegisterScalar(exec, "none", "SELECT [Name] FROM [Users] WHERE [Name] = @Name", batch.Param("@Name", "Dave"))

	_, err := exec.Execute()
	require.NoError(t, err)
	assert.Equal(t, 99, age.Value())
	assert.Equal(t, "none", missing.Value())
}

func TestIntegration_ExecuteContextTimeout(t *testing.T) {
	connStr := setupDatabase(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	exec := testutil.NewExecutor(t, connStr)
	exec.RegisterText("INSERT INTO [Users] ([Name]) VALUES (@Name)", batch.Param("@Name", "Erin"))
	_, err := exec.ExecuteContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	users, _ := counts(t, connStr)
	assert.Equal(t, int64(0), users)
}

func TestIntegration_StaticExecuteText(t *testing.T) {
	connStr := setupDatabase(t)

	n, err := batch.ExecuteText(connStr, "INSERT INTO [Users] ([Name]) VALUES (@Name)", time.Second, batch.Param("@Name", "Frank"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	users, _ := counts(t, connStr)
	assert.Equal(t, int64(1), users)
}

func TestIntegration_CancelledReaderStillCommits(t *testing.T) {
	connStr := setupDatabase(t)
	testutil.MustExec(t, connStr,
		"INSERT INTO [Users] ([Name]) VALUES ('Gina')",
		"INSERT INTO [Users] ([Name]) VALUES ('Hank')",
		"INSERT INTO [Users] ([Name]) VALUES ('Iris')",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := testutil.NewExecutor(t, connStr)
	exec.RegisterText("INSERT INTO [Log] ([UserId], [Message]) VALUES (@UserId, @Message)",
		batch.Param("@UserId", 1), batch.Param("@Message", "kept"))

	var rows int
	exec.Register(batch.NewReaderContext(func(ctx context.Context, row batch.Row) (bool, error) {
		rows++
		cancel()
		return true, nil
	}, "SELECT [Id] FROM [Users] ORDER BY [Id]"))

	results, err := exec.ExecuteContext(ctx)
	require.NoError(t, err, "a reader stopped by cancellation must not abort the transaction")
	assert.Len(t, results, 2)
	assert.Equal(t, 1, rows, "iteration stops at the next row boundary")

	_, logs := counts(t, connStr)
	assert.Equal(t, int64(1), logs, "insert before the cancelled reader is committed")
}

func TestIntegration_HooksObserveSQLiteBatch(t *testing.T) {
	connStr := setupDatabase(t)
	rec := &testutil.Recorder{}

	exec := testutil.NewExecutor(t, connStr)
	exec.RegisterHook(testutil.NewRecordingHook(rec, "audit"))
	exec.RegisterText("INSERT INTO [Users] ([Name]) VALUES (@Name)", batch.Param("@Name", "Jules"))
	exec.Register(testutil.NewRecordingStatement(rec, "custom", 7, nil))

	results, err := exec.ExecuteContext(testutil.WithTimeout(t))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 7}, results)

	events := rec.Events()
	assert.Contains(t, events, "init custom")
	assert.Contains(t, events, "exec custom")
	assert.Contains(t, events, "audit after 0 result=1")
	assert.Contains(t, events, "audit after 1 result=7")

	users, _ := counts(t, connStr)
	assert.Equal(t, int64(1), users)
}

func TestIntegration_StateVisibleWhileReading(t *testing.T) {
	connStr := setupDatabase(t)
	table := testutil.TableName("events")
	testutil.MustExec(t, connStr,
		"CREATE TABLE ["+table+"] ([Kind] TEXT NOT NULL)",
		"INSERT INTO ["+table+"] ([Kind]) VALUES ('start')",
	)

	release := make(chan struct{})
	exec := testutil.NewExecutor(t, connStr)
	exec.RegisterText("INSERT INTO ["+table+"] ([Kind]) VALUES (@Kind)", batch.Param("@Kind", "middle"))
	exec.Register(batch.NewReaderEach(func(row batch.Row) {
		<-release
	}, "SELECT [Kind] FROM ["+table+"] LIMIT 1"))

	done := make(chan error, 1)
	go func() {
		_, err := exec.ExecuteContext(testutil.WithTimeout(t))
		done <- err
	}()

	testutil.WaitFor(t, 5*time.Second, 5*time.Millisecond, func() bool {
		return exec.State() == batch.Executing
	})
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, batch.Idle, exec.State())
	assert.Equal(t, int64(2), testutil.Count(t, connStr, "SELECT COUNT(*) FROM ["+table+"]"))
}
