package batch

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dan-strohschein/sqlbatch/driver"
	"github.com/dan-strohschein/sqlbatch/driver/mock"
)

func newTestExecutor(d *mock.Driver) *Executor {
	return NewExecutor(d.ConnString(), &Options{Logger: NewNoopLogger()})
}

func TestExecutor_ResultsInOrderAfterBindingAll(t *testing.T) {
	d := mock.New()
	e := newTestExecutor(d)

	var events []string
	for i, name := range []string{"a", "b", "c"} {
		e.Register(&recordingStatement{name: name, result: i + 10, events: &events})
	}

	results, err := e.Execute()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !reflect.DeepEqual(results, []int{10, 11, 12}) {
		t.Errorf("unexpected results: %v", results)
	}

	want := []string{"init a", "init b", "init c", "exec a", "exec b", "exec c"}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events mismatch:\n got: %v\nwant: %v", events, want)
	}

	if e.Len() != 0 {
		t.Errorf("expected batch to be cleared, got %d statements", e.Len())
	}
	if !contains(d.Journal(), "commit") {
		t.Errorf("expected commit in journal: %v", d.Journal())
	}
	if d.OpenConnections() != 0 {
		t.Errorf("expected connection to be closed")
	}
}

func TestExecutor_CommandResults(t *testing.T) {
	d := mock.New()
	d.On("UPDATE a").Affects(3)
	d.On("UPDATE b").Affects(0)
	e := newTestExecutor(d)

	if idx := e.RegisterText("UPDATE a"); idx != 0 {
		t.Errorf("expected index 0, got %d", idx)
	}
	if idx := e.Register(NewCommand("UPDATE b")); idx != 1 {
		t.Errorf("expected index 1, got %d", idx)
	}

	results, err := e.Execute()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !reflect.DeepEqual(results, []int{3, 0}) {
		t.Errorf("unexpected results: %v", results)
	}

	want := []string{"connect", "begin", "exec UPDATE a", "exec UPDATE b", "commit", "close"}
	if got := d.Journal(); !reflect.DeepEqual(got, want) {
		t.Errorf("journal mismatch:\n got: %v\nwant: %v", got, want)
	}
}

func TestExecutor_FailureStopsBatchAndRollsBack(t *testing.T) {
	boom := errors.New("constraint violation")
	d := mock.New()
	d.On("INSERT b").Fails(boom)
	e := newTestExecutor(d)

	e.RegisterText("INSERT a")
	e.RegisterText("INSERT b", Param("@Name", "Alice"))
	e.RegisterText("INSERT c")

	results, err := e.Execute()
	if err == nil {
		t.Fatal("expected error")
	}
	if results != nil {
		t.Errorf("expected no results, got %v", results)
	}

	var stmtErr *StatementError
	if !errors.As(err, &stmtErr) {
		t.Fatalf("expected *StatementError, got %T", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected cause to be preserved")
	}
	if stmtErr.Query != "INSERT b" {
		t.Errorf("expected failing query, got %q", stmtErr.Query)
	}

	want := []string{"connect", "begin", "exec INSERT a", "exec INSERT b", "rollback", "close"}
	if got := d.Journal(); !reflect.DeepEqual(got, want) {
		t.Errorf("journal mismatch:\n got: %v\nwant: %v", got, want)
	}
	if e.Len() != 0 {
		t.Errorf("expected batch to be cleared after failure")
	}
	if e.State() != Idle {
		t.Errorf("expected Idle, got %s", e.State())
	}
}

func TestExecutor_RollbackFailureDoesNotMaskError(t *testing.T) {
	boom := errors.New("boom")
	rbErr := errors.New("connection reset")
	d := mock.New().FailRollback(rbErr)
	d.On("BAD").Fails(boom)

	logger := newRecordingLogger()
	e := NewExecutor(d.ConnString(), &Options{Logger: logger})
	e.RegisterText("BAD")

	_, err := e.Execute()
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if errors.Is(err, rbErr) {
		t.Error("rollback error must not replace the original error")
	}

	entry, ok := logger.find("WARN", "rollback failed")
	if !ok {
		t.Fatal("expected a WARN entry for the rollback failure")
	}
	if entry.fields["error"] != rbErr.Error() {
		t.Errorf("unexpected logged error: %v", entry.fields["error"])
	}
	if id, _ := entry.fields["trace_id"].(string); id == "" {
		t.Error("expected trace id on the log entry")
	}

	if e.Stats().RollbackFailures != 1 {
		t.Errorf("expected 1 rollback failure, got %d", e.Stats().RollbackFailures)
	}
	if d.OpenConnections() != 0 {
		t.Error("connection must be released after a failed rollback")
	}
}

func TestExecutor_CommitFailure(t *testing.T) {
	d := mock.New().FailCommit(errors.New("disk full"))
	e := newTestExecutor(d)
	e.RegisterText("UPDATE a")

	_, err := e.Execute()
	var txErr *TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("expected *TransactionError, got %T: %v", err, err)
	}
	if txErr.Code != "E_COMMIT_FAILED" {
		t.Errorf("unexpected code %s", txErr.Code)
	}
	if !contains(d.Journal(), "rollback") {
		t.Errorf("expected rollback attempt after commit failure: %v", d.Journal())
	}
}

func TestExecutor_ConnectAndBeginFailures(t *testing.T) {
	d := mock.New().FailConnect(errors.New("refused"))
	e := newTestExecutor(d)
	e.RegisterText("UPDATE a")

	_, err := e.Execute()
	var txErr *TransactionError
	if !errors.As(err, &txErr) || txErr.Code != "E_CONNECT_FAILED" {
		t.Fatalf("expected connect failure, got %v", err)
	}
	if e.Len() != 0 {
		t.Error("expected batch to be cleared after connect failure")
	}

	d = mock.New().FailBegin(errors.New("locked"))
	e = newTestExecutor(d)
	e.RegisterText("UPDATE a")

	_, err = e.Execute()
	if !errors.As(err, &txErr) || txErr.Code != "E_BEGIN_FAILED" {
		t.Fatalf("expected begin failure, got %v", err)
	}
	if d.OpenConnections() != 0 {
		t.Error("expected connection to be closed after begin failure")
	}
	if e.State() != Idle {
		t.Errorf("expected Idle, got %s", e.State())
	}
}

func TestExecutor_UnknownScheme(t *testing.T) {
	e := NewExecutor("nosuch://db", &Options{Logger: NewNoopLogger()})
	e.RegisterText("SELECT 1")

	_, err := e.Execute()
	var txErr *TransactionError
	if !errors.As(err, &txErr) || txErr.Code != "E_OPEN_FAILED" {
		t.Fatalf("expected open failure, got %v", err)
	}
}

func TestExecutor_NilSlots(t *testing.T) {
	d := mock.New()
	d.On("UPDATE a").Affects(5)
	d.On("UPDATE c").Affects(7)
	e := newTestExecutor(d)

	var nilCommand *Command
	e.Register(NewCommand("UPDATE a"), nil, NewCommand("UPDATE c"))
	e.Register(nilCommand)

	results, err := e.Execute()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !reflect.DeepEqual(results, []int{5, 1, 7, 1}) {
		t.Errorf("unexpected results: %v", results)
	}
}

func TestExecutor_Chaining(t *testing.T) {
	d := mock.New()
	d.On("INSERT parent").Affects(1)
	d.On("INSERT child").Affects(2)
	e := newTestExecutor(d)

	var events []string
	child := &recordingStatement{name: "late", result: 9, events: &events}

	e.RegisterText("INSERT parent")
	e.Register(Then(func() error {
		events = append(events, "chain")
		e.RegisterText("INSERT child")
		e.Register(child)
		return nil
	}))

	results, err := e.Execute()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !reflect.DeepEqual(results, []int{1, 1, 2, 9}) {
		t.Errorf("unexpected results: %v", results)
	}
	if !reflect.DeepEqual(events, []string{"chain", "init late", "exec late"}) {
		t.Errorf("chained statement must be bound right before it runs: %v", events)
	}

	want := []string{"connect", "begin", "exec INSERT parent", "exec INSERT child", "commit", "close"}
	if got := d.Journal(); !reflect.DeepEqual(got, want) {
		t.Errorf("journal mismatch:\n got: %v\nwant: %v", got, want)
	}
}

func TestExecutor_ExecuteContextDispatch(t *testing.T) {
	d := mock.New()
	e := newTestExecutor(d)

	var events []string
	e.Register(&recordingStatement{name: "basic", result: 1, events: &events})
	e.Register(&contextStatement{recordingStatement{name: "ctx", result: 2, events: &events}})

	results, err := e.ExecuteContext(context.Background())
	if err != nil {
		t.Fatalf("ExecuteContext failed: %v", err)
	}
	if !reflect.DeepEqual(results, []int{1, 2}) {
		t.Errorf("unexpected results: %v", results)
	}

	want := []string{"init basic", "init ctx", "exec basic", "execctx ctx"}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events mismatch:\n got: %v\nwant: %v", events, want)
	}

	events = nil
	e.Register(&contextStatement{recordingStatement{name: "ctx", result: 2, events: &events}})
	if _, err := e.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !reflect.DeepEqual(events, []string{"init ctx", "exec ctx"}) {
		t.Errorf("sync Execute must use the basic contract: %v", events)
	}
}

func TestExecutor_CancellationBetweenStatements(t *testing.T) {
	d := mock.New()
	e := newTestExecutor(d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Register(Then(func() error {
		cancel()
		return nil
	}))
	e.RegisterText("UPDATE never")

	_, err := e.ExecuteContext(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	journal := d.Journal()
	if contains(journal, "exec UPDATE never") {
		t.Error("statement after cancellation must not run")
	}
	if !contains(journal, "rollback") {
		t.Errorf("expected rollback: %v", journal)
	}
}

func TestExecutor_AlreadyCancelledContext(t *testing.T) {
	d := mock.New()
	e := newTestExecutor(d)
	e.RegisterText("UPDATE a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.ExecuteContext(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(d.Journal()) != 0 {
		t.Errorf("expected no driver calls, got %v", d.Journal())
	}
	if e.Len() != 0 {
		t.Error("expected batch to be cleared")
	}
}

func TestExecutor_ReentrantExecute(t *testing.T) {
	d := mock.New()
	e := newTestExecutor(d)

	e.Register(Then(func() error {
		_, err := e.Execute()
		return err
	}))

	_, err := e.Execute()
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected *StateError, got %T: %v", err, err)
	}
	if stateErr.Details["currentState"] != Executing.String() {
		t.Errorf("unexpected state details: %v", stateErr.Details)
	}
	if !contains(d.Journal(), "rollback") {
		t.Error("expected the outer batch to roll back")
	}

	// The executor stays usable.
	e.RegisterText("UPDATE a")
	if _, err := e.Execute(); err != nil {
		t.Errorf("executor should be reusable: %v", err)
	}
}

func TestExecutor_StateTransitions(t *testing.T) {
	d := mock.New()
	d.On("BAD").Fails(errors.New("boom"))

	var states []ExecutorState
	e := NewExecutor(d.ConnString(), &Options{
		Logger: NewNoopLogger(),
		OnStateChange: func(tr StateTransition) {
			states = append(states, tr.To)
		},
	})

	e.RegisterText("GOOD")
	if _, err := e.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want := []ExecutorState{ConnectionOpen, TransactionOpen, Binding, Executing, Committed, Idle}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("success transitions: got %v, want %v", states, want)
	}

	states = nil
	e.RegisterText("BAD")
	e.Execute()
	want = []ExecutorState{ConnectionOpen, TransactionOpen, Binding, Executing, RolledBack, Idle}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("failure transitions: got %v, want %v", states, want)
	}
}

func TestExecutor_PanicReleasesResources(t *testing.T) {
	d := mock.New()
	e := newTestExecutor(d)
	e.Register(Then(func() error { panic("statement bug") }))

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic to propagate")
			}
		}()
		e.Execute()
	}()

	if d.OpenConnections() != 0 {
		t.Error("expected connection to be closed after panic")
	}
	if !contains(d.Journal(), "rollback") {
		t.Error("expected rollback after panic")
	}
	if e.State() != Idle || e.Len() != 0 {
		t.Errorf("expected clean Idle executor, got %s with %d statements", e.State(), e.Len())
	}
}

func TestExecutor_OptionsReachDriver(t *testing.T) {
	d := mock.New()
	e := NewExecutor(d.ConnString(), &Options{
		Logger:         NewNoopLogger(),
		DefaultTimeout: 3 * time.Second,
		Isolation:      driver.Serializable,
		ReadOnly:       true,
	})

	e.RegisterText("UPDATE a")
	e.Register(NewCommand("UPDATE b").SetTimeout(time.Second))
	if _, err := e.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	reqs := d.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].Timeout != 3*time.Second {
		t.Errorf("expected default timeout, got %v", reqs[0].Timeout)
	}
	if reqs[1].Timeout != time.Second {
		t.Errorf("explicit timeout must win, got %v", reqs[1].Timeout)
	}

	opts := d.TxOptions()
	if len(opts) != 1 || opts[0].Isolation != driver.Serializable || !opts[0].ReadOnly {
		t.Errorf("unexpected tx options: %+v", opts)
	}
}

func TestExecutor_RegisterScalarAndStats(t *testing.T) {
	d := mock.New()
	d.On("SELECT COUNT(*) FROM [Users]").Returns(-1, []string{"n"}, []interface{}{int64(4)})
	e := newTestExecutor(d)

	count := RegisterScalar(e, -1, "SELECT COUNT(*) FROM [Users]")
	if _, err := e.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if count.Value() != 4 {
		t.Errorf("expected 4, got %d", count.Value())
	}

	stats := e.Stats()
	if stats.Batches != 1 || stats.Commits != 1 || stats.Statements != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	info := e.DebugInfo()
	if info["state"] != "IDLE" {
		t.Errorf("unexpected debug state: %v", info["state"])
	}
	if info["lastTraceId"] == "" {
		t.Error("expected a trace id after a batch")
	}
}

func TestStaticExecute(t *testing.T) {
	d := mock.New()
	d.On("DELETE FROM t").Affects(6)
	d.On("UPDATE t SET v=@v").Affects(2)

	n, err := Execute(NewCommand("DELETE FROM t"), d.ConnString())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if n != 6 {
		t.Errorf("expected 6, got %d", n)
	}

	n, err = ExecuteText(d.ConnString(), "UPDATE t SET v=@v", 5*time.Second, Param("@v", 1))
	if err != nil {
		t.Fatalf("ExecuteText failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}

	reqs := d.Requests()
	last := reqs[len(reqs)-1]
	if last.Timeout != 5*time.Second || len(last.Params) != 1 {
		t.Errorf("unexpected request: %+v", last)
	}
}

func TestExecuteStatement(t *testing.T) {
	d := mock.New()
	d.On("UPDATE a").Affects(1)
	d.On("UPDATE b").Affects(2)
	e := newTestExecutor(d)

	e.RegisterText("UPDATE a")
	results, err := e.ExecuteStatement(NewCommand("UPDATE b"))
	if err != nil {
		t.Fatalf("ExecuteStatement failed: %v", err)
	}
	if !reflect.DeepEqual(results, []int{1, 2}) {
		t.Errorf("unexpected results: %v", results)
	}
}

func TestExecutor_DebugModeLogsParams(t *testing.T) {
	d := mock.New()
	logger := newRecordingLogger()
	e := NewExecutor(d.ConnString(), &Options{Logger: logger, DebugMode: true})

	e.RegisterText("UPDATE t SET name=@name", Param("@name", "Alice"))
	if _, err := e.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	entry, ok := logger.find("DEBUG", "statement execution detail")
	if !ok {
		t.Fatal("expected statement detail log")
	}
	if entry.fields["@name"] != "Alice" {
		t.Errorf("expected param value in log, got %v", entry.fields)
	}
	if !strings.Contains(e.DumpDebugInfoJSON(), "lastBatch") {
		t.Error("expected state history in debug info")
	}
}
