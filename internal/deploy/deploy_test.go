package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"sqlci/internal/config"
	"sqlci/internal/db"
	"sqlci/internal/scripts"
	"sqlci/internal/status"
)

type fixture struct {
	dir     string
	folder  string
	reset   string
	dbPath  string
	engine  *Engine
	events  *status.Collector
	applied time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		folder:  filepath.Join(dir, "scripts"),
		reset:   filepath.Join(dir, "reset"),
		dbPath:  filepath.Join(dir, "target.db"),
		events:  &status.Collector{},
		applied: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
	}
	if err := scripts.EnsureFolders(f.folder, f.reset); err != nil {
		t.Fatal(err)
	}
	f.engine = New(status.NewPublisher(f.events.Subscriber()), nil)
	f.engine.now = func() time.Time { return f.applied }
	return f
}

func (f *fixture) write(t *testing.T, folder, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(folder, name), []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
}

func (f *fixture) config(t *testing.T, env string) config.Configuration {
	t.Helper()
	cfg, err := config.Configuration{
		ConnectionString: f.dbPath,
		Provider:         "sqlite",
		ScriptsFolder:    f.folder,
		ReleaseVersion:   "1.2.3",
		ScriptTable:      "script_history",
		Environment:      env,
	}.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	return cfg
}

func (f *fixture) tables(t *testing.T) []string {
	t.Helper()
	d, _ := db.DialectFor(db.SQLite)
	handle, err := db.Open(d, f.dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Close()
	rows, err := handle.Query(`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		out = append(out, name)
	}
	return out
}

func historyScripts(t *testing.T, e *Engine, cfg config.Configuration) []string {
	t.Helper()
	records, err := e.History(context.Background(), cfg)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	out := []string{}
	for _, r := range records {
		out = append(out, r.Script)
	}
	return out
}

func TestExecute_NotVerified(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Execute(context.Background(), config.Configuration{
		ConnectionString: f.dbPath,
		Provider:         "sqlite",
		ScriptsFolder:    f.folder,
		ReleaseVersion:   "1.0.0",
		ScriptTable:      "script_history",
		Environment:      "dev",
	})
	if !errors.Is(err, config.ErrNotVerified) {
		t.Fatalf("Execute() error = %v, want ErrNotVerified", err)
	}
	if res == nil || res.State != StateFailed || res.Success {
		t.Errorf("Execute() result = %+v, want failed", res)
	}
	if _, statErr := os.Stat(f.dbPath); !os.IsNotExist(statErr) {
		t.Error("unverified configuration must not touch the database")
	}
}

func TestExecute_AppliesInOrderAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.folder, "10_all_c.sql", "CREATE TABLE c(id int)")
	f.write(t, f.folder, "2_all_b.sql", "CREATE TABLE b(id int)\nGO\nINSERT INTO b VALUES(1)")
	f.write(t, f.folder, "1_all_a.sql", "CREATE TABLE a(id int)")
	cfg := f.config(t, "dev")
	ctx := context.Background()

	res, err := f.engine.Execute(ctx, cfg)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []string{"1_all_a.sql", "2_all_b.sql", "10_all_c.sql"}
	if !reflect.DeepEqual(res.Applied, want) {
		t.Errorf("Applied = %v, want %v", res.Applied, want)
	}
	if !res.Success || res.State != StateDone || res.Discovered != 3 || res.Skipped != 0 {
		t.Errorf("result = %+v", res)
	}

	again, err := f.engine.Execute(ctx, cfg)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if len(again.Applied) != 0 || again.Skipped != 3 {
		t.Errorf("second run applied %v skipped %d, want nothing applied", again.Applied, again.Skipped)
	}
	if again.RunID == res.RunID {
		t.Error("each run needs its own id")
	}

	records, err := f.engine.History(ctx, cfg)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("History() = %v, want 3 records", records)
	}
	first := records[0]
	if first.ID != "1" || first.Script != "1_all_a.sql" || first.Release != "1.2.3" || !first.AppliedOnUTC.Equal(f.applied) {
		t.Errorf("first record = %+v", first)
	}
}

func TestExecute_DiffAgainstHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := f.config(t, "dev")

	f.write(t, f.folder, "1_all_a.sql", "CREATE TABLE a(id int)")
	if _, err := f.engine.Execute(ctx, cfg); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	f.write(t, f.folder, "2_all_b.sql", "CREATE TABLE b(id int)")
	f.write(t, f.folder, "3_dev_c.sql", "CREATE TABLE c(id int)")
	f.write(t, f.folder, "4_prod_d.sql", "CREATE TABLE d(id int)")

	res, err := f.engine.Execute(ctx, cfg)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []string{"2_all_b.sql", "3_dev_c.sql"}
	if !reflect.DeepEqual(res.Applied, want) {
		t.Errorf("Applied = %v, want %v", res.Applied, want)
	}
	if res.Discovered != 3 || res.Skipped != 1 {
		t.Errorf("Discovered = %d Skipped = %d", res.Discovered, res.Skipped)
	}
	if got := f.tables(t); !reflect.DeepEqual(got, []string{"a", "b", "c", "script_history"}) {
		t.Errorf("tables = %v", got)
	}
}

func TestExecute_FailFast(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.folder, "1_all_a.sql", "CREATE TABLE a(id int)")
	f.write(t, f.folder, "2_all_b.sql", "CREATE TABLE b(id int)\nGO\nINSERT INTO nowhere VALUES(1)\nGO\nCREATE TABLE b2(id int)")
	f.write(t, f.folder, "3_all_c.sql", "CREATE TABLE c(id int)")
	cfg := f.config(t, "dev")

	res, err := f.engine.Execute(context.Background(), cfg)
	var execErr *db.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want ExecutionError", err)
	}
	if execErr.Script != "2_all_b.sql" || execErr.Batch != 2 {
		t.Errorf("ExecutionError = %+v", execErr)
	}
	if res.State != StateFailed || res.Success {
		t.Errorf("result = %+v, want failed", res)
	}
	if !reflect.DeepEqual(res.Applied, []string{"1_all_a.sql"}) {
		t.Errorf("Applied = %v", res.Applied)
	}
	if !strings.Contains(res.Error, "2_all_b.sql") {
		t.Errorf("result error = %q", res.Error)
	}
	events := f.events.Notifications()

	// Batches that ran before the failure stay committed; the audit table
	// only lists fully applied scripts.
	if got := f.tables(t); !reflect.DeepEqual(got, []string{"a", "b", "script_history"}) {
		t.Errorf("tables = %v", got)
	}
	if got := historyScripts(t, f.engine, cfg); !reflect.DeepEqual(got, []string{"1_all_a.sql"}) {
		t.Errorf("history = %v", got)
	}

	last := events[len(events)-1]
	if last.Level != status.LevelError {
		t.Errorf("last notification = %+v, want error", last)
	}
	for _, n := range events {
		if strings.Contains(n.Message, "3_all_c.sql") {
			t.Errorf("third script was attempted: %q", n.Message)
		}
	}
}

func TestExecute_NoScripts(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Execute(context.Background(), f.config(t, "dev"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success || res.Discovered != 0 || len(res.Applied) != 0 {
		t.Errorf("result = %+v", res)
	}
	if _, err := os.Stat(f.dbPath); !os.IsNotExist(err) {
		t.Error("no connection should be opened when there is nothing to deploy")
	}

	var sawWarning bool
	for _, n := range f.events.Notifications() {
		if n.Level == status.LevelWarning {
			sawWarning = true
		}
	}
	if !sawWarning {
		t.Error("expected a warning for an empty scripts folder")
	}
}

func TestExecute_ScopeFiltering(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.folder, "1_ALL_a.sql", "CREATE TABLE a(id int)")
	f.write(t, f.folder, "2_Prod_b.sql", "CREATE TABLE b(id int)")
	f.write(t, f.folder, "3_dev_c.sql", "CREATE TABLE c(id int)")

	res, err := f.engine.Execute(context.Background(), f.config(t, "prod"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !reflect.DeepEqual(res.Applied, []string{"1_ALL_a.sql", "2_Prod_b.sql"}) {
		t.Errorf("Applied = %v", res.Applied)
	}
}

func TestExecute_DuplicateSequence(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.folder, "1_all_a.sql", "CREATE TABLE a(id int)")
	f.write(t, f.folder, "1_dev_b.sql", "CREATE TABLE b(id int)")

	_, err := f.engine.Execute(context.Background(), f.config(t, "dev"))
	var dup *scripts.DuplicateSequenceError
	if !errors.As(err, &dup) {
		t.Fatalf("Execute() error = %v, want DuplicateSequenceError", err)
	}
}

func TestExecute_Reset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, f.folder, "1_all_a.sql", "CREATE TABLE a(id int)")
	cfg := f.config(t, "dev")
	if _, err := f.engine.Execute(ctx, cfg); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	f.write(t, f.reset, "1_all_drop.sql", "DROP TABLE IF EXISTS a\nGO\nDROP TABLE IF EXISTS script_history")
	f.write(t, f.reset, "2_prod_never.sql", "CREATE TABLE prod_only(id int)")
	cfg.ResetDatabase = true
	cfg.ResetScriptsFolder = f.reset
	cfg.ResetConnectionString = f.dbPath
	cfg, err := cfg.Verify()
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.engine.Execute(ctx, cfg)
	if err != nil {
		t.Fatalf("Execute() with reset error = %v", err)
	}
	if !reflect.DeepEqual(res.ResetScripts, []string{"1_all_drop.sql"}) {
		t.Errorf("ResetScripts = %v", res.ResetScripts)
	}
	if !reflect.DeepEqual(res.Applied, []string{"1_all_a.sql"}) {
		t.Errorf("Applied after reset = %v, want script re-applied", res.Applied)
	}
	if got := f.tables(t); !reflect.DeepEqual(got, []string{"a", "script_history"}) {
		t.Errorf("tables = %v", got)
	}

	msgs := strings.Join(f.events.Messages(), "\n")
	for _, want := range []string{"Closing reset connection ...", "Database reset complete.", "Closing deploy connection ..."} {
		if !strings.Contains(msgs, want) {
			t.Errorf("missing status message %q", want)
		}
	}
	if strings.Index(msgs, "Closing reset connection") > strings.LastIndex(msgs, "Opening deploy connection") {
		t.Error("reset connection must be closed before the deploy connection opens")
	}
}

func TestExecute_ResetWithoutScripts(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(t, "dev")
	cfg.ResetDatabase = true
	cfg.ResetScriptsFolder = f.reset
	cfg.ResetConnectionString = f.dbPath
	cfg, err := cfg.Verify()
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.engine.Execute(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(res.ResetScripts) != 0 {
		t.Errorf("ResetScripts = %v", res.ResetScripts)
	}
	var found bool
	for _, n := range f.events.Notifications() {
		if n.Level == status.LevelWarning && n.Message == "No reset script(s) to execute." {
			found = true
		}
	}
	if !found {
		t.Errorf("missing reset warning in %q", f.events.Messages())
	}
}

func TestExecute_Canceled(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.folder, "1_all_a.sql", "CREATE TABLE a(id int)")
	f.write(t, f.folder, "2_all_b.sql", "CREATE TABLE b(id int)")
	f.write(t, f.folder, "3_all_c.sql", "CREATE TABLE c(id int)")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.engine.Publisher().Subscribe(func(n status.Notification) {
		if strings.Contains(n.Message, "Applying change script 2_all_b.sql") {
			cancel()
		}
	})

	res, err := f.engine.Execute(ctx, f.config(t, "dev"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if !reflect.DeepEqual(res.Applied, []string{"1_all_a.sql"}) {
		t.Errorf("Applied = %v", res.Applied)
	}
	if got := f.tables(t); !reflect.DeepEqual(got, []string{"a", "script_history"}) {
		t.Errorf("tables = %v", got)
	}
}

func TestExecute_RedactsConnectionString(t *testing.T) {
	f := newFixture(t)
	f.dbPath = filepath.Join(f.dir, "password=hunter2;target.db")
	f.write(t, f.folder, "1_all_a.sql", "CREATE TABLE a(id int)")

	if _, err := f.engine.Execute(context.Background(), f.config(t, "dev")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var sawRedacted bool
	for _, msg := range f.events.Messages() {
		if strings.Contains(msg, "hunter2") {
			t.Errorf("password leaked: %q", msg)
		}
		if strings.Contains(msg, "password=xxxxxx;") {
			sawRedacted = true
		}
	}
	if !sawRedacted {
		t.Error("expected the connection message to carry a redacted password")
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(t, "dev")
	ctx := context.Background()

	records, err := f.engine.History(ctx, cfg)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("History() = %v, want empty list", records)
	}
	if got := f.tables(t); len(got) != 0 {
		t.Errorf("History() must not create the table, found %v", got)
	}

	if _, err := f.engine.History(ctx, config.Configuration{}); !errors.Is(err, config.ErrNotVerified) {
		t.Errorf("History() error = %v, want ErrNotVerified", err)
	}
}

func TestPending(t *testing.T) {
	files := []scripts.File{{Name: "1_all_a.sql"}, {Name: "2_all_b.sql"}, {Name: "3_dev_c.sql"}}
	got := Pending(files, []string{"1_all_a.sql", "9_all_gone.sql"})
	var names []string
	for _, f := range got {
		names = append(names, f.Name)
	}
	if !reflect.DeepEqual(names, []string{"2_all_b.sql", "3_dev_c.sql"}) {
		t.Errorf("Pending() = %v", names)
	}
	if len(Pending(files, nil)) != 3 {
		t.Error("Pending() with no history should return every script")
	}
}

func TestResultRecordsFixedClock(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Execute(context.Background(), f.config(t, "dev"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Started.Equal(f.applied) || !res.Finished.Equal(f.applied) {
		t.Errorf("Started = %v Finished = %v", res.Started, res.Finished)
	}
}
