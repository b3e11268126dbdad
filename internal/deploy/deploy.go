// Package deploy runs a deployment: an optional reset of the target database
// followed by every change script the target has not seen yet, each recorded
// in the history table as soon as it succeeds.
package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sqlci/internal/config"
	"sqlci/internal/db"
	"sqlci/internal/history"
	"sqlci/internal/scripts"
	"sqlci/internal/status"
)

// State is a step of the deployment state machine.
type State string

const (
	StateIdle            State = "idle"
	StateVerifying       State = "verifying"
	StateResetting       State = "resetting"
	StateCheckingHistory State = "checking_history"
	StateDiffing         State = "diffing"
	StateApplying        State = "applying"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Result describes one Execute call. State is always terminal.
type Result struct {
	RunID        uuid.UUID `json:"run_id"`
	Environment  string    `json:"environment"`
	Success      bool      `json:"success"`
	State        State     `json:"state"`
	Discovered   int       `json:"discovered"`
	Applied      []string  `json:"applied"`
	Skipped      int       `json:"skipped"`
	ResetScripts []string  `json:"reset_scripts,omitempty"`
	Started      time.Time `json:"started"`
	Finished     time.Time `json:"finished"`
	Error        string    `json:"error,omitempty"`
}

// Engine executes deployments. It holds no per-run state, so one engine may
// serve many sequential runs.
type Engine struct {
	status *status.Publisher
	logger Logger
	now    func() time.Time
}

// New returns an engine publishing to pub. A nil pub or logger is replaced
// with a silent one.
func New(pub *status.Publisher, logger Logger) *Engine {
	if pub == nil {
		pub = status.NewPublisher()
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Engine{status: pub, logger: logger, now: time.Now}
}

// Publisher returns the stream status notifications are sent to.
func (e *Engine) Publisher() *status.Publisher { return e.status }

// Execute runs a deployment for a verified configuration. The returned result
// is never nil; on failure it carries State failed alongside the error.
func (e *Engine) Execute(ctx context.Context, cfg config.Configuration) (*Result, error) {
	r := &run{
		engine: e,
		cfg:    cfg,
		result: &Result{
			RunID:       uuid.New(),
			Environment: cfg.Environment,
			State:       StateIdle,
			Applied:     []string{},
			Started:     e.now().UTC(),
		},
	}
	e.logger.Info("deployment started", "run_id", r.result.RunID, "environment", cfg.Environment)

	if err := r.execute(ctx); err != nil {
		r.result.State = StateFailed
		r.result.Error = status.Redact(err.Error())
		r.result.Finished = e.now().UTC()
		e.status.Error("Deployment failed: %v", err)
		e.logger.Error("deployment failed", "run_id", r.result.RunID, "environment", cfg.Environment, "error", r.result.Error)
		return r.result, err
	}

	r.result.State = StateDone
	r.result.Success = true
	r.result.Finished = e.now().UTC()
	e.logger.Info("deployment finished",
		"run_id", r.result.RunID,
		"environment", cfg.Environment,
		"applied", len(r.result.Applied),
		"skipped", r.result.Skipped,
	)
	return r.result, nil
}

// History returns the applied scripts recorded for the configured target.
// A missing history table yields an empty list and is not created.
func (e *Engine) History(ctx context.Context, cfg config.Configuration) ([]history.Record, error) {
	if !cfg.Verified() {
		return nil, config.ErrNotVerified
	}
	d, err := dialectFor(cfg.Provider)
	if err != nil {
		return nil, err
	}

	session := db.NewSession(d, cfg.ConnectionString, "history", e.status)
	defer e.closeSession(session)

	store := history.New(session)
	exists, err := store.TableExists(ctx, cfg.ScriptTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		e.status.Warning("Script tracking table %s does not exist. No scripts have been deployed to %s.", cfg.ScriptTable, cfg.Environment)
		return []history.Record{}, nil
	}
	records, err := store.Records(ctx, cfg.ScriptTable)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []history.Record{}
	}
	return records, nil
}

func (e *Engine) closeSession(s *db.Session) {
	if err := s.Close(); err != nil {
		e.logger.Error("close connection", "error", err)
	}
}

func dialectFor(provider string) (db.Dialect, error) {
	p, err := db.ParseProvider(provider)
	if err != nil {
		return nil, err
	}
	return db.DialectFor(p)
}

// run is the state of a single Execute call.
type run struct {
	engine *Engine
	cfg    config.Configuration
	result *Result
}

func (r *run) execute(ctx context.Context) error {
	pub := r.engine.status

	r.result.State = StateVerifying
	pub.Info("%s", "Verifying configuration ...")
	if !r.cfg.Verified() {
		return config.ErrNotVerified
	}
	d, err := dialectFor(r.cfg.Provider)
	if err != nil {
		return err
	}

	if r.cfg.ResetDatabase {
		r.result.State = StateResetting
		if err := r.reset(ctx, d); err != nil {
			return err
		}
	}
	return r.deploy(ctx, d)
}

// reset runs every reset script on its own connection. Reset scripts are not
// tracked and run on every deployment.
func (r *run) reset(ctx context.Context, d db.Dialect) error {
	pub := r.engine.status
	pub.Info("Loading reset script(s) from %s ...", r.cfg.ResetScriptsFolder)

	files, err := scripts.Discover(r.cfg.ResetScriptsFolder, r.cfg.Environment)
	if err != nil {
		return fmt.Errorf("load reset scripts: %w", err)
	}
	if len(files) == 0 {
		pub.Warning("%s", "No reset script(s) to execute.")
		return nil
	}

	session := db.NewSession(d, r.cfg.ResetConnectionString, "reset", pub)
	defer r.engine.closeSession(session)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("reset stopped before %s: %w", f.Name, err)
		}
		pub.Info("\tApplying reset script %s ...", f.Name)
		if err := runFile(ctx, session, f); err != nil {
			return err
		}
		r.result.ResetScripts = append(r.result.ResetScripts, f.Name)
	}
	pub.Success("%s", "Database reset complete.")
	return nil
}

func (r *run) deploy(ctx context.Context, d db.Dialect) error {
	pub := r.engine.status
	table := r.cfg.ScriptTable

	r.result.State = StateCheckingHistory
	pub.Info("Loading change script(s) from %s ...", r.cfg.ScriptsFolder)
	files, err := scripts.Discover(r.cfg.ScriptsFolder, r.cfg.Environment)
	if err != nil {
		return fmt.Errorf("load change scripts: %w", err)
	}
	r.result.Discovered = len(files)
	if len(files) == 0 {
		pub.Warning("No change script(s) found for environment %s.", r.cfg.Environment)
		pub.Success("%s", "Deployment Complete.")
		return nil
	}
	pub.Info("Found %d change script(s) for environment %s.", len(files), r.cfg.Environment)

	session := db.NewSession(d, r.cfg.ConnectionString, "deploy", pub)
	defer r.engine.closeSession(session)
	store := history.New(session)

	r.result.State = StateDiffing
	existed, err := store.EnsureTable(ctx, table)
	if err != nil {
		return err
	}
	pending := files
	if existed {
		applied, err := store.AppliedScripts(ctx, table)
		if err != nil {
			return err
		}
		pending = Pending(files, applied)
	} else {
		pub.Info("Script tracking table %s did not exist. Created it.", table)
	}
	r.result.Skipped = len(files) - len(pending)
	if len(pending) == 0 {
		pub.Info("%s", "Database is up to date. No change script(s) to apply.")
		pub.Success("%s", "Deployment Complete.")
		return nil
	}
	pub.Info("Applying %d change script(s) ...", len(pending))

	r.result.State = StateApplying
	for _, f := range pending {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("deployment stopped before %s: %w", f.Name, err)
		}
		pub.Info("\tApplying change script %s ...", f.Name)
		if err := runFile(ctx, session, f); err != nil {
			return err
		}
		rec := history.Record{
			ID:           f.Sequence,
			Script:       f.Name,
			Release:      r.cfg.ReleaseVersion,
			AppliedOnUTC: r.engine.now().UTC(),
		}
		if err := store.RecordApplied(ctx, table, rec); err != nil {
			return err
		}
		r.result.Applied = append(r.result.Applied, f.Name)
		r.engine.logger.Info("script applied", "run_id", r.result.RunID, "script", f.Name, "release", rec.Release)
	}

	pub.Success("%s", "Deployment Complete.")
	return nil
}

func runFile(ctx context.Context, session *db.Session, f scripts.File) error {
	text, err := f.Text()
	if err != nil {
		return err
	}
	return session.RunScript(ctx, f.Name, text)
}

// Pending returns the discovered scripts whose names are not in applied,
// keeping the discovered order.
func Pending(discovered []scripts.File, applied []string) []scripts.File {
	seen := make(map[string]struct{}, len(applied))
	for _, name := range applied {
		seen[name] = struct{}{}
	}
	out := make([]scripts.File, 0, len(discovered))
	for _, f := range discovered {
		if _, ok := seen[f.Name]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}
