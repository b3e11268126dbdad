package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"sqlci/internal/config"
	"sqlci/internal/deploy"
	"sqlci/internal/history"
	httpserver "sqlci/internal/http"
	"sqlci/internal/logging"
	"sqlci/internal/scripts"
	"sqlci/internal/status"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init-config":
		err = initConfigCmd(args)
	case "generate":
		err = generateCmd(args)
	case "deploy":
		err = deployCmd(args)
	case "history":
		err = historyCmd(args)
	case "serve":
		err = serveCmd(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", status.Redact(err.Error()))
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`sqlci commands:
  init-config   - create a starter sqlci.yaml and script folders
  generate      - create an empty, correctly named change script
  deploy        - apply pending change scripts to an environment
  history       - list the scripts applied to an environment
  serve         - expose environments, history and deploy over HTTP

Flags are command specific; run "<cmd> -h" for details.`)
}

func initConfigCmd(args []string) error {
	fs := flagSet("init-config")
	path := fs.String("path", config.DefaultFile, "where to write the sample project file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.Write(*path, config.Sample()); err != nil {
		return err
	}
	project, err := config.Load(*path)
	if err != nil {
		return err
	}
	if err := scripts.EnsureFolders(project.ScriptsPath(), project.ResetScriptsPath()); err != nil {
		return err
	}
	fmt.Println("sample project written to", *path)
	return nil
}

func generateCmd(args []string) error {
	fs := flagSet("generate")
	configPath := fs.String("config", config.DefaultFile, "path to project file")
	name := fs.String("name", "", "short description used in the file name")
	scope := fs.String("scope", scripts.ScopeAll, `environment the script runs in, or "all"`)
	reset := fs.Bool("reset", false, "create the script in the reset folder")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	project, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	folder := project.ScriptsPath()
	if *reset {
		folder = project.ResetScriptsPath()
		if folder == "" {
			return fmt.Errorf("project file has no reset_scripts_folder")
		}
	}
	file, err := scripts.Generate(folder, *scope, *name, time.Now())
	if err != nil {
		return err
	}
	fmt.Println("created", file.Path)
	return nil
}

func deployCmd(args []string) error {
	fs := flagSet("deploy")
	configPath := fs.String("config", config.DefaultFile, "path to project file")
	env := fs.String("env", "", "environment to deploy")
	timeout := fs.Duration("timeout", 0, "abort between scripts after this long (0 = no limit)")
	logLevel := fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "text", "log format (text or json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *env == "" {
		return fmt.Errorf("--env is required")
	}
	logger := logging.NewLogger(*logLevel, *logFormat, os.Stderr)

	cfg, err := loadConfiguration(*configPath, *env)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()

	engine := deploy.New(status.NewPublisher(status.WriterSubscriber(os.Stdout)), logger)
	result, err := engine.Execute(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Applied %d script(s), %d already deployed (run %s)\n", len(result.Applied), result.Skipped, result.RunID)
	return nil
}

func historyCmd(args []string) error {
	fs := flagSet("history")
	configPath := fs.String("config", config.DefaultFile, "path to project file")
	env := fs.String("env", "", "environment to inspect")
	logLevel := fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *env == "" {
		return fmt.Errorf("--env is required")
	}
	logger := logging.NewLogger(*logLevel, "text", os.Stderr)

	cfg, err := loadConfiguration(*configPath, *env)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(30 * time.Second)
	defer cancel()

	engine := deploy.New(status.NewPublisher(status.LogSubscriber(logger)), logger)
	records, err := engine.History(ctx, cfg)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no scripts applied yet")
		return nil
	}
	return printHistory(os.Stdout, records)
}

func serveCmd(args []string) error {
	fs := flagSet("serve")
	configPath := fs.String("config", config.DefaultFile, "path to project file")
	addr := fs.String("addr", ":8080", "listen address")
	deployTimeout := fs.Duration("deploy-timeout", 30*time.Minute, "limit for one deployment (0 = no limit)")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "json", "log format (text or json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := logging.NewLogger(*logLevel, *logFormat, os.Stderr)

	project, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := httpserver.New(httpserver.Options{Addr: *addr, DeployTimeout: *deployTimeout}, logger, project)
	if err := server.Start(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	return nil
}

// loadConfiguration resolves and verifies one environment of a project file.
func loadConfiguration(path, env string) (config.Configuration, error) {
	project, err := config.Load(path)
	if err != nil {
		return config.Configuration{}, err
	}
	cfg, err := project.Configuration(env)
	if err != nil {
		return config.Configuration{}, err
	}
	return cfg.Verify()
}

// commandContext is canceled on interrupt and, when timeout is positive, after
// timeout.
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func printHistory(w io.Writer, records []history.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCRIPT\tRELEASE\tAPPLIED (UTC)")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Script, r.Release, r.AppliedOnUTC.Format(time.RFC3339))
	}
	return tw.Flush()
}

func flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	return fs
}
