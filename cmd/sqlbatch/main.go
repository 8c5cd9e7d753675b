package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dan-strohschein/sqlbatch/batch"
	"github.com/dan-strohschein/sqlbatch/config"
	"github.com/dan-strohschein/sqlbatch/driver"
	_ "github.com/dan-strohschein/sqlbatch/driver/sqldb"
	"github.com/dan-strohschein/sqlbatch/sqlgen"
)

const version = "1.0.0"

type cmdGlobal struct {
	flagConfig   string
	flagConn     string
	flagLogLevel string
	flagDebug    bool

	cfg    *config.Config
	logger batch.Logger

	out    io.Writer
	errOut io.Writer
}

func main() {
	app := newRootCommand(os.Stdout, os.Stderr)
	if err := app.Execute(); err != nil {
		printError(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	g := &cmdGlobal{out: out, errOut: errOut}

	app := &cobra.Command{}
	app.Use = "sqlbatch"
	app.Short = "Run transactional SQL batches and migrations"
	app.Long = `Run transactional SQL batches and migrations

  Every command runs its statements in one transaction: either all of them
  commit or none do.

  Environment:
    SQLBATCH_CONN             Connection string, for example sqlite3://app.db
    SQLBATCH_LOG_LEVEL        DEBUG, INFO, WARN or ERROR
    SQLBATCH_MIGRATIONS_DIR   Directory for migration files (default: ./migrations)
    SQLBATCH_LOCK_TIMEOUT     Age after which a migration lock is stale (default: 1h)`
	app.SilenceUsage = true
	app.SilenceErrors = true
	app.SetOut(out)
	app.SetErr(errOut)

	app.PersistentFlags().StringVar(&g.flagConfig, "config", "", "Path to a YAML config file")
	app.PersistentFlags().StringVar(&g.flagConn, "conn", "", "Connection string (overrides config and "+config.EnvConn+")")
	app.PersistentFlags().StringVar(&g.flagLogLevel, "log-level", "", "Log level: DEBUG, INFO, WARN or ERROR")
	app.PersistentFlags().BoolVar(&g.flagDebug, "debug", false, "Log every statement with its parameters")
	app.PersistentPreRunE = g.preRun

	app.AddCommand((&cmdExec{global: g}).Command())
	app.AddCommand((&cmdQuery{global: g}).Command())
	app.AddCommand((&cmdScalar{global: g}).Command())
	app.AddCommand((&cmdMigrate{global: g}).Command())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(g.out, "sqlbatch v%s\n", version)
		},
	}
	app.AddCommand(versionCmd)

	return app
}

// preRun loads configuration and applies flag overrides. Flags win over the
// environment, which wins over the file.
func (g *cmdGlobal) preRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(g.flagConfig)
	if err != nil {
		return err
	}

	if g.flagConn != "" {
		cfg.Connection = g.flagConn
	}
	if g.flagLogLevel != "" {
		cfg.LogLevel = g.flagLogLevel
	}
	if g.flagDebug {
		cfg.Debug = true
		cfg.LogLevel = "DEBUG"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	g.cfg = cfg
	g.logger = newLogger(g.errOut, cfg.LogLevel)
	return nil
}

func newLogger(w io.Writer, level string) batch.Logger {
	l := logrus.New()
	l.SetOutput(w)

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.WarnLevel
	}
	l.SetLevel(parsed)

	formatter := &logrus.TextFormatter{FullTimestamp: true}
	if f, ok := w.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		formatter.DisableColors = true
	}
	l.SetFormatter(formatter)

	return batch.NewLogrusLogger(l)
}

func (g *cmdGlobal) executor() (*batch.Executor, error) {
	return g.cfg.NewExecutor(g.logger)
}

// dialect derives the SQL dialect from the connection scheme.
func (g *cmdGlobal) dialect() (sqlgen.Dialect, error) {
	scheme, _, err := driver.SplitConnString(g.cfg.Connection)
	if err != nil {
		return 0, err
	}
	return sqlgen.ParseDialect(scheme)
}
