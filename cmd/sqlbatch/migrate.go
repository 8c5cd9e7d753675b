package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dan-strohschein/sqlbatch/migration"
)

type cmdMigrate struct {
	global *cmdGlobal

	flagDir    string
	flagNoLock bool
}

func (c *cmdMigrate) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "migrate"
	cmd.Short = "Manage database migrations"
	cmd.Long = `Manage database migrations

  Each migration runs in its own transaction together with its history row.
  Apply and rollback take a lock file next to the migrations so two runners
  never interleave.`
	cmd.PersistentFlags().StringVar(&c.flagDir, "dir", "", "Migration directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&c.flagNoLock, "no-lock", false, "Do not take the migration lock")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE:  c.runStatus,
	}

	var dryRun bool
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runUp(cmd, dryRun)
		},
	}
	up.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without applying it")

	down := &cobra.Command{
		Use:   "down [id]",
		Short: "Roll back a migration (the last applied one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  c.runDown,
	}

	var format string
	newCmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create an empty migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runNew(args[0], format)
		},
	}
	newCmd.Flags().StringVar(&format, "format", string(migration.YAML), "File format: json or yaml")

	cmd.AddCommand(status, up, down, newCmd)
	return cmd
}

func (c *cmdMigrate) dir() string {
	if c.flagDir != "" {
		return c.flagDir
	}
	return c.global.cfg.Migrations.Dir
}

func (c *cmdMigrate) client(cmd *cobra.Command) (*migration.Client, error) {
	e, err := c.global.executor()
	if err != nil {
		return nil, err
	}
	d, err := c.global.dialect()
	if err != nil {
		return nil, err
	}

	client := migration.NewClient(e, d, c.global.cfg.Migrations.Table).WithLogger(c.global.logger)
	if !c.flagNoLock {
		lockPath := c.global.cfg.Migrations.LockFile
		if lockPath == "" {
			lockPath = migration.LockPath(c.dir())
		}
		if err := client.WithLocking(lockPath, 0); err != nil {
			return nil, err
		}
	}

	if err := client.LoadHistory(commandContext(cmd)); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *cmdMigrate) runStatus(cmd *cobra.Command, args []string) error {
	migrations, err := migration.ListMigrationFiles(c.dir())
	if err != nil {
		return err
	}
	client, err := c.client(cmd)
	if err != nil {
		return err
	}

	out := c.global.out
	printHeader(out, "Migration Status")

	entries := client.Status(migrations)
	if len(entries) == 0 {
		fmt.Fprintln(out, "No migrations found in "+c.dir())
		return nil
	}

	pending := 0
	data := make([][]string, 0, len(entries))
	for _, e := range entries {
		appliedAt := "-"
		if !e.AppliedAt.IsZero() {
			appliedAt = e.AppliedAt.Local().Format(time.DateTime)
		}

		status := string(e.Status)
		switch e.Status {
		case migration.Applied:
			status = colorGreen(status)
		case migration.Pending:
			status = colorYellow(status)
			pending++
		case migration.Orphaned:
			status = colorRed(status)
		}
		data = append(data, []string{e.ID, e.Name, status, appliedAt})
	}
	renderTable(out, []string{"ID", "NAME", "STATUS", "APPLIED"}, data)

	if result := client.Validate(migrations); !result.Valid {
		for _, conflict := range result.Conflicts {
			printWarning(out, fmt.Sprintf("%s %s: %s", conflict.Type, conflict.MigrationID, conflict.Message))
		}
	}
	fmt.Fprintf(out, "%d pending\n", pending)
	return nil
}

func (c *cmdMigrate) runUp(cmd *cobra.Command, dryRun bool) error {
	migrations, err := migration.ListMigrationFiles(c.dir())
	if err != nil {
		return err
	}
	client, err := c.client(cmd)
	if err != nil {
		return err
	}

	out := c.global.out
	if dryRun {
		plan, err := client.Preview(migrations)
		if err != nil {
			return err
		}
		fmt.Fprint(out, migration.FormatPreview(plan))
		return nil
	}

	plan, err := client.Plan(migrations)
	if err != nil {
		return err
	}
	if plan.TotalCount == 0 {
		printSuccess(out, "Database is up to date")
		return nil
	}

	applied, err := client.Apply(commandContext(cmd), plan)
	if applied > 0 {
		printSuccess(out, fmt.Sprintf("Applied %d of %d migration(s)", applied, plan.TotalCount))
	}
	return err
}

func (c *cmdMigrate) runDown(cmd *cobra.Command, args []string) error {
	migrations, err := migration.ListMigrationFiles(c.dir())
	if err != nil {
		return err
	}
	client, err := c.client(cmd)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	out := c.global.out

	if len(args) == 1 {
		if err := client.Rollback(ctx, args[0], migrations); err != nil {
			return err
		}
		printSuccess(out, "Rolled back "+colorCyan(args[0]))
		return nil
	}

	id, err := client.RollbackLast(ctx, migrations)
	if err != nil {
		return err
	}
	if id == "" {
		printWarning(out, "No applied migrations to roll back")
		return nil
	}
	printSuccess(out, "Rolled back "+colorCyan(id))
	return nil
}

func (c *cmdMigrate) runNew(name, format string) error {
	ff, err := migration.ParseFileFormat(format)
	if err != nil {
		return err
	}

	m := migration.NewMigration(name, time.Now())
	path, err := migration.WriteMigrationFile(m, c.dir(), ff)
	if err != nil {
		return err
	}
	printSuccess(c.global.out, "Created "+colorCyan(path))
	return nil
}
