package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dan-strohschein/sqlbatch/batch"
)

// readQuery resolves "-" to standard input.
func readQuery(cmd *cobra.Command, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

type cmdQuery struct {
	global *cmdGlobal

	flagLimit int
}

func (c *cmdQuery) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "query <sql>"
	cmd.Short = "Run a query and print its rows"
	cmd.Long = `Run a query and print its rows

  Rows are streamed from the cursor into a table. With --limit the reader
  stops after that many rows and the rest of the cursor is discarded.

  If <sql> is "-", the query is read from standard input.`
	cmd.Args = cobra.ExactArgs(1)
	cmd.Flags().IntVar(&c.flagLimit, "limit", 0, "Stop after this many rows (0 reads all)")
	cmd.RunE = c.Run
	return cmd
}

func (c *cmdQuery) Run(cmd *cobra.Command, args []string) error {
	text, err := readQuery(cmd, args[0])
	if err != nil {
		return err
	}

	e, err := c.global.executor()
	if err != nil {
		return err
	}

	var table *tablewriter.Table
	var columns []string
	count := 0
	reader := batch.NewReaderContext(func(ctx context.Context, row batch.Row) (bool, error) {
		if table == nil {
			cols, err := row.Columns()
			if err != nil {
				return false, err
			}
			columns = cols
			table = newTable(c.global.out, columns)
		}

		cells, err := rowCells(row, len(columns))
		if err != nil {
			return false, err
		}
		table.Append(cells)
		count++
		return c.flagLimit <= 0 || count < c.flagLimit, nil
	}, text)
	e.Register(reader)

	if _, err := e.ExecuteContext(commandContext(cmd)); err != nil {
		return errors.New(batch.FormatError(err, c.global.cfg.Debug))
	}

	if table != nil {
		table.Render()
	}
	fmt.Fprintf(c.global.out, "(%d row(s))\n", count)
	return nil
}

type cmdScalar struct {
	global *cmdGlobal
}

func (c *cmdScalar) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "scalar <sql>"
	cmd.Short = "Run a query and print the first column of its first row"
	cmd.Long = `Run a query and print the first column of its first row

  NULL is printed when the query returns no rows or a NULL value.

  If <sql> is "-", the query is read from standard input.`
	cmd.Args = cobra.ExactArgs(1)
	cmd.RunE = c.Run
	return cmd
}

func (c *cmdScalar) Run(cmd *cobra.Command, args []string) error {
	text, err := readQuery(cmd, args[0])
	if err != nil {
		return err
	}

	e, err := c.global.executor()
	if err != nil {
		return err
	}

	value := batch.RegisterScalar(e, "NULL", text)
	if _, err := e.ExecuteContext(commandContext(cmd)); err != nil {
		return errors.New(batch.FormatError(err, c.global.cfg.Debug))
	}

	fmt.Fprintln(c.global.out, value.Value())
	return nil
}
