package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dan-strohschein/sqlbatch/batch"
)

// batchFile is the YAML document read by the exec command.
//
//	statements:
//	  - sql: INSERT INTO [Users] ([Name]) VALUES (@Name)
//	    params: {Name: Alice}
//	  - name: users
//	    scalar: true
//	    sql: SELECT COUNT(*) FROM [Users]
type batchFile struct {
	Statements []fileStatement `yaml:"statements"`
}

type fileStatement struct {
	Name    string                 `yaml:"name"`
	SQL     string                 `yaml:"sql"`
	Params  map[string]interface{} `yaml:"params"`
	Scalar  bool                   `yaml:"scalar"`
	Timeout time.Duration          `yaml:"timeout"`
}

// parameters returns the statement's parameters sorted by name. Names
// without a marker get "@".
func (s fileStatement) parameters() []batch.Parameter {
	names := make([]string, 0, len(s.Params))
	for name := range s.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]batch.Parameter, len(names))
	for i, name := range names {
		marked := name
		if strings.IndexAny(name, "@:$?") != 0 {
			marked = "@" + name
		}
		params[i] = batch.Param(marked, s.Params[name])
	}
	return params
}

func readBatchFile(r io.Reader) (*batchFile, error) {
	var f batchFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("batch file is empty")
		}
		return nil, err
	}

	for i, s := range f.Statements {
		if strings.TrimSpace(s.SQL) == "" {
			return nil, fmt.Errorf("statement %d has no sql", i+1)
		}
		if s.Scalar && s.Name == "" {
			f.Statements[i].Name = "scalar" + strconv.Itoa(i+1)
		}
	}
	if len(f.Statements) == 0 {
		return nil, errors.New("batch file has no statements")
	}
	return &f, nil
}

type cmdExec struct {
	global *cmdGlobal

	flagTimeout time.Duration
}

func (c *cmdExec) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "exec <file.yaml>"
	cmd.Short = "Run a batch file in one transaction"
	cmd.Long = `Run a batch file in one transaction

  Statements run in file order. A failing statement rolls the whole batch
  back. Statements marked scalar capture the first column of their first
  row, which is printed after the batch commits.

  If <file.yaml> is "-", the batch is read from standard input.`
	cmd.Args = cobra.ExactArgs(1)
	cmd.Flags().DurationVar(&c.flagTimeout, "timeout", 0, "Cancel the batch after this duration")
	cmd.RunE = c.Run
	return cmd
}

type scalarResult struct {
	name  string
	value *batch.Scalar[string]
}

func (c *cmdExec) Run(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open batch file: %w", err)
		}
		defer f.Close()
		in = f
	}

	file, err := readBatchFile(in)
	if err != nil {
		return fmt.Errorf("invalid batch file %s: %w", args[0], err)
	}

	e, err := c.global.executor()
	if err != nil {
		return err
	}

	var scalars []scalarResult
	for _, s := range file.Statements {
		params := s.parameters()
		if s.Scalar {
			sc := batch.NewScalarDefault("NULL", s.SQL, params...)
			sc.SetTimeout(s.Timeout)
			e.Register(sc)
			scalars = append(scalars, scalarResult{name: s.Name, value: sc})
			continue
		}
		e.Register(batch.NewCommand(s.SQL, params...).SetTimeout(s.Timeout))
	}

	ctx := commandContext(cmd)
	if c.flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.flagTimeout)
		defer cancel()
	}

	results, err := e.ExecuteContext(ctx)
	if err != nil {
		return errors.New(batch.FormatError(err, c.global.cfg.Debug))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch cancelled: %w", err)
	}

	out := c.global.out
	data := make([][]string, len(file.Statements))
	for i, s := range file.Statements {
		data[i] = []string{strconv.Itoa(i + 1), s.Name, truncate(strings.Join(strings.Fields(s.SQL), " "), 60), strconv.Itoa(results[i])}
	}
	renderTable(out, []string{"#", "NAME", "STATEMENT", "RESULT"}, data)

	if len(scalars) > 0 {
		printHeader(out, "Scalars")
		for _, sc := range scalars {
			fmt.Fprintf(out, "%s = %s\n", sc.name, sc.value.Value())
		}
	}

	printSuccess(out, fmt.Sprintf("Committed %d statement(s)", len(results)))
	return nil
}
