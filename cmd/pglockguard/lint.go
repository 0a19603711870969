package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pglockguard/pglockguard/internal/ast"
	"github.com/pglockguard/pglockguard/internal/errs"
	"github.com/pglockguard/pglockguard/internal/lintctx"
	"github.com/pglockguard/pglockguard/internal/render"
	"github.com/pglockguard/pglockguard/internal/report"
	"github.com/pglockguard/pglockguard/internal/rules"
	"github.com/pglockguard/pglockguard/internal/segment"
)

func runLintCmd(cmd *cobra.Command, args []string) error {
	vars, err := parseVars(varFlags)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sources, err := readSources(args)
	if err != nil {
		return err
	}

	allPassed := true
	for _, src := range sources {
		r, err := lintOne(src.name, src.sql, vars, mergedIgnoreList(cfg.DefaultIgnore))
		if err != nil {
			return err
		}
		if !r.PassedAllChecks {
			allPassed = false
		}
		if err := renderReport(cmd.OutOrStdout(), r); err != nil {
			return err
		}
	}

	if !allPassed && !acceptFail {
		return errFailedChecks
	}
	return nil
}

func lintOne(name, sql string, vars map[string]string, ignore []string) (report.Report, error) {
	startTime := time.Now()
	script, err := segment.Parse(sql, vars)
	if err != nil {
		var uv *segment.UnknownVariableError
		if errors.As(err, &uv) {
			return report.Report{}, &errs.UnknownVariableError{Name: uv.Name, Cause: err}
		}
		var dq *segment.DollarQuoteError
		if errors.As(err, &dq) {
			return report.Report{}, &errs.ParseError{LineNumber: dq.LineNumber, Cause: err}
		}
		return report.Report{}, &errs.ParseError{Cause: err}
	}

	var ctx lintctx.Context
	statements := make([]report.LintStatement, 0, len(script.Statements))
	for i, stmt := range script.Statements {
		if len(stmt.AST.Stmts) == 0 {
			continue
		}
		lowered, err := ast.Lower(stmt.AST.Stmts[0].Stmt)
		if err != nil {
			statements = append(statements, report.LintStatement{
				Statement: stmt,
				Triggers:  []rules.Trigger{{RuleID: "parse_error", Message: err.Error()}},
			})
			continue
		}
		triggers := rules.Lint(lowered, &ctx)
		triggers = filteredTriggers(triggers, stmt.Ignore, ignore)
		statements = append(statements, report.LintStatement{Statement: stmt, Triggers: triggers})
		ctx.Update(lowered, i+1)
	}
	if len(script.Statements) > 0 {
		end := filteredTriggers(rules.EndOfScript(&ctx), segment.Action{}, ignore)
		if len(end) > 0 {
			last := len(script.Statements) - 1
			statements[last].Triggers = append(statements[last].Triggers, end...)
		}
	}

	r := report.AssembleLint(name, startTime, statements)
	r.PassedAllChecks = r.PassedAllChecks && !hasParseError(statements)
	return r, nil
}

// hasParseError reports whether any statement carries the synthetic
// parse_error trigger a statement-level ast.Lower failure emits — kind 1
// from §7, which fails the script regardless of its E/W-prefix bit since
// it never reached rule evaluation at all.
func hasParseError(statements []report.LintStatement) bool {
	for _, s := range statements {
		for _, t := range s.Triggers {
			if t.RuleID == "parse_error" {
				return true
			}
		}
	}
	return false
}

func filteredTriggers(triggers []rules.Trigger, stmtIgnore segment.Action, global []string) []rules.Trigger {
	return report.FilterTriggers(triggers, stmtIgnore.SkipAll, stmtIgnore.Skip, global)
}

// mergedIgnoreList combines the config/env-resolved default ignore list
// with the invocation's own --ignore flag.
func mergedIgnoreList(fromConfig []string) []string {
	return append(append([]string{}, fromConfig...), ignoreFlag...)
}

type source struct {
	name string
	sql  string
}

func readSources(files []string) ([]source, error) {
	if len(files) == 0 {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, &errs.ParseError{Cause: fmt.Errorf("reading stdin: %w", err)}
		}
		return []source{{name: "stdin", sql: string(content)}}, nil
	}
	out := make([]source, 0, len(files))
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return nil, &errs.ParseError{Cause: fmt.Errorf("reading %s: %w", f, err)}
		}
		out = append(out, source{name: f, sql: string(content)})
	}
	return out, nil
}

func renderReport(w io.Writer, r report.Report) error {
	switch outputFormat {
	case "json":
		return render.JSON(w, r)
	case "yaml":
		return render.YAML(w, r)
	default:
		return render.Text(w, r, render.Options{NoColor: noColorFlag, Quiet: quietFlag, NoSuggestion: noSuggestion})
	}
}
