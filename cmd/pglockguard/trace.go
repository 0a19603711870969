package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pglockguard/pglockguard/internal/ast"
	"github.com/pglockguard/pglockguard/internal/errs"
	"github.com/pglockguard/pglockguard/internal/report"
	"github.com/pglockguard/pglockguard/internal/rules"
	"github.com/pglockguard/pglockguard/internal/segment"
	"github.com/pglockguard/pglockguard/internal/telemetry"
	"github.com/pglockguard/pglockguard/internal/tracer"
)

func runTraceCmd(cmd *cobra.Command, args []string) error {
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

	logger, err := telemetry.NewLogger(zap.NewAtomicLevelAt(zap.InfoLevel))
	if err != nil {
		return &errs.InvariantError{Detail: fmt.Sprintf("building logger: %v", err)}
	}
	defer logger.Sync()
	ctx := telemetry.WithLogger(context.Background(), logger)

	connString := cfg.ConnString()
	openConn := func(ctx context.Context) (*pgx.Conn, error) {
		return pgx.Connect(ctx, connString)
	}

	allPassed := true
	var dbErrs []error
	for _, src := range sources {
		r, err := traceOne(ctx, connString, openConn, src.name, src.sql, vars, mergedIgnoreList(cfg.DefaultIgnore))
		if err != nil {
			var dbErr *errs.DatabaseError
			if errors.As(err, &dbErr) {
				dbErrs = append(dbErrs, fmt.Errorf("%s: %w", src.name, err))
				continue
			}
			return err
		}
		if !r.PassedAllChecks {
			allPassed = false
		}
		if err := renderReport(cmd.OutOrStdout(), r); err != nil {
			return err
		}
	}

	if len(dbErrs) > 0 {
		return errors.Join(dbErrs...)
	}
	if !allPassed && !acceptFail {
		return errFailedChecks
	}
	return nil
}

func traceOne(ctx context.Context, connString string, openConn tracer.ConnOpener, name, sql string, vars map[string]string, ignore []string) (report.Report, error) {
	startTime := time.Now()

	script, err := segment.Parse(sql, vars)
	if err != nil {
		var uv *segment.UnknownVariableError
		if errors.As(err, &uv) {
			return report.Report{}, &errs.UnknownVariableError{Name: uv.Name, Cause: err}
		}
		return report.Report{}, &errs.ParseError{Cause: err}
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return report.Report{}, &errs.DatabaseError{Cause: err}
	}
	defer conn.Close(ctx)

	session, err := tracer.New(ctx, conn, name, openConn)
	if err != nil {
		return report.Report{}, &errs.DatabaseError{Cause: err}
	}

	statements := make([]report.TraceStatement, 0, len(script.Statements))
	for i, stmt := range script.Statements {
		if len(stmt.AST.Stmts) == 0 {
			continue
		}
		lowered, err := ast.Lower(stmt.AST.Stmts[0].Stmt)
		if err != nil {
			_ = session.End(ctx, false)
			return report.Report{}, &errs.ParseError{Cause: err}
		}

		exec, err := session.Run(ctx, i+1, stmt, lowered)
		if err != nil {
			_ = session.End(ctx, false)
			return report.Report{}, &errs.DatabaseError{Statement: stmt.SQL, Cause: err}
		}

		triggers := rules.Trace(exec, &session.Ctx)
		triggers = filteredTriggers(triggers, stmt.Ignore, ignore)
		session.FoldContext(exec)

		telemetry.StatementExecuted(ctx, session.ID.String(), i+1, exec.DurationMillis, triggerIDs(triggers))
		statements = append(statements, report.TraceStatement{Execution: exec, Triggers: triggers})
	}

	if len(statements) > 0 {
		end := filteredTriggers(rules.TraceEndOfScript(&session.Ctx), segment.Action{}, ignore)
		if len(end) > 0 {
			last := len(statements) - 1
			statements[last].Triggers = append(statements[last].Triggers, end...)
		}
	}

	if err := session.End(ctx, commitFlag); err != nil {
		return report.Report{}, &errs.DatabaseError{Cause: err}
	}

	r := report.AssembleTrace(name, startTime, time.Since(startTime), statements)
	telemetry.SessionCompleted(ctx, session.ID.String(), r.PassedAllChecks, len(statements))
	return r, nil
}

func triggerIDs(triggers []rules.Trigger) []string {
	out := make([]string, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, t.RuleID)
	}
	return out
}
