// Package render turns a report.Report into text, JSON, or YAML, per
// SPEC_FULL.md §4.8. JSON and YAML are a direct struct marshal against the
// §6 field names already carried as report.go's struct tags; text is the
// one format with actual layout and color decisions to make.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/pglockguard/pglockguard/internal/report"
	"github.com/pglockguard/pglockguard/internal/suggest"
)

// Options controls text rendering.
type Options struct {
	NoColor      bool
	Quiet        bool // suppress per-trigger effect/workaround/suggestion blocks
	NoSuggestion bool
}

// JSON marshals r with the exact §6 field names, matching the report's own
// json tags.
func JSON(w io.Writer, r report.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// YAML marshals r with the exact §6 field names, matching the report's own
// yaml tags.
func YAML(w io.Writer, r report.Report) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(r)
}

// Text renders r as one colored summary line per triggered rule, followed
// by an effect/workaround/suggestion block per trigger unless opts.Quiet.
func Text(w io.Writer, r report.Report, opts Options) error {
	prevNoColor := color.NoColor
	if opts.NoColor {
		color.NoColor = true
	}
	defer func() { color.NoColor = prevNoColor }()

	errorColor := color.New(color.FgRed, color.Bold)
	warnColor := color.New(color.FgYellow, color.Bold)
	sugg := suggest.NewSuggester()

	any := false
	for _, stmt := range r.Statements {
		for _, t := range stmt.TriggeredRules {
			any = true
			c := warnColor
			if strings.HasPrefix(t.ID, "E") {
				c = errorColor
			}
			fmt.Fprintf(w, "%s %s\n", c.Sprintf("[%s]", t.ID), stmt.SQL)

			if opts.Quiet {
				continue
			}
			fmt.Fprintf(w, "\tEffect: %s\n", t.Effect)
			fmt.Fprintf(w, "\tWorkaround: %s\n", t.Workaround)
			if !opts.NoSuggestion {
				if s, err := sugg.GetSuggestion(t.ID, nil); err == nil {
					fmt.Fprintf(w, "\tSuggestion: %s\n", s.Description)
				}
			}
			fmt.Fprintln(w)
		}
	}

	if !any {
		fmt.Fprintln(w, color.GreenString("no lock-safety issues found"))
		return nil
	}

	if r.PassedAllChecks {
		fmt.Fprintln(w, color.GreenString("passed: no blocking rule was triggered"))
	} else {
		fmt.Fprintln(w, errorColor.Sprint("failed: one or more blocking rules were triggered"))
	}
	return nil
}
