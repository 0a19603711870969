// Package segment splits a SQL script into individually-parsed statements,
// resolves ${name} variable substitutions, and extracts per-statement
// ignore-comment directives.
package segment

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

const bomSize = 3

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Action describes how the ignore-comment directive on a statement should
// filter the rule catalog.
type Action struct {
	SkipAll bool
	Skip    []string // rule IDs to skip; empty means skip none
}

// Statement is one SQL statement carved out of a script, with its resolved
// text, parsed AST, source line number, and any ignore directive found in
// it.
type Statement struct {
	SQL        string
	AST        *pg_query.ParseResult
	LineNumber int
	Ignore     Action
}

// Script is the result of splitting and resolving one input file or buffer.
type Script struct {
	Statements []Statement
}

var ignoreCommentRegexp = regexp.MustCompile(`-- pglockguard: ([^\n]+)`)
var variableRegexp = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
var idSeparatorRegexp = regexp.MustCompile(`[,\s]+`)

// UnknownVariableError is returned when a script references a ${name}
// variable that was not supplied.
type UnknownVariableError struct {
	Name string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown variable %q", e.Name)
}

// DollarQuoteError is returned when a statement contains a dollar-quoted
// string body; such statements cannot be safely substituted or parsed
// statement-by-statement and must be treated as a recoverable parse
// failure for the enclosing script.
type DollarQuoteError struct {
	LineNumber int
}

func (e *DollarQuoteError) Error() string {
	return fmt.Sprintf("line %d: dollar-quoted statement bodies are not supported", e.LineNumber)
}

// Substitute resolves every ${name} reference in sql using vars, returning
// an *UnknownVariableError for the first unresolved reference.
func Substitute(sql string, vars map[string]string) (string, error) {
	var missing string
	found := false
	result := variableRegexp.ReplaceAllStringFunc(sql, func(match string) string {
		name := variableRegexp.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if !found {
			missing = name
			found = true
		}
		return match
	})
	if found {
		return "", &UnknownVariableError{Name: missing}
	}
	return result, nil
}

// findCommentAction parses every `-- pglockguard: ...` directive out of a
// statement's text; a second ignore directive on the same statement is
// additive, per the segmenter's own contract.
func findCommentAction(sql string) (Action, error) {
	matches := ignoreCommentRegexp.FindAllStringSubmatch(sql, -1)
	var action Action
	for _, m := range matches {
		directive := strings.TrimSpace(m[1])
		switch {
		case directive == "ignore":
			action.SkipAll = true
		case strings.HasPrefix(directive, "ignore "):
			rest := strings.TrimPrefix(directive, "ignore ")
			for _, id := range idSeparatorRegexp.Split(strings.TrimSpace(rest), -1) {
				if id == "" {
					continue
				}
				action.Skip = append(action.Skip, id)
			}
		default:
			return Action{}, fmt.Errorf("unknown pglockguard directive %q", directive)
		}
	}
	return action, nil
}

// hasDollarQuote reports whether sql contains a dollar-quoted string body
// (e.g. $$...$$ or $tag$...$tag$), which this segmenter does not split or
// substitute within.
func hasDollarQuote(sql string) bool {
	return strings.Contains(sql, "$$") || dollarTagRegexp.MatchString(sql)
}

var dollarTagRegexp = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*\$`)

// Parse splits sql into statements, substitutes variables, and parses each
// one, returning line numbers and ignore directives alongside each
// statement's AST.
func Parse(sql string, vars map[string]string) (Script, error) {
	sql = string(stripBOM([]byte(sql)))
	if strings.TrimSpace(sql) == "" {
		return Script{}, nil
	}

	rawStatements, err := pg_query.SplitWithScanner(sql, true)
	if err != nil {
		return Script{}, fmt.Errorf("segment: split SQL: %w", err)
	}

	script := Script{Statements: make([]Statement, 0, len(rawStatements))}
	offset := 0
	for _, raw := range rawStatements {
		idx := strings.Index(sql[offset:], raw)
		if idx == -1 {
			continue
		}
		start := offset + idx
		lineNum := lineNumberAt(sql, start)
		offset = start + len(raw)

		if hasDollarQuote(raw) {
			return Script{}, &DollarQuoteError{LineNumber: lineNum}
		}

		resolved, err := Substitute(raw, vars)
		if err != nil {
			return Script{}, fmt.Errorf("segment: line %d: %w", lineNum, err)
		}

		action, err := findCommentAction(resolved)
		if err != nil {
			return Script{}, fmt.Errorf("segment: line %d: %w", lineNum, err)
		}

		ast, err := pg_query.Parse(resolved)
		if err != nil {
			return Script{}, fmt.Errorf("segment: parse error at line %d: %w", lineNum, err)
		}

		script.Statements = append(script.Statements, Statement{
			SQL:        resolved,
			AST:        ast,
			LineNumber: lineNum,
			Ignore:     action,
		})
	}
	return script, nil
}

func lineNumberAt(sql string, position int) int {
	if position <= 0 {
		return 1
	}
	line := 1
	for i := 0; i < position && i < len(sql); i++ {
		if sql[i] == '\n' {
			line++
		}
	}
	return line
}

func stripBOM(content []byte) []byte {
	if len(content) >= bomSize && bytes.HasPrefix(content, utf8BOM) {
		return content[bomSize:]
	}
	return content
}
