// Package suggest renders a concrete, safer migration for a triggered rule.
// It mirrors the teacher's suggester package almost verbatim (embed +
// text/template is already the right shape for this problem) but is keyed
// by rule ID instead of a raw SQL operation string, since that's the key
// the rest of this module actually has on hand at render time.
package suggest

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed suggestions.yaml
var suggestionsYAML []byte

// Suggester renders a safer alternative for a rule that fired.
type Suggester interface {
	// HasSuggestion reports whether a suggestion exists for ruleID.
	HasSuggestion(ruleID string) bool

	// GetSuggestion renders the suggestion for ruleID against metadata.
	GetSuggestion(ruleID string, metadata Metadata) (*Suggestion, error)
}

// Metadata is a flexible map of template data: table/column/constraint
// names and similar facts pulled from the statement that triggered a rule.
type Metadata map[string]interface{}

// Suggestion is a safer alternative to the operation that triggered a rule.
type Suggestion struct {
	RuleID      string
	Category    string
	Description string
	Steps       []Step
	IsPartial   bool // true if this is only a partial alternative
}

// Step is a single step of a suggestion.
type Step struct {
	Description         string
	CanRunInTransaction bool
	Type                string // "sql", "procedural", "external"
	SQL                 string
	Command             string
	Notes               string
	SQLTemplate         string
	CommandTemplate     string
}

// ErrNoSuggestion is returned when no suggestion exists for a rule ID.
var ErrNoSuggestion = fmt.Errorf("no suggestion available for this rule")

type yamlRoot struct {
	Rules []ruleDef `yaml:"rules"`
}

type ruleDef struct {
	RuleID      string `yaml:"rule_id"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
	IsPartial   bool   `yaml:"partial_alternative,omitempty"`
	Steps       []struct {
		Type                string `yaml:"type"`
		Description         string `yaml:"description"`
		SQL                 string `yaml:"sql,omitempty"`
		SQLTemplate         string `yaml:"sql_template,omitempty"`
		Command             string `yaml:"command,omitempty"`
		CommandTemplate     string `yaml:"command_template,omitempty"`
		Notes               string `yaml:"notes,omitempty"`
		CanRunInTransaction bool   `yaml:"can_run_in_transaction"`
	} `yaml:"steps"`
}

var rules map[string]ruleDef

func init() {
	var root yamlRoot
	if err := yaml.Unmarshal(suggestionsYAML, &root); err != nil {
		panic(fmt.Sprintf("failed to parse suggestions.yaml: %v", err))
	}
	rules = make(map[string]ruleDef, len(root.Rules))
	for _, r := range root.Rules {
		rules[r.RuleID] = r
	}
}

type suggester struct{}

// NewSuggester returns the Suggester backed by the embedded rule catalog.
func NewSuggester() Suggester {
	return &suggester{}
}

func (s *suggester) HasSuggestion(ruleID string) bool {
	_, ok := rules[ruleID]
	return ok
}

func (s *suggester) GetSuggestion(ruleID string, metadata Metadata) (*Suggestion, error) {
	def, ok := rules[ruleID]
	if !ok {
		return nil, ErrNoSuggestion
	}

	out := &Suggestion{
		RuleID:      ruleID,
		Category:    def.Category,
		Description: def.Description,
		IsPartial:   def.IsPartial,
		Steps:       make([]Step, 0, len(def.Steps)),
	}

	for _, stepDef := range def.Steps {
		step := Step{
			Description:         stepDef.Description,
			CanRunInTransaction: stepDef.CanRunInTransaction,
			Type:                stepDef.Type,
		}

		var tmplStr string
		switch stepDef.Type {
		case "sql":
			step.SQLTemplate = firstNonEmpty(stepDef.SQLTemplate, stepDef.SQL)
			tmplStr = step.SQLTemplate
		case "external":
			step.CommandTemplate = firstNonEmpty(stepDef.CommandTemplate, stepDef.Command)
			tmplStr = step.CommandTemplate
		case "procedural":
			tmplStr = stepDef.Notes
		}

		content, err := s.substitute(tmplStr, metadata)
		if err != nil {
			return nil, err
		}

		switch stepDef.Type {
		case "sql":
			step.SQL = content
		case "external":
			step.Command = content
		case "procedural":
			step.Notes = content
		}

		out.Steps = append(out.Steps, step)
	}

	return out, nil
}

func (s *suggester) substitute(tmplStr string, metadata Metadata) (string, error) {
	if tmplStr == "" {
		return "", nil
	}

	funcMap := template.FuncMap{
		"join":   strings.Join,
		"printf": fmt.Sprintf,
		"required": func(value interface{}, fieldName string) (interface{}, error) {
			if value == nil || value == "" {
				return nil, fmt.Errorf("missing required field: %s", fieldName)
			}
			if slice, ok := value.([]string); ok && len(slice) == 0 {
				return nil, fmt.Errorf("field %q cannot be empty", fieldName)
			}
			return value, nil
		},
	}

	tmpl, err := template.New("suggestion").Funcs(funcMap).Parse(tmplStr)
	if err != nil {
		return tmplStr, nil
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, metadata); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
