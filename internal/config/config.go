// Package config resolves connection parameters, default ignore lists, and
// output defaults from, in descending priority: CLI flags, environment
// variables, an optional --config YAML file, and hardcoded defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved set of values every layer can contribute to.
// Fields are plain values here; Partial carries the same fields as pointers
// so a layer can distinguish "not set" from "set to the zero value".
type Config struct {
	DSN           string
	Host          string
	Port          string
	User          string
	Database      string
	Password      string
	OutputFormat  string
	NoColor       bool
	DefaultIgnore []string
}

// Partial is one layer's contribution to a Config: every field is a pointer
// so an unset field can be distinguished from one explicitly set to "" or
// false, and Resolve can skip over it.
type Partial struct {
	DSN           *string
	Host          *string
	Port          *string
	User          *string
	Database      *string
	Password      *string
	OutputFormat  *string
	NoColor       *bool
	DefaultIgnore []string
}

// Defaults returns the hardcoded fallback values, the lowest-priority
// layer in the resolution order.
func Defaults() Config {
	return Config{
		Host:         "localhost",
		Port:         "5432",
		OutputFormat: "text",
		NoColor:      false,
	}
}

// FromEnv reads the PGLOCKGUARD_* variables plus the standard PG* ones pgx
// itself recognizes for connection parameters (PGHOST, PGPORT, PGUSER,
// PGDATABASE, PGPASSWORD); PGPASSWORD is deliberately left to pgx/.pgpass
// rather than read here, per §4.9.
func FromEnv() Partial {
	var p Partial
	if v, ok := os.LookupEnv("PGLOCKGUARD_DSN"); ok {
		p.DSN = &v
	}
	if v, ok := os.LookupEnv("PGHOST"); ok {
		p.Host = &v
	}
	if v, ok := os.LookupEnv("PGPORT"); ok {
		p.Port = &v
	}
	if v, ok := os.LookupEnv("PGUSER"); ok {
		p.User = &v
	}
	if v, ok := os.LookupEnv("PGDATABASE"); ok {
		p.Database = &v
	}
	if v, ok := os.LookupEnv("PGLOCKGUARD_OUTPUT"); ok {
		p.OutputFormat = &v
	}
	if v, ok := os.LookupEnv("PGLOCKGUARD_NO_COLOR"); ok {
		b := v != "" && v != "0" && strings.ToLower(v) != "false"
		p.NoColor = &b
	}
	if v, ok := os.LookupEnv("PGLOCKGUARD_IGNORE"); ok && v != "" {
		p.DefaultIgnore = strings.Split(v, ",")
	}
	return p
}

type fileConfig struct {
	DSN           string   `yaml:"dsn"`
	Host          string   `yaml:"host"`
	Port          string   `yaml:"port"`
	User          string   `yaml:"user"`
	Database      string   `yaml:"database"`
	OutputFormat  string   `yaml:"output"`
	NoColor       *bool    `yaml:"no_color"`
	DefaultIgnore []string `yaml:"ignore"`
}

// FromFile parses a --config YAML file into a Partial. A missing field in
// the file leaves the corresponding Partial field nil.
func FromFile(path string) (Partial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Partial{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Partial{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	var p Partial
	if fc.DSN != "" {
		p.DSN = &fc.DSN
	}
	if fc.Host != "" {
		p.Host = &fc.Host
	}
	if fc.Port != "" {
		p.Port = &fc.Port
	}
	if fc.User != "" {
		p.User = &fc.User
	}
	if fc.Database != "" {
		p.Database = &fc.Database
	}
	if fc.OutputFormat != "" {
		p.OutputFormat = &fc.OutputFormat
	}
	p.NoColor = fc.NoColor
	p.DefaultIgnore = fc.DefaultIgnore
	return p, nil
}

// Resolve merges layers in ascending priority (defaults first, flags
// last); each later layer's set fields win.
func Resolve(base Config, layers ...Partial) Config {
	out := base
	for _, p := range layers {
		if p.DSN != nil {
			out.DSN = *p.DSN
		}
		if p.Host != nil {
			out.Host = *p.Host
		}
		if p.Port != nil {
			out.Port = *p.Port
		}
		if p.User != nil {
			out.User = *p.User
		}
		if p.Database != nil {
			out.Database = *p.Database
		}
		if p.Password != nil {
			out.Password = *p.Password
		}
		if p.OutputFormat != nil {
			out.OutputFormat = *p.OutputFormat
		}
		if p.NoColor != nil {
			out.NoColor = *p.NoColor
		}
		if p.DefaultIgnore != nil {
			out.DefaultIgnore = p.DefaultIgnore
		}
	}
	return out
}

// ConnString builds a libpq keyword/value connection string from the
// resolved Config when DSN was never set directly, so pgx.Connect always
// has something to parse.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", key, value))
		}
	}
	add("host", c.Host)
	add("port", c.Port)
	add("user", c.User)
	add("dbname", c.Database)
	add("password", c.Password)
	return strings.Join(parts, " ")
}
