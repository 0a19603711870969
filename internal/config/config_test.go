package config

import (
	"os"
	"path/filepath"
	"testing"
)

func strp(s string) *string { return &s }

func TestResolvePriorityFlagsOverEnvOverFileOverDefaults(t *testing.T) {
	defaults := Defaults()
	fromFile := Partial{Host: strp("file-host"), Port: strp("1111")}
	fromEnv := Partial{Host: strp("env-host")}
	fromFlags := Partial{OutputFormat: strp("json")}

	got := Resolve(defaults, fromFile, fromEnv, fromFlags)

	if got.Host != "env-host" {
		t.Errorf("Host = %q, want env to win over file", got.Host)
	}
	if got.Port != "1111" {
		t.Errorf("Port = %q, want file's value since nothing overrides it", got.Port)
	}
	if got.OutputFormat != "json" {
		t.Errorf("OutputFormat = %q, want flags to win", got.OutputFormat)
	}
}

func TestFromEnvReadsStandardPGVars(t *testing.T) {
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPORT", "5433")
	t.Setenv("PGLOCKGUARD_IGNORE", "E6,W13")

	p := FromEnv()
	if p.Host == nil || *p.Host != "db.internal" {
		t.Errorf("Host = %v", p.Host)
	}
	if p.Port == nil || *p.Port != "5433" {
		t.Errorf("Port = %v", p.Port)
	}
	if len(p.DefaultIgnore) != 2 || p.DefaultIgnore[0] != "E6" {
		t.Errorf("DefaultIgnore = %v", p.DefaultIgnore)
	}
}

func TestFromFileParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pglockguard.yaml")
	contents := []byte("host: yaml-host\noutput: yaml\nno_color: true\nignore:\n  - E6\n")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}
	if p.Host == nil || *p.Host != "yaml-host" {
		t.Errorf("Host = %v", p.Host)
	}
	if p.NoColor == nil || !*p.NoColor {
		t.Errorf("NoColor = %v", p.NoColor)
	}
	if len(p.DefaultIgnore) != 1 || p.DefaultIgnore[0] != "E6" {
		t.Errorf("DefaultIgnore = %v", p.DefaultIgnore)
	}
}

func TestConnStringPrefersExplicitDSN(t *testing.T) {
	c := Config{DSN: "postgres://x", Host: "ignored"}
	if c.ConnString() != "postgres://x" {
		t.Errorf("ConnString() = %q", c.ConnString())
	}
}

func TestConnStringBuildsFromParts(t *testing.T) {
	c := Config{Host: "localhost", Port: "5432", Database: "app"}
	got := c.ConnString()
	want := "host=localhost port=5432 dbname=app"
	if got != want {
		t.Errorf("ConnString() = %q, want %q", got, want)
	}
}
