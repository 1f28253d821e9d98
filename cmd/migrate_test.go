package cmd

import (
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

func TestParseMigrationTable(t *testing.T) {
	cases := []struct {
		in      string
		want    migrationTable
		wantErr bool
	}{
		{in: "schema_migrations", want: migrationTable{Name: "schema_migrations"}},
		{in: "nexus.schema_migrations", want: migrationTable{Schema: "nexus", Name: "schema_migrations"}},
		{in: `"Nexus"."Versions"`, want: migrationTable{Schema: "Nexus", Name: "Versions"}},
		{in: "a.b.c", wantErr: true},
		{in: "nexus.", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := parseMigrationTable(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestWithMigrationsTable(t *testing.T) {
	out, err := withMigrationsTable("postgres://localhost/nexus?sslmode=disable", migrationTable{Schema: "nexus", Name: "schema_migrations"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := url.Parse(out)
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	query := parsed.Query()
	if query.Get("x-migrations-table") != `"nexus"."schema_migrations"` || query.Get("x-migrations-table-quoted") != "true" {
		t.Fatalf("unexpected query: %s", parsed.RawQuery)
	}
	if query.Get("sslmode") != "disable" {
		t.Fatal("expected existing parameters to be kept")
	}

	explicit := "postgres://localhost/nexus?x-migrations-table=custom"
	out, err = withMigrationsTable(explicit, migrationTable{Name: "ignored"})
	if err != nil || out != explicit {
		t.Fatalf("expected explicit table to win, got %q (%v)", out, err)
	}
}

func TestCountApplied(t *testing.T) {
	if n, err := countApplied(0, nil); err != nil || n != 1 {
		t.Fatalf("up: got %d, %v", n, err)
	}
	if n, err := countApplied(0, migrate.ErrNoChange); err != nil || n != 0 {
		t.Fatalf("no change: got %d, %v", n, err)
	}
	if n, err := countApplied(3, os.ErrNotExist); err != nil || n != 0 {
		t.Fatalf("boundary: got %d, %v", n, err)
	}
	if n, err := countApplied(3, migrate.ErrShortLimit{Short: 1}); err != nil || n != 2 {
		t.Fatalf("short limit: got %d, %v", n, err)
	}
	boom := errors.New("boom")
	if _, err := countApplied(2, boom); !errors.Is(err, boom) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}

func TestParseSteps(t *testing.T) {
	if steps, err := parseSteps(nil); err != nil || steps != 0 {
		t.Fatalf("got %d, %v", steps, err)
	}
	if steps, err := parseSteps([]string{" 2 "}); err != nil || steps != 2 {
		t.Fatalf("got %d, %v", steps, err)
	}
	if _, err := parseSteps([]string{"0"}); err == nil {
		t.Fatal("expected error for zero steps")
	}
}

func TestSourceURL(t *testing.T) {
	got, err := sourceURL("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "file://") || !strings.HasSuffix(got, defaultMigrationsPath) {
		t.Fatalf("unexpected source url %q", got)
	}

	if got, _ := sourceURL("github://org/repo/migrations"); got != "github://org/repo/migrations" {
		t.Fatalf("expected url passthrough, got %q", got)
	}
}
