package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedatabase "github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/spf13/cobra"
)

const (
	defaultMigrationsTable = "nexus.schema_migrations"
	defaultMigrationsPath  = "pkg/storage/postgres/migrations"
)

type migrateOptions struct {
	DatabaseURL     string
	MigrationsTable string
	MigrationsPath  string
}

// migrationTable is a possibly schema-qualified table name.
type migrationTable struct {
	Schema string
	Name   string
}

func (t migrationTable) quoted() string {
	if t.Schema == "" {
		return pq.QuoteIdentifier(t.Name)
	}
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Name)
}

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	var opts migrateOptions

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the client storage schema in Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := migrateCmd.PersistentFlags()
	flags.StringVar(&opts.DatabaseURL, "database-url", "", "Postgres connection URL. Can also be set via NEXUS_MIGRATE_DATABASE_URL.")
	flags.StringVar(&opts.MigrationsTable, "migrations-table", "", "Version table as table or schema.table. Can also be set via NEXUS_MIGRATE_MIGRATIONS_TABLE. Defaults to "+defaultMigrationsTable+".")
	flags.StringVar(&opts.MigrationsPath, "migrations-path", defaultMigrationsPath, "Path or source URL for migration files.")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations, or only the given number of steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args)
			if err != nil {
				return err
			}

			return runMigration(cmd, opts, func(runner *migrate.Migrate, source string, _ migrationTable) error {
				var runErr error
				if steps == 0 {
					runErr = runner.Up()
				} else {
					runErr = runner.Steps(steps)
				}

				applied, err := countApplied(steps, runErr)
				switch {
				case err != nil:
					return fmt.Errorf("apply migrations: %w", err)
				case applied == 0:
					cmd.Println("No schema changes to apply.")
				case steps == 0:
					cmd.Printf("Applied all pending migrations from %s\n", source)
				default:
					cmd.Printf("Applied %d of %d requested migration step(s) from %s\n", applied, steps, source)
				}
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back the given number of migration steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args)
			if err != nil {
				return err
			}

			return runMigration(cmd, opts, func(runner *migrate.Migrate, source string, table migrationTable) error {
				err := runner.Steps(-steps)
				if droppedVersionTable(err, table) {
					cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, source)
					cmd.Println("The version table was dropped with its schema and will be recreated on the next run.")
					return nil
				}

				rolledBack, err := countApplied(steps, err)
				switch {
				case err != nil:
					return fmt.Errorf("rollback migrations: %w", err)
				case rolledBack == 0:
					cmd.Println("No schema changes to rollback.")
				default:
					cmd.Printf("Rolled back %d of %d requested migration step(s) from %s\n", rolledBack, steps, source)
				}
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set the migration version (-1 clears it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil || version < -1 {
				return fmt.Errorf("invalid force version %q: expected an integer >= -1", args[0])
			}

			return runMigration(cmd, opts, func(runner *migrate.Migrate, _ string, _ migrationTable) error {
				if err := runner.Force(version); err != nil {
					return fmt.Errorf("force migration version: %w", err)
				}
				cmd.Printf("Forced migration version to %d.\n", version)
				return nil
			})
		},
	})

	return migrateCmd
}

// parseSteps returns 0 when no step count was given.
func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}

	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}
	return steps, nil
}

// countApplied turns a migrate result into the number of steps that ran.
// Reaching the first or last migration early is not an error.
func countApplied(requested int, err error) (int, error) {
	if err == nil {
		return max(requested, 1), nil
	}

	// golang-migrate reports a step command at the boundary as a bare
	// os.ErrNotExist.
	if errors.Is(err, migrate.ErrNoChange) || err == os.ErrNotExist {
		return 0, nil
	}

	var short migrate.ErrShortLimit
	if requested > 0 && errors.As(err, &short) {
		return max(requested-int(short.Short), 0), nil
	}
	return 0, err
}

func runMigration(cmd *cobra.Command, opts migrateOptions, fn func(runner *migrate.Migrate, source string, table migrationTable) error) error {
	databaseURL := firstNonEmpty(opts.DatabaseURL, os.Getenv("NEXUS_MIGRATE_DATABASE_URL"), os.Getenv("NEXUS_DEVICE_POSTGRES_DSN"))
	if databaseURL == "" {
		return errors.New("missing database URL: set --database-url or NEXUS_MIGRATE_DATABASE_URL")
	}

	table, err := parseMigrationTable(firstNonEmpty(opts.MigrationsTable, os.Getenv("NEXUS_MIGRATE_MIGRATIONS_TABLE"), defaultMigrationsTable))
	if err != nil {
		return err
	}
	if err := ensureSchema(databaseURL, table.Schema); err != nil {
		return err
	}
	databaseURL, err = withMigrationsTable(databaseURL, table)
	if err != nil {
		return err
	}

	source, err := sourceURL(opts.MigrationsPath)
	if err != nil {
		return err
	}

	runner, err := migrate.New(source, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate runner: %w", err)
	}
	defer func() {
		sourceErr, databaseErr := runner.Close()
		if closeErr := errors.Join(sourceErr, databaseErr); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()

	return fn(runner, source, table)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func parseMigrationTable(value string) (migrationTable, error) {
	raw := strings.TrimSpace(value)

	var parts []string
	if strings.Contains(raw, `"`) {
		for _, part := range strings.Split(raw, `"."`) {
			parts = append(parts, strings.Trim(part, `"`))
		}
	} else {
		parts = strings.Split(raw, ".")
	}

	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return migrationTable{}, fmt.Errorf("invalid migrations table %q", value)
		}
	}

	switch len(parts) {
	case 1:
		return migrationTable{Name: parts[0]}, nil
	case 2:
		return migrationTable{Schema: parts[0], Name: parts[1]}, nil
	default:
		return migrationTable{}, fmt.Errorf("invalid migrations table %q: expected table or schema.table", value)
	}
}

func withMigrationsTable(databaseURL string, table migrationTable) (string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}
	if table.Schema != "" {
		query.Set("x-migrations-table", table.quoted())
		query.Set("x-migrations-table-quoted", "true")
	} else {
		query.Set("x-migrations-table", table.Name)
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// ensureSchema creates the version table's schema, which golang-migrate
// will not do on its own.
func ensureSchema(databaseURL string, schema string) error {
	if schema == "" {
		return nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}

	db, err := sql.Open("postgres", migrate.FilterCustomQuery(parsed).String())
	if err != nil {
		return fmt.Errorf("open database for schema bootstrap: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schema)); err != nil {
		return fmt.Errorf("ensure schema %q exists: %w", schema, err)
	}
	return nil
}

func sourceURL(pathOrURL string) (string, error) {
	pathOrURL = strings.TrimSpace(pathOrURL)
	if pathOrURL == "" {
		pathOrURL = defaultMigrationsPath
	}
	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}
	return "file://" + filepath.ToSlash(absPath), nil
}

// droppedVersionTable reports whether a rollback removed the schema that
// held the version table, which makes golang-migrate's final TRUNCATE fail.
func droppedVersionTable(err error, table migrationTable) bool {
	var dbErr *migratedatabase.Error
	if !errors.As(err, &dbErr) || dbErr == nil || table.Schema == "" {
		return false
	}

	query := strings.TrimSpace(string(dbErr.Query))
	if !strings.HasPrefix(strings.ToUpper(query), "TRUNCATE ") || !strings.Contains(query, table.quoted()) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(dbErr.OrigErr, &pqErr) {
		return pqErr.Code == "3F000"
	}
	message := strings.ToLower(dbErr.Error())
	return strings.Contains(message, "schema") && strings.Contains(message, "does not exist")
}
