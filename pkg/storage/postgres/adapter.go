package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage"
)

// Adapter persists client storage rows in nexus.client_storage. Every
// adapter writes under one scope (for example a device identifier), so a
// single table can back many devices.
type Adapter struct {
	db    *sql.DB
	scope string

	stmts preparedStatements
}

type preparedStatements struct {
	getValue     *sql.Stmt
	putValue     *sql.Stmt
	deleteValue  *sql.Stmt
	deletePrefix *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var fixedPrepareStatementSpecs = []prepareStatementSpec{
	{
		label: "get value",
		query: getValueQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getValue = stmt
		},
	},
	{
		label: "put value",
		query: putValueQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putValue = stmt
		},
	},
	{
		label: "delete value",
		query: deleteValueQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteValue = stmt
		},
	},
	{
		label: "delete prefix",
		query: deletePrefixQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deletePrefix = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres storage: db is nil")
	ErrEmptyScope            = errors.New("postgres storage: scope is required")
	ErrEmptyKey              = errors.New("postgres storage: key is required")
	ErrAdapterNotInitialized = errors.New("postgres storage: adapter not initialized")
)

var _ storage.Store = (*Adapter)(nil)

func NewAdapter(db *sql.DB, scope string) (*Adapter, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, ErrEmptyScope
	}

	adapter := &Adapter{
		db:    db,
		scope: scope,
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

func (a *Adapter) Scope() string {
	return a.scope
}

func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}

	return closeStatements(
		a.stmts.getValue,
		a.stmts.putValue,
		a.stmts.deleteValue,
		a.stmts.deletePrefix,
	)
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(fixedPrepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
		}
	}()

	for _, spec := range fixedPrepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			err = fmt.Errorf("postgres storage: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	if a.stmts.getValue == nil || a.stmts.putValue == nil || a.stmts.deleteValue == nil || a.stmts.deletePrefix == nil {
		return ErrAdapterNotInitialized
	}

	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
