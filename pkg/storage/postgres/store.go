package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	getValueQuery = `
SELECT value
FROM nexus.client_storage
WHERE scope = $1 AND key = $2
`

	putValueQuery = `
INSERT INTO nexus.client_storage (
  scope, key, value, date_added, date_modified
) VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (scope, key) DO UPDATE
SET
  value = EXCLUDED.value,
  date_modified = EXCLUDED.date_modified
`

	deleteValueQuery = `DELETE FROM nexus.client_storage WHERE scope = $1 AND key = $2`

	deletePrefixQuery = `
DELETE FROM nexus.client_storage
WHERE scope = $1 AND starts_with(key, $2)
`
)

func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return "", false, err
	}

	var value string
	err := a.stmts.getValue.QueryRowContext(ctx, a.scope, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}

	_, err := a.stmts.putValue.ExecContext(ctx, a.scope, key, value, time.Now().UTC())
	return err
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	_, err := a.stmts.deleteValue.ExecContext(ctx, a.scope, key)
	return err
}

func (a *Adapter) DeletePrefix(ctx context.Context, prefix string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	_, err := a.stmts.deletePrefix.ExecContext(ctx, a.scope, prefix)
	return err
}
