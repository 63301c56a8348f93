package sqlite

import (
	"context"
	"database/sql"
)

type contextKey string

const transactionKey contextKey = "sqliteTransaction"

func withTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, transactionKey, tx)
}

func transactionFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(transactionKey).(*sql.Tx)

	return tx, ok && tx != nil
}
