package memory

import (
	"context"
	"errors"
)

var (
	ErrNoTransaction      = errors.New("ctx carries no memory transaction")
	ErrUnknownTransaction = errors.New("transaction already finished or never begun")
)

type transactionKey struct{}

func withTransaction(ctx context.Context, trxID int64) context.Context {
	return context.WithValue(ctx, transactionKey{}, trxID)
}

func transactionFromContext(ctx context.Context) (int64, bool) {
	trxID, ok := ctx.Value(transactionKey{}).(int64)

	return trxID, ok && trxID > 0
}
