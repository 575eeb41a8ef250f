package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one storage transaction and hands the
// transaction handle to fn as tx.
//
// Repositories receive the same handle and use it for every statement; when a
// handle is present they take row locks (SELECT ... FOR UPDATE) where the
// method documents it. A nil handle means "use the pool", which is the
// non-transactional path.
//
// fn returning an error rolls the transaction back. Calls must not be nested:
// inside fn, always pass tx on, never nil.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
