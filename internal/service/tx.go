package service

import "context"

// TxRunner runs fn inside a single transaction bound to a store of type S.
// Any error returned by fn rolls the whole unit back.
type TxRunner[S any] func(ctx context.Context, fn func(S) error) error
