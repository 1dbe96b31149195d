package store

import "errors"

// Sentinel errors shared by every repository backend.
var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateOrderID = errors.New("order id already exists")
	ErrLeaderExists     = errors.New("a team leader already exists")
)
