package workflowrun

import (
	"context"

	"github.com/luno/jettison/errors"
)

// insertOrGet is the idempotent claim primitive shared by StartRun and
// AttributeOutcome: attempt the insert and, when the store reports
// ErrAlreadyExists, re-read the surviving row by the same unique key. The store's
// uniqueness constraint serialises racing writers so exactly one insert survives
// and every other caller is handed the winner's row. inserted reports whether this
// call performed the insert.
func insertOrGet[T any](
	ctx context.Context,
	insert func(ctx context.Context) (T, error),
	get func(ctx context.Context) (T, error),
) (item T, inserted bool, err error) {
	var zero T

	item, err = insert(ctx)
	if errors.Is(err, ErrAlreadyExists) {
		// NoReturnErr: The unique key already holds a row, either from a replay or
		// from losing the insert race. Reading it back is the success path.
		item, err = get(ctx)
		if err != nil {
			return zero, false, err
		}

		return item, false, nil
	} else if err != nil {
		return zero, false, err
	}

	return item, true, nil
}
