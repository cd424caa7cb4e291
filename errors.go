package workflowrun

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	ErrRunNotFound         = errors.New("workflow run not found", j.C("ERR_a3f19c64d08e527b"))
	ErrSendNotFound        = errors.New("workflow send not found", j.C("ERR_58bd02e7a1c4f963"))
	ErrAttributionNotFound = errors.New("attribution not found", j.C("ERR_c71e4b9f26a0d835"))
	ErrOutboxEventNotFound = errors.New("outbox event not found", j.C("ERR_9d42a60b73c1f58e"))

	// ErrAlreadyExists is returned by stores when an insert collides with an
	// existing row on a unique key. Service operations treat it as "already done"
	// and re-read the surviving row rather than failing.
	ErrAlreadyExists = errors.New("row already exists for unique key", j.C("ERR_e60c83d51b9f247a"))

	ErrNoEligibleRuns     = errors.New("no eligible runs within attribution window", j.C("ERR_14f7be28c65a093d"))
	ErrInvalidMatchMethod = errors.New("match method is not valid", j.C("ERR_7b5d91a4e3f08c26"))
	ErrInvalidSendStatus  = errors.New("send status is not valid", j.C("ERR_2c98f05a6d41be73"))
	ErrInvalidArgument    = errors.New("invalid argument", j.C("ERR_f05a37c8d92e614b"))
)
