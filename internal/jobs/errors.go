package jobs

import "errors"

// ErrNotOwner is returned when a job id's embedded owner does not match the
// caller. It is distinct from a not-found miss so the HTTP layer can map it
// to 403 instead of 404, and so callers never learn whether another user's
// job exists.
var ErrNotOwner = errors.New("job does not belong to user")

// ErrInvalidInput is returned for malformed create requests (unknown queue,
// empty job type, user id that cannot be encoded into an id).
var ErrInvalidInput = errors.New("invalid job input")
