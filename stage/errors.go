package stage

import (
	"errors"
	"fmt"
)

// ErrNoItemIDs is returned by the categories stage when the listing table has
// no row with a well-formed item id.
var ErrNoItemIDs = errors.New("listing table has no valid item ids")

// MissingInputError reports that a stage could not find the table produced by
// an earlier stage.
type MissingInputError struct {
	Path  string
	Stage string // stage that produces Path
	Err   error
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("input table %s not found; run the %s stage first", e.Path, e.Stage)
}

func (e *MissingInputError) Unwrap() error {
	return e.Err
}
