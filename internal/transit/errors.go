package transit

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input: unknown line or direction, unusable
// coordinates, or an ETA query that is not strictly forward.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError means nothing has been recorded for the requested key.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func InvalidLine(lineID string) error {
	return &ValidationError{Field: "lineId", Reason: fmt.Sprintf("unknown line %q", lineID)}
}

func InvalidDirection(lineID, direction string) error {
	return &ValidationError{Field: "direction", Reason: fmt.Sprintf("unknown direction %q for line %q", direction, lineID)}
}

func InvalidCoordinates(reason string) error {
	return &ValidationError{Field: "coordinates", Reason: reason}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
