package utils

import "errors"

var (
	ErrorRecordNotFound = errors.New("record not found")

	// ErrorAlreadyValidated is returned when validate is called on a credit
	// note whose status is already Validated. No mutation is performed.
	ErrorAlreadyValidated = errors.New("credit note already validated")
)
