package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrCycle is returned when a step list has a dependency cycle.
	ErrCycle = errors.New("dependency cycle")
	// ErrSafetyDenied is returned when the safety collaborator rejects an operation.
	ErrSafetyDenied = errors.New("operation denied by safety policy")
	// ErrNeedUser is returned when execution is waiting for a human confirmation.
	ErrNeedUser = errors.New("user confirmation required")
)

// ErrorType is the classification of a step failure.
type ErrorType string

const (
	ErrorTypeNone           ErrorType = ""
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypePermission     ErrorType = "permission"
	ErrorTypeBusy           ErrorType = "busy"
	ErrorTypeSyntax         ErrorType = "syntax"
	ErrorTypeAddressInUse   ErrorType = "address_in_use"
	ErrorTypeModuleNotFound ErrorType = "module_not_found"
	ErrorTypeInvalidJSON    ErrorType = "invalid_json"
	ErrorTypeTextNotFound   ErrorType = "text_not_found"
	ErrorTypeSafetyDenied   ErrorType = "safety_denied"
	ErrorTypeDeclined       ErrorType = "declined"
	ErrorTypeNotValid       ErrorType = "not_valid"
	ErrorTypeUnknown        ErrorType = "unknown"
)
