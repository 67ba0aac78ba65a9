package fleet

import "errors"

var (
	// ErrSessionExpired is returned when an operator's flow idled past its TTL.
	ErrSessionExpired = errors.New("fleet: session expired")
	// ErrSelectionEmpty is returned when proceeding without any selected account.
	ErrSelectionEmpty = errors.New("fleet: selection is empty")
	// ErrRunInProgress is returned when an operator already has an active run.
	ErrRunInProgress = errors.New("fleet: run already in progress")
	// ErrNoAccounts is returned when a flow needs accounts and the operator has none.
	ErrNoAccounts = errors.New("fleet: no accounts")
	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = errors.New("fleet: account not found")
	// ErrDuplicate is returned when an account with the same phone exists.
	ErrDuplicate = errors.New("fleet: account already exists")
	// ErrAccountLimit is returned when an operator reached the account limit.
	ErrAccountLimit = errors.New("fleet: account limit reached")
)

// ValidationError reports malformed operator input. The flow stays on the
// same step and the message is shown to the operator.
type ValidationError struct {
	Field   string
	Message string
}

// Invalid builds a ValidationError for field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Code is used by handler summaries to tag validation failures.
func (e *ValidationError) Code() string { return "VALIDATION" }

// IsValidation reports whether err is a ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
