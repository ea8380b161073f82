package errs

// Error codes for the realtime gateway. 1xxx are handshake/session
// failures, 2xxx are storage failures.
const (
	CodeAuthTimeout    = 1001
	CodeAuthRejected   = 1002
	CodeNotAuthorized  = 1003
	CodePersistFailed  = 2001
	CodeIdentityLookup = 2002
	CodeServerInternal = 5000
)

var (
	ErrAuthTimeout    = NewCodeError(CodeAuthTimeout, "auth deadline expired")
	ErrAuthRejected   = NewCodeError(CodeAuthRejected, "identity check failed")
	ErrNotAuthorized  = NewCodeError(CodeNotAuthorized, "session not authenticated")
	ErrPersistFailed  = NewCodeError(CodePersistFailed, "message persist failed")
	ErrIdentityLookup = NewCodeError(CodeIdentityLookup, "identity lookup failed")
	ErrServerInternal = NewCodeError(CodeServerInternal, "server internal error")
)
