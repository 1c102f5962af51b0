package errors

import (
	"errors"
)

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries exactly code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

func IsValidation(err error) bool {
	return hasCategory(err, "VAL")
}

// IsAuthentication reports whether err is any token rejection (AUTH_xxx).
func IsAuthentication(err error) bool {
	return hasCategory(err, "AUTH")
}

// IsAuthorization reports whether err is a permission failure (AUTHZ_xxx).
func IsAuthorization(err error) bool {
	return hasCategory(err, "AUTHZ")
}

func IsNotFound(err error) bool {
	return hasCategory(err, "NF")
}

func IsInternal(err error) bool {
	return hasCategory(err, "INT")
}

func IsUnavailable(err error) bool {
	return hasCategory(err, "UNAVAIL")
}

func IsTimeout(err error) bool {
	return hasCategory(err, "TIMEOUT")
}

// IsRetryable reports whether retrying the operation could succeed.
// A failed key fetch is retryable: the next request triggers a new fetch.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	if e.Code == CodeAuthenticationKeyFetch {
		return true
	}
	switch e.Code.Category() {
	case "TIMEOUT", "UNAVAIL":
		return true
	default:
		return false
	}
}
