package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

// classify maps a jwt/v5 parse error to an AUTH code. The library error is
// kept as the cause.
func classify(err error) *sserr.Error {
	var ssErr *sserr.Error
	if errors.As(err, &ssErr) {
		return ssErr
	}

	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeAuthenticationMalformed, "token: token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeAuthenticationSignature, "token: signature is invalid")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return sserr.Wrap(err, sserr.CodeAuthenticationMalformed, "token: required claim is missing")
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "token: token has expired")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "token: token is not valid yet")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeAuthenticationIssuer, "token: issuer is not trusted")
	default:
		return sserr.Wrap(err, sserr.CodeAuthentication, "token: token is not valid")
	}
}
