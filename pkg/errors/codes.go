package errors

// Code is a machine-readable error code of the form CATEGORY_NNN. The
// category prefix decides the HTTP status an error maps to.
type Code string

// Categories:
//
//	VAL_xxx     - invalid configuration or input (400)
//	AUTH_xxx    - the bearer token could not be authenticated (401)
//	AUTHZ_xxx   - the token is valid but lacks a permission (403)
//	NF_xxx      - a persisted object does not exist (404)
//	INT_xxx     - unexpected internal failure (500)
//	UNAVAIL_xxx - a dependency is unreachable (503)
//	TIMEOUT_xxx - an operation ran out of time (504)
const (
	CodeValidation         Code = "VAL_001"
	CodeValidationRequired Code = "VAL_002"

	// CodeAuthentication is the umbrella code for every token rejection.
	// Callers that only care whether a request is authenticated should
	// use IsAuthentication rather than compare against it.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired means the token is outside its validity
	// window: exp is in the past or nbf is in the future.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationMalformed means the token is not a decodable
	// JWS compact serialization or lacks a required claim.
	CodeAuthenticationMalformed Code = "AUTH_004"

	// CodeAuthenticationSignature means the signature did not verify, the
	// declared algorithm is not allowed, or the key type does not match.
	CodeAuthenticationSignature Code = "AUTH_005"

	// CodeAuthenticationIssuer means the iss claim is not the trusted authority.
	CodeAuthenticationIssuer Code = "AUTH_006"

	// CodeAuthenticationNoKey means no signing key could be selected even
	// after one forced refresh of the key set.
	CodeAuthenticationNoKey Code = "AUTH_007"

	// CodeAuthenticationKeyFetch means the key set could not be obtained
	// and no previously fetched keys were available.
	CodeAuthenticationKeyFetch Code = "AUTH_008"

	CodeAuthorization       Code = "AUTHZ_001"
	CodeAuthorizationDenied Code = "AUTHZ_002"

	CodeNotFound Code = "NF_001"

	CodeInternal              Code = "INT_001"
	CodeInternalStorage       Code = "INT_002"
	CodeInternalConfiguration Code = "INT_003"

	CodeUnavailable           Code = "UNAVAIL_001"
	CodeUnavailableDependency Code = "UNAVAIL_002"

	CodeTimeout Code = "TIMEOUT_001"
)

func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("AUTH" for
// "AUTH_005"). AUTH and AUTHZ are distinct categories.
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
