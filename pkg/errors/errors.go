// Package errors defines the structured error type shared by every
// authcenter package.
//
// Each failure carries a stable Code (for example "AUTH_007"), a message
// that is safe to return to a client, and an optional Cause holding the
// library error that triggered it. Token rejections all live in the AUTH
// category so a resource server can collapse them into a single 401 while
// still logging the precise reason:
//
//	claims, err := verifier.Verify(ctx, raw)
//	if errors.IsAuthentication(err) {
//	    e, _ := errors.AsError(err)
//	    logger.Debug("token rejected", zap.String("code", e.Code.String()))
//	}
//
// Permission failures use the AUTHZ category and map to 403.
package errors
