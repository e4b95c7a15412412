package wecom

import (
	"errors"
	"fmt"
)

// APIError is a non-zero errcode returned by the platform API.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wecom api error %d: %s", e.Code, e.Msg)
}

// tokenExpiredCodes are the platform error codes that mean the cached access
// token is no longer valid and a fresh one must be fetched.
var tokenExpiredCodes = map[int]bool{
	40014: true, // invalid access_token
	42001: true, // access_token expired
	42009: true, // js_api_ticket expired (returned by some gateways for stale tokens)
	40082: true, // invalid session token
}

// IsTokenExpired reports whether err is a platform error whose code indicates
// an expired or invalidated access token.
func IsTokenExpired(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return tokenExpiredCodes[apiErr.Code]
	}
	return false
}
