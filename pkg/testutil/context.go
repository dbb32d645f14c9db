package testutil

import (
	"net/http"

	"civicledger/pkg/requestcontext"
)

// WithSessionID puts a session id in the request context, as the session
// middleware would.
func WithSessionID(req *http.Request, sessionID string) *http.Request {
	return req.WithContext(requestcontext.WithSessionID(req.Context(), sessionID))
}
