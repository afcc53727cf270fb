// Package session implements the Authenticated Session contract
// (spec §6.3): the caller record the HTTP/WebSocket boundary supplies
// to the core, plus the WebSocket handshake rate limiter and bearer-
// token extraction helper that boundary is expected to use. Actual
// HTTP routing, CORS, and JWT issuance stay outside this module; the
// core never parses tokens itself, it only consumes the resulting
// Caller.
package session

import (
	"fmt"
	"strings"

	"github.com/vc-agent/core/internal/tools"
)

// Caller is the verified identity and authority attached to a
// connection after successful authentication.
type Caller struct {
	ID          string
	Permissions []tools.Permission
	Roles       []string
}

// ToToolsCaller narrows a session Caller down to the {id,
// grantedPermissions} shape the Tool Engine and Agent Controller
// consume.
func (c Caller) ToToolsCaller() tools.Caller {
	return tools.Caller{ID: c.ID, GrantedPermissions: c.Permissions}
}

// ErrNoBearerToken is returned when none of the three accepted
// carriers held a token.
var ErrNoBearerToken = fmt.Errorf("no bearer token present")

// ExtractBearerToken implements the three accepted carriers from spec
// §6.3: query string, Authorization header, or WebSocket subprotocol
// header. queryToken is the already-parsed value of the query
// parameter (e.g. "token"); authHeader is the raw `Authorization`
// header value; subprotocolHeader is the raw `Sec-WebSocket-Protocol`
// header value, which by convention carries the token as a
// "bearer.<token>" subprotocol entry.
func ExtractBearerToken(queryToken, authHeader, subprotocolHeader string) (string, error) {
	if queryToken != "" {
		return queryToken, nil
	}
	if authHeader != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(authHeader, prefix) {
			return strings.TrimPrefix(authHeader, prefix), nil
		}
	}
	for _, proto := range strings.Split(subprotocolHeader, ",") {
		proto = strings.TrimSpace(proto)
		if strings.HasPrefix(proto, "bearer.") {
			return strings.TrimPrefix(proto, "bearer."), nil
		}
	}
	return "", ErrNoBearerToken
}
