package identity

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// BearerSubprotocol is the WebSocket subprotocol a client offers alongside
// its token when it cannot set request headers (browsers).
const BearerSubprotocol = "bearer"

// Credentials are the places a connecting client may put its token.
type Credentials struct {
	Auth   string // explicit auth field
	Header string // Authorization header value
	Query  string // token query parameter
}

// Token returns the first non-empty credential in priority order:
// explicit auth field, then header, then query parameter.
func (c Credentials) Token() string {
	for _, candidate := range []string{c.Auth, bearer(c.Header), c.Query} {
		if token := strings.TrimSpace(candidate); token != "" {
			return token
		}
	}
	return ""
}

func bearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return token
}

// CredentialsFromRequest collects every credential location of an upgrade request.
// The explicit auth field is the entry following BearerSubprotocol in the
// client's requested subprotocols.
func CredentialsFromRequest(r *http.Request) Credentials {
	creds := Credentials{
		Header: r.Header.Get("Authorization"),
		Query:  r.URL.Query().Get("token"),
	}
	protocols := websocket.Subprotocols(r)
	for i, p := range protocols {
		if p == BearerSubprotocol && i+1 < len(protocols) {
			creds.Auth = protocols[i+1]
			break
		}
	}
	return creds
}
