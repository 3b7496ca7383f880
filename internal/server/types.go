package server

import (
	"context"
	"strings"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/Tyrowin/gochat-gateway/internal/gateway"
	"github.com/Tyrowin/gochat-gateway/internal/identity"
)

// Gateway is the connection lifecycle and action boundary a Client drives.
// It is satisfied by *gateway.Gateway.
type Gateway interface {
	Connect(ctx context.Context, conn domain.ConnectionID, creds identity.Credentials) (gateway.Session, error)
	Disconnect(ctx context.Context, conn domain.ConnectionID)
	Handle(ctx context.Context, conn domain.ConnectionID, frame []byte)
	Reject(conn domain.ConnectionID, event string, err error)
	Sessions() int
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
