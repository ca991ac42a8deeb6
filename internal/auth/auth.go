// Package auth implements the stream authentication handshake.
//
// A connection authenticates with exactly one of two credential schemes: a
// bearer token, or a keyed HMAC signature over the fixed stream-endpoint
// tuple. Verification itself is delegated to the trading toolkit; this
// package only selects the scheme, enforces the one-identity-per-connection
// rule, and attaches the verified identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tradekit/stream-gateway/internal/channel"
	"github.com/tradekit/stream-gateway/internal/model"
)

// Signature tuple for the stream endpoint. HMAC credentials must be signed
// over this method and path.
const (
	HmacMethod = "CONNECT"
	HmacPath   = "/stream"
)

// Handshake errors.
var (
	ErrAlreadyAuthenticated = errors.New("connection is already authenticated")
	ErrAmbiguousCredentials = errors.New("more than one authentication scheme provided")
	ErrMissingCredentials   = errors.New("no authentication credentials provided")
)

// Credentials are the raw credential fields a client supplies, either as
// upgrade headers or in an auth operation.
type Credentials struct {
	Authorization string `json:"authorization"` // Bearer token scheme
	APIKey        string `json:"api-key"`       // Keyed HMAC scheme
	APISignature  string `json:"api-signature"`
	APIExpires    string `json:"api-expires"`
}

// Verifier is the external collaborator that decides whether credentials
// map to an identity. Implemented by the toolkit client in production.
type Verifier interface {
	VerifyBearerToken(ctx context.Context, token, clientIP string) (model.Identity, error)
	VerifyHmacCredentials(ctx context.Context, key, signature string, expires int64, method, path string) (model.Identity, error)
}

// Handshake authenticates connections against a Verifier.
type Handshake struct {
	verifier Verifier
	logger   *slog.Logger
}

// NewHandshake creates a handshake bound to a verifier.
func NewHandshake(verifier Verifier, logger *slog.Logger) *Handshake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handshake{
		verifier: verifier,
		logger:   logger,
	}
}

// Authorize verifies creds and attaches the resulting identity to conn.
//
// The connection must not already be authenticated; a connection's identity
// is set at most once and re-authentication fails rather than overwriting.
// On success an authenticated notification is sent to the connection; on
// failure the verifier's error is propagated unchanged and the connection
// stays unauthenticated.
func (h *Handshake) Authorize(ctx context.Context, creds Credentials, conn channel.Conn, clientIP string) error {
	if _, ok := conn.Auth(); ok {
		return ErrAlreadyAuthenticated
	}

	var (
		ident model.Identity
		err   error
	)

	switch {
	case creds.Authorization != "" && creds.APIKey != "":
		return ErrAmbiguousCredentials

	case creds.Authorization != "":
		ident, err = h.verifier.VerifyBearerToken(ctx, creds.Authorization, clientIP)

	case creds.APIKey != "":
		var expires int64
		expires, err = strconv.ParseInt(creds.APIExpires, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid api-expires %q: %w", creds.APIExpires, err)
		}
		ident, err = h.verifier.VerifyHmacCredentials(ctx, creds.APIKey, creds.APISignature, expires, HmacMethod, HmacPath)

	default:
		return ErrMissingCredentials
	}

	if err != nil {
		return err
	}

	if !conn.SetAuth(ident) {
		// A concurrent authorize won the slot.
		return ErrAlreadyAuthenticated
	}

	h.logger.Info("connection authenticated",
		"conn_id", conn.ID(),
		"network_id", ident.NetworkID,
	)

	if sendErr := conn.SendJSON(model.Notification{Message: "Authenticated " + ident.Email}); sendErr != nil {
		h.logger.Debug("failed to send authenticated notification",
			"conn_id", conn.ID(),
			"error", sendErr,
		)
	}

	return nil
}
