package toolkit

import (
	"context"

	"github.com/tradekit/stream-gateway/internal/model"
)

type verifyTokenRequest struct {
	Token    string `json:"token"`
	ClientIP string `json:"client_ip,omitempty"`
}

type verifyHmacRequest struct {
	APIKey    string `json:"api_key"`
	Signature string `json:"signature"`
	Expires   int64  `json:"expires"`
	Method    string `json:"method"`
	Path      string `json:"path"`
}

// VerifyBearerToken verifies a bearer token and returns the identity
// it belongs to. The raw value includes the "Bearer " prefix as sent
// by the client.
func (c *Client) VerifyBearerToken(ctx context.Context, token, clientIP string) (model.Identity, error) {
	var identity model.Identity
	err := c.post(ctx, "/v2/auth/verify-token", verifyTokenRequest{
		Token:    token,
		ClientIP: clientIP,
	}, &identity)
	if err != nil {
		return model.Identity{}, err
	}
	return identity, nil
}

// VerifyHmacCredentials verifies a keyed HMAC signature over the given
// request tuple and returns the identity the key belongs to.
func (c *Client) VerifyHmacCredentials(ctx context.Context, key, signature string, expires int64, method, path string) (model.Identity, error) {
	var identity model.Identity
	err := c.post(ctx, "/v2/auth/verify-hmac", verifyHmacRequest{
		APIKey:    key,
		Signature: signature,
		Expires:   expires,
		Method:    method,
		Path:      path,
	}, &identity)
	if err != nil {
		return model.Identity{}, err
	}
	return identity, nil
}
