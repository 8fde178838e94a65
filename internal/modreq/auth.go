package modreq

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// AuthType classifies how strictly a module enforces authorization
// (spec.md §4.5).
type AuthType int

const (
	AuthNone AuthType = iota
	AuthBasic
	AuthRequired
)

// Context is the four-tuple spec.md §3 defines: Basic-auth uses
// User/Password; body-key auth uses AuthKey/AdminAuthKey.
type Context struct {
	User          string
	Password      string
	AuthKey       string
	AdminAuthKey  string
}

// AuthError signals an authorization failure; it always maps to HTTP
// 200 with success=0 per spec.md §4.5 ("Mismatch produces a 200
// response ... no secret is ever echoed").
type AuthError struct{ reason string }

func (e *AuthError) Error() string { return e.reason }

// newAuthError never includes caller-supplied secret material in its
// message.
func newAuthError(reason string) *AuthError { return &AuthError{reason: reason} }

// CheckAuth enforces authType against ctx using the incoming request's
// Authorization header (for AuthBasic) or its parsed JSON body (for
// AuthRequired). It returns whether the caller is authenticated as an
// administrator.
func CheckAuth(authType AuthType, ctx Context, header http.Header, body map[string]interface{}) (isAdmin bool, err error) {
	switch authType {
	case AuthNone:
		return false, nil
	case AuthBasic:
		return checkBasic(ctx, header)
	case AuthRequired:
		return checkBodyKey(ctx, body)
	default:
		return false, fmt.Errorf("invalid argument: unknown auth type %d", authType)
	}
}

func checkBasic(ctx Context, header http.Header) (bool, error) {
	raw := header.Get("Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(raw, prefix) {
		return false, newAuthError("missing or malformed Authorization header")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, prefix))
	if err != nil {
		return false, newAuthError("malformed Authorization header")
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[0] != ctx.User || parts[1] != ctx.Password {
		return false, newAuthError("invalid credentials")
	}
	return false, nil
}

func checkBodyKey(ctx Context, body map[string]interface{}) (bool, error) {
	if adminKey, ok := stringField(body, "admin_auth_key"); ok && adminKey != "" {
		if adminKey == ctx.AdminAuthKey {
			return true, nil
		}
		return false, newAuthError("invalid admin_auth_key")
	}
	if authKey, ok := stringField(body, "auth_key"); ok && authKey != "" {
		if authKey == ctx.AuthKey {
			return false, nil
		}
		return false, newAuthError("invalid auth_key")
	}
	return false, newAuthError("request is missing auth_key or admin_auth_key")
}

func stringField(body map[string]interface{}, key string) (string, bool) {
	if body == nil {
		return "", false
	}
	v, ok := body[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
