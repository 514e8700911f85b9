package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"courier/pkg/api/utils"
	"courier/pkg/logger"
	"courier/pkg/models"
	"courier/pkg/router"

	"github.com/valyala/fasthttp"
)

// Role is the caller class derived from the API key.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
)

func (r Role) String() string {
	switch r {
	case RoleFrontend:
		return "frontend"
	case RoleBackend:
		return "backend"
	default:
		return "unauth"
	}
}

const (
	roleKey   = "role"
	authorKey = "author"
)

// ErrNoSigningKey is returned when no backend key is configured.
var ErrNoSigningKey = errors.New("signing keys not configured")

// CreateHMACSignature signs userID with key.
func CreateHMACSignature(userID, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Signer mints and checks user signatures. The first key signs; any key
// verifies, so keys can be rotated by prepending.
type Signer struct {
	keys []string
}

func NewSigner(keys []string) *Signer {
	return &Signer{keys: append([]string(nil), keys...)}
}

func (s *Signer) Sign(userID string) (string, error) {
	if len(s.keys) == 0 {
		return "", ErrNoSigningKey
	}
	return CreateHMACSignature(userID, s.keys[0]), nil
}

func (s *Signer) Verify(userID, signature string) bool {
	if userID == "" || signature == "" {
		return false
	}
	for _, k := range s.keys {
		if hmac.Equal([]byte(CreateHMACSignature(userID, k)), []byte(signature)) {
			return true
		}
	}
	return false
}

// RoleOf returns the role the gateway assigned to the request.
func RoleOf(ctx *fasthttp.RequestCtx) Role {
	if r, ok := ctx.UserValue(roleKey).(Role); ok {
		return r
	}
	return RoleUnauth
}

// Author returns the verified user the request acts as.
func Author(ctx *fasthttp.RequestCtx) (string, bool) {
	a, ok := ctx.UserValue(authorKey).(string)
	return a, ok && a != ""
}

// RequireSignedAuthor resolves the acting user. Frontend callers must send
// a valid signature. Backend callers may instead name the user in
// X-User-ID. Public requests pass through without an author.
func RequireSignedAuthor(signer *Signer) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			role := RoleOf(ctx)
			if role == RoleUnauth {
				next(ctx)
				return
			}
			userID := utils.GetUserID(ctx)
			sig := utils.GetUserSignature(ctx)

			if role == RoleBackend && sig == "" {
				if userID != "" {
					if err := models.ValidateUserID(userID); err != nil {
						router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid user id: "+err.Error())
						return
					}
					ctx.SetUserValue(authorKey, userID)
				}
				next(ctx)
				return
			}

			if sig == "" || userID == "" {
				logger.Warn("missing_signature", "path", utils.GetPath(ctx), "remote", utils.ClientIP(ctx))
				router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "missing signature")
				return
			}
			if !signer.Verify(userID, sig) {
				logger.Warn("invalid_signature", "user", userID, "path", utils.GetPath(ctx), "remote", utils.ClientIP(ctx))
				router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "invalid signature")
				return
			}
			ctx.SetUserValue(authorKey, userID)
			next(ctx)
		}
	}
}
