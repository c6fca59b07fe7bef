package middleware

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yoockh/yooprep/internal/utils"
)

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

type supabaseClaims struct {
	jwt.RegisteredClaims
	Role         string         `json:"role"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// verifyToken validates a bearer token and returns the subject user id.
func verifyToken(raw string) (string, bool) {
	secret := os.Getenv("SUPABASE_JWT_SECRET")
	if secret == "" || raw == "" {
		return "", false
	}

	claims := &supabaseClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil || tok == nil || !tok.Valid {
		return "", false
	}

	if issuer := os.Getenv("SUPABASE_JWT_ISSUER"); issuer != "" && claims.Issuer != issuer {
		return "", false
	}
	if audience := os.Getenv("SUPABASE_JWT_AUDIENCE"); audience != "" {
		valid := false
		for _, aud := range claims.Audience {
			if aud == audience {
				valid = true
				break
			}
		}
		if !valid {
			return "", false
		}
	}

	return claims.Subject, claims.Subject != ""
}

func bearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return raw, raw != ""
}

// JWTAuth requires a valid token and sets user_id.
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
				Code:    utils.CodeUnauthorized,
				Message: "missing bearer token",
			})
			return
		}
		userID, ok := verifyToken(raw)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
				Code:    utils.CodeUnauthorized,
				Message: "invalid token",
			})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

// OptionalAuth sets user_id when a valid token is present and lets anonymous
// requests through. A present-but-invalid token is still rejected.
func OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		userID, ok := verifyToken(raw)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
				Code:    utils.CodeUnauthorized,
				Message: "invalid token",
			})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

// VerifyWS authenticates a websocket handshake via the token query param.
// Returns the user id ("" for anonymous) and whether the handshake may
// proceed.
func VerifyWS(r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		return "", true // anonymous streams are allowed
	}
	userID, ok := verifyToken(raw)
	if !ok {
		return "", false
	}
	return userID, true
}
