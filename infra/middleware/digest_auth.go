package middleware

import (
	"strings"
	"time"

	"digest_server/pkg/apperr"
	"digest_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTAuth validates HS256 bearer tokens and stores the caller identity
// in request locals. Tokens are accepted from the Authorization header
// or, for tooling that cannot set headers, the token query parameter.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// CORS preflight는 인증 없이 통과
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := extractToken(c)
		if tokenString == "" {
			return apperr.Unauthorized("Missing authentication token")
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, apperr.InvalidToken("Unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			logger.WithError(err).Warn("JWT validation failed")
			return apperr.InvalidToken("Invalid or expired token")
		}

		if err := validateClaims(claims); err != nil {
			return err
		}

		sub, _ := claims["sub"].(string)
		userID, err := uuid.Parse(sub)
		if err != nil {
			return apperr.InvalidToken("Invalid subject claim")
		}

		c.Locals("user_id", userID)
		if email, ok := claims["email"].(string); ok {
			c.Locals("email", email)
		}
		c.Locals("claims", claims)

		return c.Next()
	}
}

// extractToken pulls the token from the Authorization header or query string.
func extractToken(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Query("token")
}

// validateClaims checks time-based claims with a one minute clock skew allowance.
func validateClaims(claims jwt.MapClaims) error {
	const skew = time.Minute
	now := time.Now()

	if exp, ok := claims["exp"].(float64); ok {
		if now.After(time.Unix(int64(exp), 0).Add(skew)) {
			return apperr.InvalidToken("Token has expired")
		}
	} else {
		return apperr.InvalidToken("Missing expiration claim")
	}

	if iat, ok := claims["iat"].(float64); ok {
		if time.Unix(int64(iat), 0).After(now.Add(skew)) {
			return apperr.InvalidToken("Token issued in the future")
		}
	}

	return nil
}
