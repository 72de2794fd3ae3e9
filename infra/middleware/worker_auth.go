package middleware

import (
	"fmt"
	"strings"
	"time"

	"mailmirror/pkg/apperr"
	"mailmirror/pkg/logger"
	"mailmirror/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LocalAccountID is the fiber local holding the authenticated account id.
const LocalAccountID = "account_id"

// JWTAuth validates HS256 bearer tokens and stores the "sub" claim as the
// account id. Requests without a valid token get 401.
func JWTAuth(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Minute),
	)

	return func(c *fiber.Ctx) error {
		// Skip auth for CORS preflight requests
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			return response.Unauthorized(c, "missing authorization")
		}
		if secret == "" {
			logger.Error("[JWTAuth] JWT secret not configured")
			return response.Error(c, fiber.StatusInternalServerError, apperr.CodeConfigError, "authentication not configured")
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			logger.WithError(err).Debug("[JWTAuth] JWT validation failed")
			return response.Unauthorized(c, "invalid token")
		}

		sub, err := claims.GetSubject()
		if err != nil || strings.TrimSpace(sub) == "" {
			return response.Unauthorized(c, "missing account id in token")
		}

		c.Locals(LocalAccountID, sub)
		if email, ok := claims["email"].(string); ok {
			c.Locals("account_email", email)
		}
		return c.Next()
	}
}

// IssueToken signs an HS256 token for accountID. Used by tests and local
// tooling.
func IssueToken(secret, accountID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString([]byte(secret))
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
