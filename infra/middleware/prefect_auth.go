package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prefect_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TokenRevocations tracks tokens invalidated by logout
type TokenRevocations struct {
	redis  *redis.Client
	prefix string
}

var tokenRevocations *TokenRevocations

// InitTokenRevocations initializes the revocation list with Redis. Without
// Redis, logout still clears the session but issued tokens stay valid until
// they expire.
func InitTokenRevocations(redisClient *redis.Client) {
	if redisClient == nil {
		logger.Warn("Redis client not provided, token revocation disabled")
		return
	}
	tokenRevocations = &TokenRevocations{
		redis:  redisClient,
		prefix: "token:revoked:",
	}
	logger.Info("Token revocation list initialized")
}

// RevokeToken marks a token id as revoked until its natural expiry
func RevokeToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if tokenRevocations == nil || tokenRevocations.redis == nil {
		return nil
	}
	return tokenRevocations.redis.Set(ctx, tokenRevocations.prefix+tokenID, "1", expiry).Err()
}

// IsTokenRevoked checks whether a token id has been revoked
func IsTokenRevoked(ctx context.Context, tokenID string) bool {
	if tokenRevocations == nil || tokenRevocations.redis == nil {
		return false
	}
	exists, _ := tokenRevocations.redis.Exists(ctx, tokenRevocations.prefix+tokenID).Result()
	return exists > 0
}

// TokenTTL is how long an issued session token stays valid.
const TokenTTL = 12 * time.Hour

// GenerateToken issues an HS256 session token for an authenticated operator.
func GenerateToken(secret, email string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": email,
		"jti": uuid.New().String(),
		"iat": now.Unix(),
		"exp": now.Add(TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// JWTAuth validates session tokens issued by the login endpoint
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip auth for CORS preflight requests
		if c.Method() == "OPTIONS" {
			return c.Next()
		}

		var tokenString string

		authHeader := c.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		// EventSource cannot set headers, so the stream endpoint passes the
		// token as a query param.
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization"})
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			if secret == "" {
				return nil, fmt.Errorf("JWT secret not configured")
			}
			return []byte(secret), nil
		})

		if err != nil {
			logger.WithError(err).Warn("JWT validation failed")
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}

		if !token.Valid {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "invalid claims"})
		}

		if exp, ok := claims["exp"].(float64); ok {
			if time.Now().Unix() > int64(exp) {
				return c.Status(401).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
		}

		if jti, ok := claims["jti"].(string); ok && jti != "" {
			if IsTokenRevoked(c.Context(), jti) {
				return c.Status(401).JSON(fiber.Map{
					"error": "token has been revoked",
					"code":  "TOKEN_REVOKED",
				})
			}
			c.Locals("token_id", jti)
		}

		email, ok := claims["sub"].(string)
		if !ok || email == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing operator in token"})
		}

		c.Locals("operator_email", email)
		c.Locals("claims", claims)

		return c.Next()
	}
}
