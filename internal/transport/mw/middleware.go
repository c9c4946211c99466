// Package mw holds the Echo middleware of the development backend.
package mw

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const userIDKey = "userID"

// JWTAuth validates an HS256 bearer token signed with secret and stores its
// subject as the user id. The token may also come in the "token" query
// parameter for stream clients that cannot set headers.
func JWTAuth(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	key := []byte(secret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr := bearer(c.Request())
			if tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			var claims jwt.RegisteredClaims
			_, err := parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil {
				log.Debug().Err(err).Msg("JWT verification failed")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}

			c.Set(userIDKey, claims.Subject)
			return next(c)
		}
	}
}

// UserID returns the authenticated user id set by JWTAuth.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// SignToken issues an HS256 token for userID, used by the devserver to hand
// out development credentials.
func SignToken(secret, userID string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = userID
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}
