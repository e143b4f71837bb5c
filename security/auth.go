// Package security authenticates callers and throttles abusive clients.
package security

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v5"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"
)

const (
	bearerSchema = "Bearer "
	actorKey     = "actor"
)

// Claims is the token payload. Subject carries the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret         []byte
	operatorHeader string
	operatorKey    string
	logger         *slog.Logger
}

func NewAuthenticator(secret, operatorHeader, operatorKey string) *Authenticator {
	return &Authenticator{
		secret:         []byte(secret),
		operatorHeader: operatorHeader,
		operatorKey:    operatorKey,
		logger:         slog.Default().With("component", "auth"),
	}
}

// IssueToken signs an HS256 token for userID.
func IssueToken(secret, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (a *Authenticator) Parse(tokenString string) (models.Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Actor{}, status.Wrap(status.KindUnauthenticated, "token has expired", err)
		}
		return models.Actor{}, status.Wrap(status.KindUnauthenticated, "invalid token", err)
	}
	if !token.Valid || claims.Subject == "" {
		return models.Actor{}, status.New(status.KindUnauthenticated, "invalid token claims")
	}

	role := claims.Role
	if role == "" {
		role = models.RoleUser
	}
	return models.Actor{UserID: claims.Subject, Role: role}, nil
}

// Required rejects requests without a valid bearer token.
func (a *Authenticator) Required() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return status.New(status.KindUnauthenticated, "authorization header is required")
			}
			if err := a.authenticate(c, header); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// Optional attaches the caller when a token is present. A present but
// invalid token is still rejected.
func (a *Authenticator) Optional() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return next(c)
			}
			if err := a.authenticate(c, header); err != nil {
				return err
			}
			return next(c)
		}
	}
}

func (a *Authenticator) authenticate(c echo.Context, header string) error {
	if !strings.HasPrefix(header, bearerSchema) {
		return status.New(status.KindUnauthenticated, "authorization header must start with Bearer")
	}

	actor, err := a.Parse(strings.TrimPrefix(header, bearerSchema))
	if err != nil {
		a.logger.Warn("Token validation failed", "error", err, "path", c.Request().URL.Path)
		return err
	}
	c.Set(actorKey, actor)
	return nil
}

// IsOperatorRequest reports whether the caller may act as gate staff, either
// through an operator token or the shared operator key header.
func (a *Authenticator) IsOperatorRequest(c echo.Context) bool {
	if actor, ok := ActorFrom(c); ok && actor.IsOperator() {
		return true
	}
	if a.operatorKey == "" || a.operatorHeader == "" {
		return false
	}
	given := c.Request().Header.Get(a.operatorHeader)
	return given != "" && subtle.ConstantTimeCompare([]byte(given), []byte(a.operatorKey)) == 1
}

// RequireRole must run after Required.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFrom(c)
			if !ok {
				return status.ErrUnauthenticated
			}
			if actor.Role != role {
				return status.New(status.KindForbidden, fmt.Sprintf("%s role required", role))
			}
			return next(c)
		}
	}
}

func ActorFrom(c echo.Context) (models.Actor, bool) {
	actor, ok := c.Get(actorKey).(models.Actor)
	return actor, ok
}

// HTTPErrorHandler writes the standard error body for err.
func HTTPErrorHandler(c echo.Context, err error) {
	if c.Response().Committed {
		return
	}

	code, kind, message := describe(err)
	if code >= http.StatusInternalServerError {
		slog.Error("Request failed", "component", "http", "error", err, "method", c.Request().Method, "path", c.Request().URL.Path)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, map[string]any{
			"success": false,
			"error":   kind,
			"message": message,
		})
	}
	if err != nil {
		slog.Warn("Failed to write error response", "component", "http", "error", err)
	}
}

// ErrorStatus is the response code HTTPErrorHandler uses for err.
func ErrorStatus(err error) int {
	code, _, _ := describe(err)
	return code
}

// describe classifies err. Classified errors keep their kind; echo's own
// errors (unknown route, bad method) keep their status code.
func describe(err error) (int, status.Kind, string) {
	kind := status.KindOf(err)
	var he *echo.HTTPError
	if kind == status.KindInternal && errors.As(err, &he) {
		return he.Code, kindForCode(he.Code), http.StatusText(he.Code)
	}
	return status.HTTPStatus(err), kind, status.Message(err)
}

func kindForCode(code int) status.Kind {
	switch code {
	case http.StatusUnauthorized:
		return status.KindUnauthenticated
	case http.StatusForbidden:
		return status.KindForbidden
	case http.StatusNotFound:
		return status.KindNotFound
	case http.StatusTooManyRequests:
		return status.KindRateLimited
	}
	if code < http.StatusInternalServerError {
		return status.KindInvalidRequest
	}
	return status.KindInternal
}
