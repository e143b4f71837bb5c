// Package handlers exposes the allocation, ticket and ledger operations over
// HTTP. Handlers return classified errors; security.HTTPErrorHandler writes
// them.
package handlers

import (
	"github.com/labstack/echo/v5"

	"ticket-ledger/internal/status"
	"ticket-ledger/security"
)

// bindJSON decodes the request body into v. An empty body leaves v untouched.
func bindJSON(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return status.Wrap(status.KindInvalidRequest, "invalid request body", err)
	}
	return nil
}

func requireField(value, name string) error {
	if value == "" {
		return status.New(status.KindInvalidRequest, name+" is required")
	}
	return nil
}

// requireActor returns the authenticated caller's user id.
func requireActor(c echo.Context) (string, error) {
	actor, ok := security.ActorFrom(c)
	if !ok || actor.UserID == "" {
		return "", status.ErrUnauthenticated
	}
	return actor.UserID, nil
}
