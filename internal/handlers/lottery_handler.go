package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-ledger/internal/allocation"
	"ticket-ledger/internal/status"
	"ticket-ledger/security"
)

type LotteryHandler struct {
	engine *allocation.Engine
}

func NewLotteryHandler(engine *allocation.Engine) *LotteryHandler {
	return &LotteryHandler{engine: engine}
}

// Register handles POST /lottery/register
func (h *LotteryHandler) Register(c echo.Context) error {
	userID, err := requireActor(c)
	if err != nil {
		return err
	}
	var req allocation.RegisterRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	reg, err := h.engine.Register(c.Request().Context(), userID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"success":           true,
		"registrationToken": reg.Token,
		"registration":      reg,
	})
}

type drawRequest struct {
	EventID string `json:"eventId"`
}

// Draw handles POST /lottery/draw
func (h *LotteryHandler) Draw(c echo.Context) error {
	actor, ok := security.ActorFrom(c)
	if !ok {
		return status.ErrUnauthenticated
	}
	var req drawRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if err := requireField(req.EventID, "eventId"); err != nil {
		return err
	}

	result, err := h.engine.Draw(c.Request().Context(), req.EventID, actor)
	if err != nil {
		if result == nil {
			return err
		}
		// The draw stopped part way; report what was decided so far.
		return c.JSON(status.HTTPStatus(err), echo.Map{
			"success": false,
			"error":   status.KindOf(err),
			"message": status.Message(err),
			"stats":   result.Stats,
			"results": result.Results,
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"eventId": result.EventID,
		"stats":   result.Stats,
		"results": result.Results,
		"winners": result.Winners,
		"losers":  result.Losers,
	})
}
