package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-ledger/internal/status"
	"ticket-ledger/internal/tickets"
	"ticket-ledger/security"
)

type TicketHandler struct {
	machine *tickets.Machine
	auth    *security.Authenticator
}

func NewTicketHandler(machine *tickets.Machine, auth *security.Authenticator) *TicketHandler {
	return &TicketHandler{machine: machine, auth: auth}
}

// purchaseBody accepts card details from the checkout form. They go to the
// payment provider, never to storage.
type purchaseBody struct {
	tickets.PurchaseRequest
	CardDetails map[string]any `json:"cardDetails"`
}

// Purchase handles POST /tickets/purchase
func (h *TicketHandler) Purchase(c echo.Context) error {
	userID, err := requireActor(c)
	if err != nil {
		return err
	}
	var body purchaseBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}

	result, err := h.machine.PurchaseLottery(c.Request().Context(), userID, body.PurchaseRequest)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "purchase": result})
}

// PurchaseDirect handles POST /tickets/purchase/direct
func (h *TicketHandler) PurchaseDirect(c echo.Context) error {
	userID, err := requireActor(c)
	if err != nil {
		return err
	}
	var req tickets.DirectPurchaseRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	result, err := h.machine.PurchaseDirect(c.Request().Context(), userID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "purchase": result})
}

// Verify handles POST /tickets/:id/verify
func (h *TicketHandler) Verify(c echo.Context) error {
	var req tickets.VerifyRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	req.MarkUsed = h.auth.IsOperatorRequest(c)
	if actor, ok := security.ActorFrom(c); ok {
		req.VerifierID = actor.UserID
	} else if req.MarkUsed {
		req.VerifierID = "operator-key"
	}

	result, err := h.machine.Verify(c.Request().Context(), c.PathParam("id"), req)
	if err != nil {
		if result != nil && errors.Is(err, status.ErrRaceDetected) {
			return c.JSON(http.StatusConflict, echo.Map{
				"success": false,
				"error":   status.KindOf(err),
				"message": status.Message(err),
				"result":  result,
			})
		}
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /tickets/:id/cancel
func (h *TicketHandler) Cancel(c echo.Context) error {
	actor, ok := security.ActorFrom(c)
	if !ok {
		return status.ErrUnauthenticated
	}
	var req cancelRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	ticket, err := h.machine.Cancel(c.Request().Context(), actor, c.PathParam("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "ticket": ticket})
}

type transferRequest struct {
	ToUserID string `json:"toUserId"`
}

// Transfer handles POST /tickets/:id/transfer
func (h *TicketHandler) Transfer(c echo.Context) error {
	userID, err := requireActor(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if err := requireField(req.ToUserID, "toUserId"); err != nil {
		return err
	}

	ticket, err := h.machine.Transfer(c.Request().Context(), userID, c.PathParam("id"), req.ToUserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "ticket": ticket})
}

// Mine handles GET /tickets/mine
func (h *TicketHandler) Mine(c echo.Context) error {
	userID, err := requireActor(c)
	if err != nil {
		return err
	}
	list, err := h.machine.ListUserTickets(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "tickets": list})
}

// History handles GET /tickets/:id/history
func (h *TicketHandler) History(c echo.Context) error {
	actor, ok := security.ActorFrom(c)
	if !ok {
		return status.ErrUnauthenticated
	}
	id := c.PathParam("id")
	history, err := h.machine.History(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "ticketId": id, "transactions": history})
}
