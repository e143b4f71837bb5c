package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/monitoring"
)

// AdminHandler serves operator views of the ledger.
type AdminHandler struct {
	chain    *ledger.Chain
	recorder *ledger.Recorder
}

func NewAdminHandler(chain *ledger.Chain, recorder *ledger.Recorder) *AdminHandler {
	return &AdminHandler{chain: chain, recorder: recorder}
}

// VerifyChain handles GET /ledger/verify
func (h *AdminHandler) VerifyChain(c echo.Context) error {
	index, valid := h.chain.VerifyChain()
	monitoring.RecordChainValid(valid)

	body := echo.Map{
		"valid":   valid,
		"height":  h.chain.Height(),
		"pending": h.chain.Pending(),
	}
	if !valid {
		body["brokenAt"] = index
	}
	return c.JSON(http.StatusOK, body)
}

// Blocks handles GET /ledger/blocks
func (h *AdminHandler) Blocks(c echo.Context) error {
	blocks := h.chain.Blocks()
	return c.JSON(http.StatusOK, echo.Map{"height": len(blocks), "blocks": blocks})
}

// Flush handles POST /ledger/flush
func (h *AdminHandler) Flush(c echo.Context) error {
	block := h.recorder.Flush(c.Request().Context())
	pending := h.chain.Pending()
	return c.JSON(http.StatusOK, echo.Map{
		"success": pending == 0,
		"block":   block,
		"pending": pending,
	})
}
