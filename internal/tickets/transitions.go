package tickets

import (
	"fmt"
	"slices"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"
)

// Terminal states have no outgoing edges. Transfers keep a ticket sold.
var transitions = map[models.TicketStatus][]models.TicketStatus{
	models.TicketReserved:  {models.TicketSold, models.TicketCancelled},
	models.TicketAvailable: {models.TicketSold, models.TicketUsed, models.TicketCancelled},
	models.TicketSold:      {models.TicketUsed, models.TicketCancelled},
}

func CanTransition(from, to models.TicketStatus) bool {
	return slices.Contains(transitions[from], to)
}

func checkTransition(t *models.Ticket, to models.TicketStatus) error {
	if CanTransition(t.Status, to) {
		return nil
	}
	return status.New(status.KindInvalidState,
		fmt.Sprintf("ticket %s cannot move from %s to %s", t.ID, t.Status, to))
}
