package models

import "time"

type LedgerAction string

const (
	ActionCreate       LedgerAction = "create"
	ActionTransfer     LedgerAction = "transfer"
	ActionUse          LedgerAction = "use"
	ActionVerify       LedgerAction = "verify"
	ActionCancel       LedgerAction = "cancel"
	ActionAllocate     LedgerAction = "allocate"
	ActionDrawComplete LedgerAction = "draw_complete"
)

func (a LedgerAction) Valid() bool {
	switch a {
	case ActionCreate, ActionTransfer, ActionUse, ActionVerify, ActionCancel, ActionAllocate, ActionDrawComplete:
		return true
	}
	return false
}

const (
	OutcomeWon  = "won"
	OutcomeLost = "lost"

	// SystemUserID is the counterparty of transfers out of inventory.
	SystemUserID = "system"
)

type LedgerTransaction struct {
	TicketID          string       `json:"ticketId"`
	Timestamp         time.Time    `json:"timestamp"`
	Action            LedgerAction `json:"action"`
	FromUserID        string       `json:"fromUserId,omitempty"`
	ToUserID          string       `json:"toUserId,omitempty"`
	EventID           string       `json:"eventId"`
	Outcome           string       `json:"outcome,omitempty"`
	RegistrationToken string       `json:"registrationToken,omitempty"`
	Signature         string       `json:"signature"`
}

type LedgerBlock struct {
	Index        int64               `json:"index"`
	Timestamp    time.Time           `json:"timestamp"`
	PreviousHash string              `json:"previousHash"`
	Hash         string              `json:"hash"`
	Nonce        int64               `json:"nonce"`
	Transactions []LedgerTransaction `json:"transactions"`
}

const GenesisPreviousHash = "0"
