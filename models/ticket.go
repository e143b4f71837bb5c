package models

import (
	"fmt"
	"time"
)

type TicketStatus string

const (
	TicketReserved  TicketStatus = "reserved"
	TicketAvailable TicketStatus = "available"
	TicketSold      TicketStatus = "sold"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
)

func (s TicketStatus) IsTerminal() bool {
	return s == TicketUsed || s == TicketCancelled
}

// IsPurchased reports whether the ticket counts against a holder's limits.
func (s TicketStatus) IsPurchased() bool {
	return s == TicketAvailable || s == TicketSold || s == TicketUsed
}

type Ticket struct {
	ID                string            `json:"ticketId"`
	EventID           string            `json:"eventId"`
	UserID            string            `json:"userId"`
	Zone              string            `json:"zone"`
	SeatNumber        string            `json:"seatNumber"`
	Status            TicketStatus      `json:"status"`
	RegistrationToken string            `json:"registrationToken,omitempty"`
	VerificationInfo  *VerificationInfo `json:"verificationInfo,omitempty"`
	QRPayload         string            `json:"qrPayload,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	SoldAt            *time.Time        `json:"soldAt,omitempty"`
	TransferredAt     *time.Time        `json:"transferredAt,omitempty"`
	CancelledAt       *time.Time        `json:"cancelledAt,omitempty"`

	Version int64 `json:"-"`
}

type VerificationInfo struct {
	LastVerified      time.Time  `json:"lastVerified"`
	UsageTimestamp    *time.Time `json:"usageTimestamp,omitempty"`
	VerificationCount int        `json:"verificationCount"`
	VerifiedBy        string     `json:"verifiedBy,omitempty"`
	RequestID         string     `json:"requestId,omitempty"`
	ClientTimestamp   *time.Time `json:"clientTimestamp,omitempty"`
}

// LotteryTicketID derives the ticket id for the n-th ticket (1-based) of a
// winning registration. The id doubles as the idempotency key of the mint.
func LotteryTicketID(registrationToken string, n int) string {
	return fmt.Sprintf("%s-%d", registrationToken, n)
}
