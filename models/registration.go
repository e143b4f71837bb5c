package models

import "time"

type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationDrawn      RegistrationStatus = "drawn"
	RegistrationWon        RegistrationStatus = "won"
	RegistrationLost       RegistrationStatus = "lost"
)

// IsTerminal reports whether the draw already decided this registration.
func (s RegistrationStatus) IsTerminal() bool {
	return s == RegistrationWon || s == RegistrationLost
}

type PaymentStatus string

const (
	PaymentNone    PaymentStatus = ""
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type Registration struct {
	Token         string             `json:"token"`
	UserID        string             `json:"userId"`
	EventID       string             `json:"eventId"`
	ZoneName      string             `json:"zoneName"`
	Quantity      int                `json:"quantity"`
	Status        RegistrationStatus `json:"status"`
	TicketIDs     []string           `json:"ticketIds,omitempty"`
	PaymentStatus PaymentStatus      `json:"paymentStatus,omitempty"`
	DrawnAt       *time.Time         `json:"drawnAt,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`

	Version int64 `json:"-"`
}
