package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentRecord struct {
	ID                string          `json:"id"`
	RegistrationToken string          `json:"registrationToken,omitempty"`
	UserID            string          `json:"userId"`
	EventID           string          `json:"eventId"`
	TicketIDs         []string        `json:"ticketIds"`
	Amount            decimal.Decimal `json:"amount"`
	Method            string          `json:"method"`         // card, qr_code, bank_transfer
	Type              string          `json:"type,omitempty"` // full, deposit
	Status            string          `json:"status"`         // completed, failed
	Reference         string          `json:"reference"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// LotteryPaymentID is the payment id of a winning registration, so a retried
// purchase finds the payment an earlier attempt recorded.
func LotteryPaymentID(registrationToken string) string {
	return "PAY-" + registrationToken
}

type RiskLevel string

const (
	RiskVeryHigh RiskLevel = "very_high"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

// RiskProfile is produced by the fraud scoring pipeline. Either field may be
// empty; the level wins when both are set.
type RiskProfile struct {
	UserID    string    `json:"userId"`
	RiskScore *int      `json:"riskScore,omitempty"`
	RiskLevel RiskLevel `json:"riskLevel,omitempty"`
}
