package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DrawState string

const (
	DrawIdle      DrawState = ""
	DrawRunning   DrawState = "running"
	DrawCompleted DrawState = "completed"
)

type Event struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	StartsAt      time.Time       `json:"startsAt"`
	IsDrawMode    bool            `json:"isDrawMode"`
	IsDrawn       bool            `json:"isDrawn"`
	DrawState     DrawState       `json:"drawState,omitempty"`
	DrawStartedAt *time.Time      `json:"drawStartedAt,omitempty"`
	DrawnAt       *time.Time      `json:"drawnAt,omitempty"`
	Zones         map[string]Zone `json:"zones"`

	Version int64 `json:"-"`
}

// Zone is a priced section of the venue. Remaining is the sellable inventory;
// SeatsIssued only ever grows and feeds seat numbering.
type Zone struct {
	Name        string          `json:"name"`
	Capacity    int             `json:"capacity"`
	Remaining   int             `json:"remaining"`
	Price       decimal.Decimal `json:"price"`
	SeatsIssued int             `json:"seatsIssued"`
}

// SeatNumber formats the n-th seat issued in a zone, e.g. "A-007".
func SeatNumber(zone string, n int) string {
	return fmt.Sprintf("%s-%03d", zone, n)
}

// SeatOrdinal is the inverse of SeatNumber.
func SeatOrdinal(zone, seat string) (int, bool) {
	rest, ok := strings.CutPrefix(seat, zone+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// DrawTicketID is the ledger subject used for event-level draw records.
func DrawTicketID(eventID string) string {
	return "draw:" + eventID
}
