package allocation

import "ticket-ledger/models"

type EntryResult struct {
	RegistrationToken string   `json:"registrationToken"`
	UserID            string   `json:"userId"`
	ZoneName          string   `json:"zoneName"`
	Quantity          int      `json:"quantity"`
	Result            string   `json:"result"`
	TicketIDs         []string `json:"ticketIds,omitempty"`
}

type DrawStats struct {
	Total         int `json:"total"`
	Winners       int `json:"winners"`
	Losers        int `json:"losers"`
	TicketsMinted int `json:"ticketsMinted"`
}

type DrawResult struct {
	EventID string        `json:"eventId"`
	Resumed bool          `json:"resumed,omitempty"`
	Winners []EntryResult `json:"winners"`
	Losers  []EntryResult `json:"losers"`
	Results []EntryResult `json:"results"`
	Stats   DrawStats     `json:"stats"`
}

func newDrawResult(eventID string, resumed bool) *DrawResult {
	return &DrawResult{
		EventID: eventID,
		Resumed: resumed,
		Winners: []EntryResult{},
		Losers:  []EntryResult{},
		Results: []EntryResult{},
	}
}

func (r *DrawResult) add(reg *models.Registration) {
	entry := EntryResult{
		RegistrationToken: reg.Token,
		UserID:            reg.UserID,
		ZoneName:          reg.ZoneName,
		Quantity:          reg.Quantity,
		Result:            string(reg.Status),
		TicketIDs:         reg.TicketIDs,
	}

	r.Results = append(r.Results, entry)
	r.Stats.Total++
	if reg.Status == models.RegistrationWon {
		r.Winners = append(r.Winners, entry)
		r.Stats.Winners++
		r.Stats.TicketsMinted += len(reg.TicketIDs)
	} else {
		r.Losers = append(r.Losers, entry)
		r.Stats.Losers++
	}
}
