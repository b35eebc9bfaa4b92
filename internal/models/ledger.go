package models

import "github.com/noah-isme/ruralfund-api/pkg/money"

// LedgerSnapshot is a point-in-time read of a project ledger.
type LedgerSnapshot struct {
	Budget           money.Money `json:"budget"`
	Spent            money.Money `json:"spent"`
	Committed        money.Money `json:"committed"`
	Remaining        money.Money `json:"remaining"`
	OpenReservations int         `json:"openReservations"`
}

// Reservation is a hold against a ledger's remaining budget.
type Reservation struct {
	ID     string      `json:"id"`
	Amount money.Money `json:"amount"`
}
