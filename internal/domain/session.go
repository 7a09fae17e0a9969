package domain

import "time"

// SessionStatus is the lifecycle state of a clearing session.
type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionClosed SessionStatus = "CLOSED"
)

// Session is a multi-party clearing session opened for one accepted order.
// The remote identifier is opaque and issued by the clearing service.
type Session struct {
	OrderID      string
	RemoteID     string
	Participants []string
	Asset        string
	Status       SessionStatus
	CreatedAt    time.Time
	ClosedAt     time.Time
}

// Allocation assigns an asset amount to one participant inside a session.
// Amount is a decimal string in display units; the clearing service echoes it
// back verbatim.
type Allocation struct {
	Participant string `json:"participant"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
}

// SettlementReceipt is returned when a session is closed with final balances.
type SettlementReceipt struct {
	OrderID     string
	SessionID   string
	Allocations []Allocation
	ClosedAt    time.Time
}
