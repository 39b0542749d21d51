package domain

import "time"

// Role discriminates the two sides of a boost exchange.
type Role int16

const (
	// RoleHelper marks the account that performed the boost.
	RoleHelper Role = 0
	// RoleHelped marks the account that received the reciprocal boost.
	RoleHelped Role = 1
)

// Account is a pool member able to perform or receive boosts. Accounts are
// provisioned out-of-band and are read-only here apart from row locking
// during selection.
type Account struct {
	ID      int
	Cookies string // upstream session credential
	Code    string // 12-char hex boost code, unique across the pool
}

// ActivityRecord is one participation event. Records are append-only: they
// are written exactly once during a successful exchange and never updated.
type ActivityRecord struct {
	ID        int
	AccountID int
	DayNumber int // day of year, 1-366
	Role      Role
	HelpCode  string
	CreatedAt time.Time
}
