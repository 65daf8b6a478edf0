package domain

import "time"

// Lease is a claim on one task by one dispatcher. Token distinguishes two
// leases taken by the same owner over time.
type Lease struct {
	TaskID    string
	Owner     string
	Token     string
	ExpiresAt time.Time
}

func (l Lease) Expired(now time.Time) bool { return !now.Before(l.ExpiresAt) }
