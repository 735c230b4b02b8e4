package model

import "time"

// LockRecord describes the current holder of a named lock.
type LockRecord struct {
	Name         string    `json:"name"`
	HolderNonce  string    `json:"holder_nonce"`
	AcquiredAt   time.Time `json:"acquired_at"`
	FencingToken int64     `json:"fencing_token"`
	Purpose      string    `json:"purpose,omitempty"`
}

// Held returns how long the lock has been held at now.
func (l *LockRecord) Held(now time.Time) time.Duration {
	return now.Sub(l.AcquiredAt)
}
