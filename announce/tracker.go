// Package announce holds the Discord-invite announcement path: a per-tenant
// throttle tracker, the announcer that sends through the eligibility-gated chat
// path, and the periodic per-tenant scheduler.
package announce

import (
	"sync"
	"time"
)

// Record is a tenant's last announcement attempt.
type Record struct {
	SentAt  time.Time
	Success bool
}

// Tracker stores per-tenant last-send records. Entries are overwritten on every
// attempt (success or failure) and never deleted during normal operation.
type Tracker struct {
	records sync.Map // tenantID → Record
}

func NewTracker() *Tracker { return &Tracker{} }

// RecordNotification overwrites the tenant's record with the current timestamp
// and outcome.
func (t *Tracker) RecordNotification(tenantID string, success bool) {
	t.records.Store(tenantID, Record{SentAt: time.Now(), Success: success})
}

// GetLastNotification returns the tenant's record, if any.
func (t *Tracker) GetLastNotification(tenantID string) (Record, bool) {
	v, ok := t.records.Load(tenantID)
	if !ok {
		return Record{}, false
	}
	return v.(Record), true
}
