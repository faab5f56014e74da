package delivery

// Outcome reports what DeliverResultAtomic did for a single call.
type Outcome string

const (
	// OutcomeDelivered: this call held the lock, dispatched the result and
	// recorded delivered_at.
	OutcomeDelivered Outcome = "DELIVERED"
	// OutcomeAlreadyDelivered: delivered_at was already set; the caller must
	// not notify the user again.
	OutcomeAlreadyDelivered Outcome = "ALREADY_DELIVERED"
	// OutcomeLockLost: another attempt holds an active lock.
	OutcomeLockLost Outcome = "LOCK_LOST"
	// OutcomeFailedReleased: dispatch failed and the lock was released for
	// the next trigger.
	OutcomeFailedReleased Outcome = "FAILED_RELEASED"
)

func (o Outcome) String() string { return string(o) }
