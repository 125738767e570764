package payments

// SagaState names how far a CreatePayment call progressed.
type SagaState string

const (
	SagaFeesComputed   SagaState = "fees_computed"
	SagaChargeCreated  SagaState = "charge_created"
	SagaPersisted      SagaState = "persisted"
	SagaChargeFailed   SagaState = "charge_failed"
	SagaOrphanedCharge SagaState = "orphaned_charge"
	// SagaChargeUnconfirmed is a 2xx create answer that could not be read. The
	// charge likely exists upstream and is tracked as an orphan.
	SagaChargeUnconfirmed SagaState = "charge_unconfirmed"
)

// orphanCompensation is logged, never executed: the provider charge stays
// ACTIVE until its own TTL lapses and no local record will ever match it.
const orphanCompensation = "provider charge left ACTIVE; expires at provider TTL"

func (s SagaState) String() string { return string(s) }

// Terminal reports whether the saga cannot advance from s.
func (s SagaState) Terminal() bool {
	switch s {
	case SagaPersisted, SagaChargeFailed, SagaOrphanedCharge, SagaChargeUnconfirmed:
		return true
	default:
		return false
	}
}
