package services

import (
	"strings"
	"time"
)

// RedemptionStore abstracts persistence for the redemption workflow.
// AppendRedemption must compute the balance and insert the entry atomically:
// when ok is false, nothing was written and available reports the balance
// that fell short.
type RedemptionStore interface {
	GetPatient(id string) (*Patient, error)
	AppendRedemption(e *LedgerEntry) (available int, ok bool, err error)
}

// RedemptionResult reports a recorded redemption.
type RedemptionResult struct {
	EntryID        string `json:"entry_id"`
	PointsDeducted int    `json:"points_deducted"`
	Remaining      int    `json:"remaining"`
}

// RedemptionService validates and records point-to-money redemption. The
// appended entry is the transaction boundary: there is no partial redemption
// and no automatic rollback.
type RedemptionService struct {
	store RedemptionStore
	now   func() time.Time
	idGen func() string
	locks *keyedMutex
}

func NewRedemptionService(store RedemptionStore) *RedemptionService {
	return &RedemptionService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
		locks: newKeyedMutex(),
	}
}

// PointsForMoney converts a money amount to points at the given rate,
// rounding up so a redemption never under-charges points relative to the
// money granted.
func PointsForMoney(amountMoney, conversionRate int) int {
	return (amountMoney + conversionRate - 1) / conversionRate
}

// Redeem deducts ceil(amountMoney / conversionRate) points from the patient,
// failing with InsufficientBalanceError when the available balance is too
// low. The balance check and the append are serialized per patient and
// re-run atomically in the store.
func (s *RedemptionService) Redeem(patientID string, amountMoney int, redemptionType, reason string, conversionRate int, now time.Time) (*RedemptionResult, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, NewInvalidError("patient_id required")
	}
	if amountMoney <= 0 {
		return nil, NewInvalidError("amount must be positive")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, NewInvalidError("reason required")
	}
	if conversionRate < 1 {
		return nil, NewInvalidError("conversion rate must be at least 1")
	}
	patient, err := s.store.GetPatient(patientID)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return nil, NewNotFoundError("patient not found")
	}

	points := PointsForMoney(amountMoney, conversionRate)
	entry := &LedgerEntry{
		ID:               s.idGen(),
		PatientID:        patientID,
		Kind:             EntryRedeem,
		PointsRedeemed:   points,
		MoneyEquivalent:  amountMoney,
		RedemptionType:   strings.TrimSpace(redemptionType),
		RedemptionReason: strings.TrimSpace(reason),
		RecordedAt:       now,
	}

	s.locks.Lock(patientID)
	defer s.locks.Unlock(patientID)

	available, ok, err := s.store.AppendRedemption(entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &InsufficientBalanceError{Available: available, Requested: points}
	}
	return &RedemptionResult{
		EntryID:        entry.ID,
		PointsDeducted: points,
		Remaining:      available - points,
	}, nil
}
