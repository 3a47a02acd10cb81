package services

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LedgerStore abstracts the append-only persistence required by LedgerService.
// Entries come back in insertion order; there are no update or delete
// operations.
type LedgerStore interface {
	AppendEntry(e *LedgerEntry) (*LedgerEntry, error)
	ListEntriesByPatient(patientID string) ([]*LedgerEntry, error)
}

// LedgerService is the single source of truth for a patient's points
// position. Balances are a pure fold over the entry log; nothing is cached.
type LedgerService struct {
	store LedgerStore
	now   func() time.Time
	idGen func() string
}

func NewLedgerService(store LedgerStore) *LedgerService {
	return &LedgerService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
	}
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// Append validates and persists one ledger entry, returning its ID.
func (s *LedgerService) Append(e *LedgerEntry) (string, error) {
	if e == nil {
		return "", NewInvalidError("entry required")
	}
	if err := validateEntry(e); err != nil {
		return "", err
	}
	if e.ID == "" {
		e.ID = s.idGen()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = s.now()
	}
	stored, err := s.store.AppendEntry(e)
	if err != nil {
		return "", err
	}
	if stored != nil {
		return stored.ID, nil
	}
	return e.ID, nil
}

// History returns the patient's entries in append (chronological) order.
func (s *LedgerService) History(patientID string) ([]*LedgerEntry, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, NewInvalidError("patient_id required")
	}
	return s.store.ListEntriesByPatient(patientID)
}

// ComputeBalance folds the patient's entry log into earned/redeemed/available
// totals. It is recomputed on every call; there is no counter to drift.
func (s *LedgerService) ComputeBalance(patientID string) (Balance, error) {
	entries, err := s.History(patientID)
	if err != nil {
		return Balance{}, err
	}
	return FoldBalance(entries), nil
}

// FoldBalance reduces an entry sequence to a Balance.
func FoldBalance(entries []*LedgerEntry) Balance {
	var b Balance
	for _, e := range entries {
		if e == nil {
			continue
		}
		b.Earned += e.PointsEarned
		b.Redeemed += e.PointsRedeemed
	}
	b.Available = b.Earned - b.Redeemed
	return b
}

func validateEntry(e *LedgerEntry) error {
	if strings.TrimSpace(e.PatientID) == "" {
		return NewInvalidError("patient_id required")
	}
	if e.PointsEarned < 0 || e.PointsRedeemed < 0 {
		return NewInvalidError("points must not be negative")
	}
	if e.PointsEarned > 0 && e.PointsRedeemed > 0 {
		return NewInvalidError("entry is exactly one kind")
	}
	switch e.Kind {
	case EntryEarn:
		if e.PointsRedeemed != 0 {
			return NewInvalidError("EARN entry must not redeem points")
		}
		if e.MoneyEquivalent != 0 {
			return NewInvalidError("EARN entry must not carry a money equivalent")
		}
	case EntryRedeem:
		if e.PointsEarned != 0 {
			return NewInvalidError("REDEEM entry must not earn points")
		}
		if e.PointsRedeemed == 0 {
			return NewInvalidError("REDEEM entry must deduct points")
		}
		if e.MoneyEquivalent < 0 {
			return NewInvalidError("money equivalent must not be negative")
		}
		if e.LinkedCompletionID != "" {
			return NewInvalidError("REDEEM entry must not link a completion")
		}
	default:
		return NewInvalidError("unknown entry kind")
	}
	return nil
}
