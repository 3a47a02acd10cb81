package services

import (
	"errors"
	"strings"
	"time"

	"github.com/prernalabs/carepoints/internal/identity"
)

type RegistrationStore interface {
	GetPatientByEmail(email string) (*Patient, error)
	GetPatientByLegacyCode(code string) (*Patient, error)
	CreatePatient(p *Patient) error
	UpdatePatientHospitalID(patientID, hospitalID string) (*Patient, error)
}

// RegistrationService signs patients in with a one-time email code and
// manages their identifiers afterwards.
type RegistrationService struct {
	store    RegistrationStore
	provider identity.Provider

	now   func() time.Time
	idGen func() string
}

func NewRegistrationService(store RegistrationStore, provider identity.Provider) *RegistrationService {
	return &RegistrationService{
		store:    store,
		provider: provider,
		now:      time.Now,
		idGen:    func() string { return shortID(12) },
	}
}

// RequestOTP asks the provider to send a sign-in code to the address.
func (s *RegistrationService) RequestOTP(email string) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := s.provider.SendOTP(email); err != nil {
		if errors.Is(err, identity.ErrRateLimited) {
			return NewTooManyRequestsError("code already sent, try again shortly")
		}
		return err
	}
	return nil
}

// VerifyOTP checks the code and returns the patient for the address,
// creating one on first sign-in. New patients get a six character legacy
// code they can use to recover their account later.
func (s *RegistrationService) VerifyOTP(email, code string) (*Patient, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, NewInvalidError("code required")
	}
	if err := s.provider.VerifyOTP(email, code); err != nil {
		if errors.Is(err, identity.ErrInvalidCode) {
			return nil, NewUnauthorizedError("invalid or expired code")
		}
		return nil, err
	}
	existing, err := s.store.GetPatientByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	p := &Patient{
		ID:         s.idGen(),
		Email:      email,
		LegacyCode: strings.ToUpper(shortID(6)),
		CreatedAt:  s.now(),
	}
	if err := s.store.CreatePatient(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Lookup finds a patient by email address or legacy code.
func (s *RegistrationService) Lookup(identifier string) (*Patient, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, NewInvalidError("identifier required")
	}
	if strings.Contains(identifier, "@") {
		p, err := s.store.GetPatientByEmail(normalizeEmail(identifier))
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, NewNotFoundError("patient not found")
		}
		return p, nil
	}
	p, err := s.store.GetPatientByLegacyCode(strings.ToUpper(identifier))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("patient not found")
	}
	return p, nil
}

// AssignHospitalID records the hospital's own identifier for the patient.
func (s *RegistrationService) AssignHospitalID(patientID, hospitalID string) (*Patient, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, NewInvalidError("patient_id required")
	}
	hospitalID = strings.TrimSpace(hospitalID)
	if hospitalID == "" {
		return nil, NewInvalidError("hospital_id required")
	}
	p, err := s.store.UpdatePatientHospitalID(patientID, hospitalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("patient not found")
	}
	return p, nil
}

// RecoverLegacyCode returns the legacy code for a signed-in email address.
func (s *RegistrationService) RecoverLegacyCode(email string) (string, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	p, err := s.store.GetPatientByEmail(email)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", NewNotFoundError("patient not found")
	}
	return p.LegacyCode, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return NewInvalidError("email required")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || !strings.Contains(email[at:], ".") {
		return NewInvalidError("invalid email")
	}
	return nil
}
