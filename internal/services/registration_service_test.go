package services

import (
	"testing"
	"time"

	"github.com/prernalabs/carepoints/internal/identity"
)

type stubRegStore struct {
	byEmail map[string]*Patient
	byCode  map[string]*Patient
	byID    map[string]*Patient
	created []*Patient
}

func newStubRegStore() *stubRegStore {
	return &stubRegStore{
		byEmail: map[string]*Patient{},
		byCode:  map[string]*Patient{},
		byID:    map[string]*Patient{},
	}
}

func (s *stubRegStore) GetPatientByEmail(email string) (*Patient, error) {
	return s.byEmail[email], nil
}

func (s *stubRegStore) GetPatientByLegacyCode(code string) (*Patient, error) {
	return s.byCode[code], nil
}

func (s *stubRegStore) CreatePatient(p *Patient) error {
	s.byEmail[p.Email] = p
	s.byCode[p.LegacyCode] = p
	s.byID[p.ID] = p
	s.created = append(s.created, p)
	return nil
}

func (s *stubRegStore) UpdatePatientHospitalID(patientID, hospitalID string) (*Patient, error) {
	p := s.byID[patientID]
	if p == nil {
		return nil, nil
	}
	p.HospitalID = hospitalID
	return p, nil
}

type stubProvider struct {
	sendErr   error
	verifyErr error
	sentTo    []string
}

func (p *stubProvider) SendOTP(email string) error { p.sentTo = append(p.sentTo, email); return p.sendErr }
func (p *stubProvider) VerifyOTP(email, code string) error { return p.verifyErr }

func TestVerifyOTPCreatesPatient(t *testing.T) {
	store := newStubRegStore()
	svc := NewRegistrationService(store, &stubProvider{})
	fixed := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	p, err := svc.VerifyOTP("  Patient@Example.COM ", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Email != "patient@example.com" {
		t.Fatalf("email = %q", p.Email)
	}
	if len(p.LegacyCode) != 6 {
		t.Fatalf("legacy code = %q", p.LegacyCode)
	}
	if !p.CreatedAt.Equal(fixed) {
		t.Fatalf("created at %v", p.CreatedAt)
	}
	if len(store.created) != 1 {
		t.Fatalf("created %d patients", len(store.created))
	}
}

func TestVerifyOTPReturnsExistingPatient(t *testing.T) {
	store := newStubRegStore()
	existing := &Patient{ID: "P1", Email: "patient@example.com", LegacyCode: "ABC123"}
	store.byEmail[existing.Email] = existing
	svc := NewRegistrationService(store, &stubProvider{})

	p, err := svc.VerifyOTP("patient@example.com", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.ID != "P1" {
		t.Fatalf("patient = %+v", p)
	}
	if len(store.created) != 0 {
		t.Fatal("created a duplicate patient")
	}
}

func TestVerifyOTPInvalidCode(t *testing.T) {
	svc := NewRegistrationService(newStubRegStore(), &stubProvider{verifyErr: identity.ErrInvalidCode})
	if _, err := svc.VerifyOTP("patient@example.com", "000000"); err == nil {
		t.Fatal("expected error")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("err = %v", err)
	}
}

func TestRequestOTPRateLimited(t *testing.T) {
	svc := NewRegistrationService(newStubRegStore(), &stubProvider{sendErr: identity.ErrRateLimited})
	if err := svc.RequestOTP("patient@example.com"); err == nil {
		t.Fatal("expected error")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorTooManyRequests {
		t.Fatalf("err = %v", err)
	}
}

func TestRequestOTPRejectsBadEmail(t *testing.T) {
	provider := &stubProvider{}
	svc := NewRegistrationService(newStubRegStore(), provider)
	for _, email := range []string{"", "nodomain", "@example.com", "patient@"} {
		if err := svc.RequestOTP(email); err == nil {
			t.Errorf("expected error for %q", email)
		}
	}
	if len(provider.sentTo) != 0 {
		t.Fatalf("sent to %v", provider.sentTo)
	}
}

func TestLookupByEmailAndCode(t *testing.T) {
	store := newStubRegStore()
	existing := &Patient{ID: "P1", Email: "patient@example.com", LegacyCode: "ABC123"}
	store.byEmail[existing.Email] = existing
	store.byCode[existing.LegacyCode] = existing
	svc := NewRegistrationService(store, &stubProvider{})

	p, err := svc.Lookup("Patient@Example.com")
	if err != nil || p.ID != "P1" {
		t.Fatalf("lookup by email: %v / %+v", err, p)
	}
	p, err = svc.Lookup("abc123")
	if err != nil || p.ID != "P1" {
		t.Fatalf("lookup by code: %v / %+v", err, p)
	}
	if _, err := svc.Lookup("missing@example.com"); err == nil {
		t.Fatal("expected not found")
	}
}

func TestAssignHospitalID(t *testing.T) {
	store := newStubRegStore()
	store.byID["P1"] = &Patient{ID: "P1", Email: "patient@example.com"}
	svc := NewRegistrationService(store, &stubProvider{})

	p, err := svc.AssignHospitalID("P1", "UH-2231")
	if err != nil || p.HospitalID != "UH-2231" {
		t.Fatalf("assign: %v / %+v", err, p)
	}
	if _, err := svc.AssignHospitalID("PX", "UH-1"); err == nil {
		t.Fatal("expected not found")
	}
	if _, err := svc.AssignHospitalID("P1", "  "); err == nil {
		t.Fatal("expected invalid")
	}
}

func TestRecoverLegacyCode(t *testing.T) {
	store := newStubRegStore()
	store.byEmail["patient@example.com"] = &Patient{ID: "P1", Email: "patient@example.com", LegacyCode: "ABC123"}
	svc := NewRegistrationService(store, &stubProvider{})

	code, err := svc.RecoverLegacyCode("patient@example.com")
	if err != nil || code != "ABC123" {
		t.Fatalf("recover: %v / %q", err, code)
	}
	if _, err := svc.RecoverLegacyCode("missing@example.com"); err == nil {
		t.Fatal("expected not found")
	}
}
