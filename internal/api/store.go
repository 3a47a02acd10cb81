package api

import (
	"sort"
	"sync"
	"time"

	"github.com/prernalabs/carepoints/internal/services"
)

// memoryStore is the in-memory Store used by tests and by local development
// when no database path is configured. All mutating sequences that must be
// atomic (cooldown re-check plus insert, balance check plus insert) run under
// the single write lock.
type memoryStore struct {
	mu            sync.RWMutex
	patients      map[string]*services.Patient
	patientsEmail map[string]*services.Patient
	patientsCode  map[string]*services.Patient
	forms         map[string]*services.SurveyForm
	questions     map[string]*services.Question
	completions   []*services.Completion
	responses     []*services.ResponseRow
	entries       []*services.LedgerEntry
	linkedEarn    map[string]bool
	admins        map[string]*services.AdminUser
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		patients:      map[string]*services.Patient{},
		patientsEmail: map[string]*services.Patient{},
		patientsCode:  map[string]*services.Patient{},
		forms:         map[string]*services.SurveyForm{},
		questions:     map[string]*services.Question{},
		completions:   []*services.Completion{},
		responses:     []*services.ResponseRow{},
		entries:       []*services.LedgerEntry{},
		linkedEarn:    map[string]bool{},
		admins:        map[string]*services.AdminUser{},
	}
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store { return newMemoryStore() }

func (s *memoryStore) GetPatient(id string) (*services.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patients[id], nil
}

func (s *memoryStore) GetPatientByEmail(email string) (*services.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patientsEmail[email], nil
}

func (s *memoryStore) GetPatientByLegacyCode(code string) (*services.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patientsCode[code], nil
}

func (s *memoryStore) CreatePatient(p *services.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.patientsEmail[p.Email]; exists {
		return services.NewConflictError("email already registered")
	}
	s.patients[p.ID] = p
	s.patientsEmail[p.Email] = p
	s.patientsCode[p.LegacyCode] = p
	return nil
}

func (s *memoryStore) UpdatePatientHospitalID(patientID, hospitalID string) (*services.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.patients[patientID]
	if p == nil {
		return nil, nil
	}
	p.HospitalID = hospitalID
	return p, nil
}

func (s *memoryStore) ListPatients() ([]*services.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) ListForms() ([]*services.SurveyForm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.SurveyForm, 0, len(s.forms))
	for _, f := range s.forms {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *memoryStore) GetForm(id string) (*services.SurveyForm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forms[id], nil
}

func (s *memoryStore) CreateForm(f *services.SurveyForm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms[f.ID] = f
	return nil
}

func (s *memoryStore) UpdateForm(f *services.SurveyForm) (*services.SurveyForm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[f.ID]; !ok {
		return nil, nil
	}
	s.forms[f.ID] = f
	return f, nil
}

// DeleteForm removes the form and its questions. Completions and responses
// already recorded against the form are kept.
func (s *memoryStore) DeleteForm(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[id]; !ok {
		return false, nil
	}
	delete(s.forms, id)
	for qid, q := range s.questions {
		if q.FormID == id {
			delete(s.questions, qid)
		}
	}
	return true, nil
}

func (s *memoryStore) ListQuestions(formID string) ([]*services.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Question, 0)
	for _, q := range s.questions {
		if q.FormID == formID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) GetQuestion(id string) (*services.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questions[id], nil
}

func (s *memoryStore) CreateQuestion(q *services.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.ID] = q
	return nil
}

func (s *memoryStore) UpdateQuestion(q *services.Question) (*services.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.questions[q.ID]
	if !ok {
		return nil, nil
	}
	q.FormID = prev.FormID
	s.questions[q.ID] = q
	return q, nil
}

func (s *memoryStore) DeleteQuestion(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[id]; !ok {
		return false, nil
	}
	delete(s.questions, id)
	return true, nil
}

func (s *memoryStore) LatestCompletion(patientID, formID string) (*services.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestCompletionLocked(patientID, formID), nil
}

func (s *memoryStore) latestCompletionLocked(patientID, formID string) *services.Completion {
	var latest *services.Completion
	for _, c := range s.completions {
		if c.PatientID != patientID || c.FormID != formID {
			continue
		}
		if latest == nil || c.CompletedAt.After(latest.CompletedAt) {
			latest = c
		}
	}
	return latest
}

func (s *memoryStore) RecordCompletion(c *services.Completion, rows []*services.ResponseRow, earn *services.LedgerEntry, cutoff time.Time) (*services.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if latest := s.latestCompletionLocked(c.PatientID, c.FormID); latest != nil && latest.CompletedAt.After(cutoff) {
		return latest, nil
	}
	if s.linkedEarn[earn.LinkedCompletionID] {
		return nil, services.NewConflictError("completion already rewarded")
	}
	s.completions = append(s.completions, c)
	s.responses = append(s.responses, rows...)
	s.entries = append(s.entries, earn)
	s.linkedEarn[earn.LinkedCompletionID] = true
	return nil, nil
}

func (s *memoryStore) ListCompletions() ([]*services.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*services.Completion(nil), s.completions...), nil
}

func (s *memoryStore) ListResponsesByQuestion(questionID string) ([]*services.ResponseRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.ResponseRow, 0)
	for _, r := range s.responses {
		if r.QuestionID == questionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryStore) AppendEntry(e *services.LedgerEntry) (*services.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.LinkedCompletionID != "" {
		if s.linkedEarn[e.LinkedCompletionID] {
			return nil, services.NewConflictError("completion already rewarded")
		}
		s.linkedEarn[e.LinkedCompletionID] = true
	}
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *memoryStore) ListEntriesByPatient(patientID string) ([]*services.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.LedgerEntry, 0)
	for _, e := range s.entries {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryStore) ListAllEntries() ([]*services.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*services.LedgerEntry(nil), s.entries...), nil
}

func (s *memoryStore) AppendRedemption(e *services.LedgerEntry) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	available := 0
	for _, prev := range s.entries {
		if prev.PatientID == e.PatientID {
			available += prev.PointsEarned - prev.PointsRedeemed
		}
	}
	if available < e.PointsRedeemed {
		return available, false, nil
	}
	s.entries = append(s.entries, e)
	return available, true, nil
}

func (s *memoryStore) GetAdminByUsername(username string) (*services.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.admins {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) CreateAdmin(u *services.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, prev := range s.admins {
		if prev.Username == u.Username {
			return services.NewConflictError("username taken")
		}
	}
	s.admins[u.ID] = u
	return nil
}

func (s *memoryStore) CountAdmins() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.admins), nil
}
