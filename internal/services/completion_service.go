package services

import (
	"strings"
	"time"
)

const (
	// DefaultCooldown is the minimum time between two completions of the
	// same form by the same patient.
	DefaultCooldown = 180 * 24 * time.Hour
	// DefaultPointsPerQuestion is the reward granted per answered question.
	DefaultPointsPerQuestion = 10
)

// CompletionStore abstracts persistence for the completion workflow.
// RecordCompletion must perform the cooldown re-check and the three inserts
// (completion, response rows, EARN entry) atomically: when it returns a
// non-nil conflict, nothing was written.
type CompletionStore interface {
	GetPatient(id string) (*Patient, error)
	GetForm(id string) (*SurveyForm, error)
	ListQuestions(formID string) ([]*Question, error)
	LatestCompletion(patientID, formID string) (*Completion, error)
	RecordCompletion(c *Completion, rows []*ResponseRow, earn *LedgerEntry, cutoff time.Time) (conflict *Completion, err error)
}

// Answer carries one inbound answer. Value is used for rating, radio and
// short_answer questions, Selections for checkbox, Ratings for likert.
type Answer struct {
	QuestionID string         `json:"question_id"`
	Value      string         `json:"value,omitempty"`
	Selections []string       `json:"selections,omitempty"`
	Ratings    []LikertRating `json:"ratings,omitempty"`
}

// LikertRating rates a single statement row of a likert matrix.
type LikertRating struct {
	Row    string `json:"row"`
	Rating string `json:"rating"`
}

// CompletionResult reports a successful submission.
type CompletionResult struct {
	CompletionID  string `json:"completion_id"`
	PointsEarned  int    `json:"points_earned"`
	QuestionCount int    `json:"question_count"`
}

// CompletionService enforces the retake cooldown and gates point issuance.
type CompletionService struct {
	store             CompletionStore
	now               func() time.Time
	idGen             func() string
	cooldown          time.Duration
	pointsPerQuestion int
	locks             *keyedMutex
}

func NewCompletionService(store CompletionStore) *CompletionService {
	return &CompletionService{
		store:             store,
		now:               func() time.Time { return time.Now().UTC() },
		idGen:             func() string { return shortID(12) },
		cooldown:          DefaultCooldown,
		pointsPerQuestion: DefaultPointsPerQuestion,
		locks:             newKeyedMutex(),
	}
}

// CanComplete reports whether the patient may submit the form now, and if
// not, how long until the cooldown expires. Only the most recent completion
// is consulted; older completions never re-block a patient.
func (s *CompletionService) CanComplete(patientID, formID string, now time.Time) (bool, time.Duration, error) {
	if strings.TrimSpace(patientID) == "" || strings.TrimSpace(formID) == "" {
		return false, 0, NewInvalidError("patient_id and form_id required")
	}
	latest, err := s.store.LatestCompletion(patientID, formID)
	if err != nil {
		return false, 0, err
	}
	if latest == nil {
		return true, 0, nil
	}
	windowEnd := latest.CompletedAt.Add(s.cooldown)
	if windowEnd.After(now) {
		return false, windowEnd.Sub(now), nil
	}
	return true, 0, nil
}

// RecordCompletion validates the submission, then atomically writes the
// completion, its response rows, and the linked EARN entry
// (questionCount * pointsPerQuestion). The cooldown is checked under a
// per-(patient, form) lock and re-checked inside the store transaction, so
// two racing submissions cannot both pass.
func (s *CompletionService) RecordCompletion(patientID, formID string, answers []Answer, now time.Time) (*CompletionResult, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, NewInvalidError("patient_id required")
	}
	if strings.TrimSpace(formID) == "" {
		return nil, NewInvalidError("form_id required")
	}
	patient, err := s.store.GetPatient(patientID)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return nil, NewNotFoundError("patient not found")
	}
	form, err := s.store.GetForm(formID)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, NewNotFoundError("form not found")
	}
	questions, err := s.store.ListQuestions(formID)
	if err != nil {
		return nil, err
	}

	byQuestion := make(map[string]Answer, len(answers))
	for _, a := range answers {
		if _, dup := byQuestion[a.QuestionID]; dup {
			return nil, NewInvalidError("duplicate answer for question " + a.QuestionID)
		}
		byQuestion[a.QuestionID] = a
	}
	if len(byQuestion) != len(questions) {
		return nil, NewInvalidError("every question must be answered exactly once")
	}

	key := patientID + "|" + formID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	ok, remaining, err := s.CanComplete(patientID, formID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &CooldownActiveError{Remaining: remaining}
	}

	completion := &Completion{
		ID:            s.idGen(),
		PatientID:     patientID,
		FormID:        formID,
		ResponseSetID: s.idGen(),
		CompletedAt:   now,
	}
	rows := make([]*ResponseRow, 0, len(questions))
	for _, q := range questions {
		ans, ok := byQuestion[q.ID]
		if !ok {
			return nil, NewInvalidError("missing answer for question " + q.ID)
		}
		serialized, err := serializeAnswer(q, ans)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &ResponseRow{
			CompletionID: completion.ID,
			QuestionID:   q.ID,
			Answer:       serialized,
			AnsweredAt:   now,
		})
	}

	earn := &LedgerEntry{
		ID:                 s.idGen(),
		PatientID:          patientID,
		Kind:               EntryEarn,
		PointsEarned:       len(questions) * s.pointsPerQuestion,
		LinkedCompletionID: completion.ID,
		RecordedAt:         now,
	}

	conflict, err := s.store.RecordCompletion(completion, rows, earn, now.Add(-s.cooldown))
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return nil, &CooldownActiveError{Remaining: conflict.CompletedAt.Add(s.cooldown).Sub(now)}
	}
	return &CompletionResult{
		CompletionID:  completion.ID,
		PointsEarned:  earn.PointsEarned,
		QuestionCount: len(questions),
	}, nil
}

// serializeAnswer flattens an answer to the stored string form for its
// question type.
func serializeAnswer(q *Question, a Answer) (string, error) {
	switch q.Type {
	case QuestionCheckbox:
		if len(a.Selections) == 0 {
			return "", NewInvalidError("checkbox answer requires at least one selection")
		}
		return strings.Join(a.Selections, ", "), nil
	case QuestionLikert:
		if q.Options.Likert == nil {
			return "", NewInvalidError("likert question has no matrix options")
		}
		if len(a.Ratings) != len(q.Options.Likert.Rows) {
			return "", NewInvalidError("every likert row must be rated")
		}
		rated := make(map[string]string, len(a.Ratings))
		for _, r := range a.Ratings {
			if strings.TrimSpace(r.Rating) == "" {
				return "", NewInvalidError("likert rating must not be empty")
			}
			rated[r.Row] = r.Rating
		}
		parts := make([]string, 0, len(q.Options.Likert.Rows))
		for _, row := range q.Options.Likert.Rows {
			rating, ok := rated[row]
			if !ok {
				return "", NewInvalidError("missing likert rating for row " + row)
			}
			parts = append(parts, row+": "+rating)
		}
		return strings.Join(parts, "; "), nil
	default:
		if strings.TrimSpace(a.Value) == "" {
			return "", NewInvalidError("answer must not be empty")
		}
		return a.Value, nil
	}
}
