package services

import (
	"strings"
	"time"
)

type FormStore interface {
	ListForms() ([]*SurveyForm, error)
	GetForm(id string) (*SurveyForm, error)
	CreateForm(f *SurveyForm) error
	UpdateForm(f *SurveyForm) (*SurveyForm, error)
	DeleteForm(id string) (bool, error)
	ListQuestions(formID string) ([]*Question, error)
	GetQuestion(id string) (*Question, error)
	CreateQuestion(q *Question) error
	UpdateQuestion(q *Question) (*Question, error)
	DeleteQuestion(id string) (bool, error)
}

// FormService manages survey forms and their questions.
type FormService struct {
	store FormStore

	now   func() time.Time
	idGen func() string
}

func NewFormService(store FormStore) *FormService {
	return &FormService{
		store: store,
		now:   time.Now,
		idGen: func() string { return shortID(12) },
	}
}

func (s *FormService) ListForms() ([]*SurveyForm, error) {
	return s.store.ListForms()
}

func (s *FormService) GetForm(id string) (*SurveyForm, error) {
	f, err := s.store.GetForm(id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, NewNotFoundError("form not found")
	}
	return f, nil
}

func (s *FormService) CreateForm(name, description string, position int) (*SurveyForm, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewInvalidError("form name required")
	}
	f := &SurveyForm{
		ID:          s.idGen(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Position:    position,
	}
	if err := s.store.CreateForm(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FormService) UpdateForm(id, name, description string, position int) (*SurveyForm, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewInvalidError("form name required")
	}
	updated, err := s.store.UpdateForm(&SurveyForm{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(description),
		Position:    position,
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, NewNotFoundError("form not found")
	}
	return updated, nil
}

// DeleteForm removes the form and its questions. Recorded completions and
// earned points survive deletion.
func (s *FormService) DeleteForm(id string) error {
	ok, err := s.store.DeleteForm(id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("form not found")
	}
	return nil
}

func (s *FormService) ListQuestions(formID string) ([]*Question, error) {
	f, err := s.store.GetForm(formID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, NewNotFoundError("form not found")
	}
	return s.store.ListQuestions(formID)
}

func (s *FormService) CreateQuestion(formID, text string, qType QuestionType, options QuestionOptions, position int) (*Question, error) {
	f, err := s.store.GetForm(formID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, NewNotFoundError("form not found")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, NewInvalidError("question text required")
	}
	if err := validateQuestionOptions(qType, options); err != nil {
		return nil, err
	}
	q := &Question{
		ID:       s.idGen(),
		FormID:   formID,
		Text:     text,
		Type:     qType,
		Options:  options,
		Position: position,
	}
	if err := s.store.CreateQuestion(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *FormService) UpdateQuestion(id, text string, qType QuestionType, options QuestionOptions, position int) (*Question, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, NewInvalidError("question text required")
	}
	if err := validateQuestionOptions(qType, options); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateQuestion(&Question{
		ID:       id,
		Text:     text,
		Type:     qType,
		Options:  options,
		Position: position,
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, NewNotFoundError("question not found")
	}
	return updated, nil
}

func (s *FormService) DeleteQuestion(id string) error {
	ok, err := s.store.DeleteQuestion(id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("question not found")
	}
	return nil
}

func validateQuestionOptions(qType QuestionType, options QuestionOptions) error {
	switch qType {
	case QuestionShortAnswer:
		if len(options.Choices) > 0 || options.Likert != nil {
			return NewInvalidError("short answer questions take no options")
		}
	case QuestionRating, QuestionRadio, QuestionCheckbox:
		if len(options.Choices) == 0 {
			return NewInvalidError("choice questions need at least one option")
		}
		if options.Likert != nil {
			return NewInvalidError("choice questions take choices, not a likert grid")
		}
		for _, c := range options.Choices {
			if strings.TrimSpace(c) == "" {
				return NewInvalidError("options must be non-empty")
			}
		}
	case QuestionLikert:
		if options.Likert == nil {
			return NewInvalidError("likert questions need rows and a scale")
		}
		if len(options.Likert.Rows) == 0 {
			return NewInvalidError("likert questions need at least one row")
		}
		if len(options.Likert.Scale) < 2 {
			return NewInvalidError("likert scale needs at least two points")
		}
		for _, r := range options.Likert.Rows {
			if strings.TrimSpace(r) == "" {
				return NewInvalidError("likert rows must be non-empty")
			}
		}
	default:
		return NewInvalidError("unknown question type")
	}
	return nil
}
