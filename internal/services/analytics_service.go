package services

import (
	"math"
	"sort"
	"strings"
)

type AnalyticsStore interface {
	ListCompletions() ([]*Completion, error)
	ListAllEntries() ([]*LedgerEntry, error)
	ListForms() ([]*SurveyForm, error)
	GetQuestion(id string) (*Question, error)
	ListResponsesByQuestion(questionID string) ([]*ResponseRow, error)
}

// AnalyticsService answers read-only rollup queries for the admin dashboard.
type AnalyticsService struct {
	store AnalyticsStore
}

func NewAnalyticsService(store AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{store: store}
}

type AnalyticsTotals struct {
	TotalCompletions        int `json:"total_completions"`
	TotalPointsEarned       int `json:"total_points_earned"`
	TotalPointsRedeemed     int `json:"total_points_redeemed"`
	TotalMoneyRedeemed      int `json:"total_money_redeemed"`
	AvailablePoints         int `json:"available_points"`
	UsersCompletingAllForms int `json:"users_completing_all_forms"`
}

type AnswerCount struct {
	AnswerValue string `json:"answer_value"`
	Count       int    `json:"count"`
	Percentage  int    `json:"percentage"`
}

type AnswerDistribution struct {
	FormID         string        `json:"form_id"`
	QuestionID     string        `json:"question_id"`
	QuestionText   string        `json:"question_text"`
	TotalResponses int           `json:"total_responses"`
	Answers        []AnswerCount `json:"answers"`
}

// Totals rolls up completion and ledger data across all patients.
func (s *AnalyticsService) Totals() (*AnalyticsTotals, error) {
	completions, err := s.store.ListCompletions()
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListAllEntries()
	if err != nil {
		return nil, err
	}
	forms, err := s.store.ListForms()
	if err != nil {
		return nil, err
	}
	out := &AnalyticsTotals{TotalCompletions: len(completions)}
	for _, e := range entries {
		out.TotalPointsEarned += e.PointsEarned
		out.TotalPointsRedeemed += e.PointsRedeemed
		if e.PointsRedeemed > 0 {
			out.TotalMoneyRedeemed += e.MoneyEquivalent
		}
	}
	out.AvailablePoints = out.TotalPointsEarned - out.TotalPointsRedeemed
	out.UsersCompletingAllForms = usersCompletingAllForms(completions, len(forms))
	return out, nil
}

// UsersCompletingAllForms counts patients whose distinct set of completed
// forms (repeats ignored) covers exactly formCount forms.
func (s *AnalyticsService) UsersCompletingAllForms(formCount int) (int, error) {
	if formCount <= 0 {
		return 0, NewInvalidError("form count must be positive")
	}
	completions, err := s.store.ListCompletions()
	if err != nil {
		return 0, err
	}
	return usersCompletingAllForms(completions, formCount), nil
}

func usersCompletingAllForms(completions []*Completion, formCount int) int {
	if formCount <= 0 {
		return 0
	}
	formsByPatient := map[string]map[string]bool{}
	for _, c := range completions {
		if formsByPatient[c.PatientID] == nil {
			formsByPatient[c.PatientID] = map[string]bool{}
		}
		formsByPatient[c.PatientID][c.FormID] = true
	}
	count := 0
	for _, forms := range formsByPatient {
		if len(forms) == formCount {
			count++
		}
	}
	return count
}

// Distribution breaks a question's responses down by answer value, ordered
// by count descending with ties in first-seen order. Percentages are rounded
// independently and may not sum to 100.
func (s *AnalyticsService) Distribution(formID, questionID string) (*AnswerDistribution, error) {
	if strings.TrimSpace(formID) == "" || strings.TrimSpace(questionID) == "" {
		return nil, NewInvalidError("form_id and question_id required")
	}
	q, err := s.store.GetQuestion(questionID)
	if err != nil {
		return nil, err
	}
	if q == nil || q.FormID != formID {
		return nil, NewNotFoundError("question not found in form")
	}
	responses, err := s.store.ListResponsesByQuestion(questionID)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	order := make([]string, 0, len(responses))
	for _, r := range responses {
		if _, seen := counts[r.Answer]; !seen {
			order = append(order, r.Answer)
		}
		counts[r.Answer]++
	}

	total := len(responses)
	answers := make([]AnswerCount, 0, len(order))
	for _, v := range order {
		answers = append(answers, AnswerCount{
			AnswerValue: v,
			Count:       counts[v],
			Percentage:  int(math.Round(float64(counts[v]) / float64(total) * 100)),
		})
	}
	// stable sort keeps first-seen order among equal counts
	sort.SliceStable(answers, func(i, j int) bool { return answers[i].Count > answers[j].Count })

	return &AnswerDistribution{
		FormID:         formID,
		QuestionID:     questionID,
		QuestionText:   q.Text,
		TotalResponses: total,
		Answers:        answers,
	}, nil
}
