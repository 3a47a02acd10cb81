package services

import "time"

// Patient is a registered survey respondent. Patients are created on
// successful OTP verification and never deleted.
type Patient struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	LegacyCode  string    `json:"legacy_code"`
	HospitalID  string    `json:"hospital_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type QuestionType string

const (
	QuestionRating      QuestionType = "rating"
	QuestionShortAnswer QuestionType = "short_answer"
	QuestionCheckbox    QuestionType = "checkbox"
	QuestionRadio       QuestionType = "radio"
	QuestionLikert      QuestionType = "likert"
)

// LikertOptions is the matrix shape for likert questions: statements down,
// scale points across.
type LikertOptions struct {
	Rows  []string `json:"rows"`
	Scale []string `json:"scale"`
}

// QuestionOptions is a tagged variant over the question type. Exactly one arm
// is populated: Choices for rating/checkbox/radio, Likert for likert, neither
// for short_answer.
type QuestionOptions struct {
	Choices []string       `json:"choices,omitempty"`
	Likert  *LikertOptions `json:"likert,omitempty"`
}

type SurveyForm struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Position    int    `json:"position,omitempty"`
}

type Question struct {
	ID       string          `json:"id"`
	FormID   string          `json:"form_id"`
	Text     string          `json:"text"`
	Type     QuestionType    `json:"type"`
	Options  QuestionOptions `json:"options"`
	Position int             `json:"position,omitempty"`
}

// Completion records one finished survey submission. Multiple completions per
// (patient, form) pair are allowed over time, gated by the cooldown window.
type Completion struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patient_id"`
	FormID        string    `json:"form_id"`
	ResponseSetID string    `json:"response_set_id"`
	CompletedAt   time.Time `json:"completed_at"`
}

// ResponseRow is a single answered question within a completion. Checkbox
// selections are stored joined with ", " and likert matrices as
// "Row: Rating; Row: Rating".
type ResponseRow struct {
	CompletionID string    `json:"completion_id"`
	QuestionID   string    `json:"question_id"`
	Answer       string    `json:"answer"`
	AnsweredAt   time.Time `json:"answered_at"`
}

type EntryKind string

const (
	EntryEarn   EntryKind = "EARN"
	EntryRedeem EntryKind = "REDEEM"
)

// LedgerEntry is one immutable accounting event. Entries are append-only and
// never mutated or deleted; corrections are modeled as compensating entries.
type LedgerEntry struct {
	ID                 string    `json:"id"`
	PatientID          string    `json:"patient_id"`
	Kind               EntryKind `json:"kind"`
	PointsEarned       int       `json:"points_earned"`
	PointsRedeemed     int       `json:"points_redeemed"`
	MoneyEquivalent    int       `json:"money_equivalent,omitempty"`
	RedemptionType     string    `json:"redemption_type,omitempty"`
	RedemptionReason   string    `json:"redemption_reason,omitempty"`
	LinkedCompletionID string    `json:"linked_completion_id,omitempty"`
	RecordedAt         time.Time `json:"recorded_at"`
}

// Balance is the derived points position of a patient. Available is always
// Earned minus Redeemed; it is recomputed from the log, never stored.
type Balance struct {
	Earned    int `json:"earned"`
	Redeemed  int `json:"redeemed"`
	Available int `json:"available"`
}

type AdminUser struct {
	ID        string
	Username  string
	PassHash  []byte
	CreatedAt time.Time
}
