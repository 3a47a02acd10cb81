package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/prernalabs/carepoints/internal/api"
	"github.com/prernalabs/carepoints/internal/services"
)

// SQLiteStore persists the survey and ledger state in a single SQLite file.
// Timestamps are stored as RFC3339Nano TEXT in UTC.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func NewStore(db *sql.DB) (api.Store, error) {
	return NewSQLiteStore(db)
}

var _ api.Store = (*SQLiteStore)(nil)

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func encodeOptions(o services.QuestionOptions) (sql.NullString, error) {
	if len(o.Choices) == 0 && o.Likert == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeOptions(ns sql.NullString) (services.QuestionOptions, error) {
	var o services.QuestionOptions
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return o, nil
	}
	if err := json.Unmarshal([]byte(ns.String), &o); err != nil {
		return o, fmt.Errorf("decode question options: %w", err)
	}
	return o, nil
}

const patientCols = "id, email, COALESCE(display_name, ''), legacy_code, COALESCE(hospital_id, ''), created_at"

func scanPatient(row *sql.Row) (*services.Patient, error) {
	var p services.Patient
	var createdAt string
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.LegacyCode, &p.HospitalID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *SQLiteStore) GetPatient(id string) (*services.Patient, error) {
	return scanPatient(s.db.QueryRow("SELECT "+patientCols+" FROM patients WHERE id = ?", id))
}

func (s *SQLiteStore) GetPatientByEmail(email string) (*services.Patient, error) {
	return scanPatient(s.db.QueryRow("SELECT "+patientCols+" FROM patients WHERE email = ?", email))
}

func (s *SQLiteStore) GetPatientByLegacyCode(code string) (*services.Patient, error) {
	return scanPatient(s.db.QueryRow("SELECT "+patientCols+" FROM patients WHERE legacy_code = ?", code))
}

func (s *SQLiteStore) CreatePatient(p *services.Patient) error {
	_, err := s.db.Exec(
		"INSERT INTO patients (id, email, display_name, legacy_code, hospital_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, p.Email, toNullString(p.DisplayName), p.LegacyCode, toNullString(p.HospitalID), fmtTime(p.CreatedAt),
	)
	if isUniqueViolation(err) {
		return services.NewConflictError("email already registered")
	}
	return err
}

func (s *SQLiteStore) UpdatePatientHospitalID(patientID, hospitalID string) (*services.Patient, error) {
	res, err := s.db.Exec("UPDATE patients SET hospital_id = ? WHERE id = ?", hospitalID, patientID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return s.GetPatient(patientID)
}

func (s *SQLiteStore) ListPatients() ([]*services.Patient, error) {
	rows, err := s.db.Query("SELECT " + patientCols + " FROM patients ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Patient
	for rows.Next() {
		var p services.Patient
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Email, &p.DisplayName, &p.LegacyCode, &p.HospitalID, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(createdAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListForms() ([]*services.SurveyForm, error) {
	rows, err := s.db.Query("SELECT id, name, COALESCE(description, ''), position FROM forms ORDER BY position, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.SurveyForm
	for rows.Next() {
		var f services.SurveyForm
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.Position); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetForm(id string) (*services.SurveyForm, error) {
	var f services.SurveyForm
	err := s.db.QueryRow("SELECT id, name, COALESCE(description, ''), position FROM forms WHERE id = ?", id).
		Scan(&f.ID, &f.Name, &f.Description, &f.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStore) CreateForm(f *services.SurveyForm) error {
	_, err := s.db.Exec(
		"INSERT INTO forms (id, name, description, position) VALUES (?, ?, ?, ?)",
		f.ID, f.Name, toNullString(f.Description), f.Position,
	)
	return err
}

func (s *SQLiteStore) UpdateForm(f *services.SurveyForm) (*services.SurveyForm, error) {
	res, err := s.db.Exec(
		"UPDATE forms SET name = ?, description = ?, position = ? WHERE id = ?",
		f.Name, toNullString(f.Description), f.Position, f.ID,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return f, nil
}

func (s *SQLiteStore) DeleteForm(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM forms WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const questionCols = "id, form_id, text, type, options, position"

func (s *SQLiteStore) ListQuestions(formID string) ([]*services.Question, error) {
	rows, err := s.db.Query("SELECT "+questionCols+" FROM questions WHERE form_id = ? ORDER BY position, id", formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func scanQuestion(rows *sql.Rows) (*services.Question, error) {
	var q services.Question
	var opts sql.NullString
	if err := rows.Scan(&q.ID, &q.FormID, &q.Text, &q.Type, &opts, &q.Position); err != nil {
		return nil, err
	}
	decoded, err := decodeOptions(opts)
	if err != nil {
		return nil, err
	}
	q.Options = decoded
	return &q, nil
}

func (s *SQLiteStore) GetQuestion(id string) (*services.Question, error) {
	var q services.Question
	var opts sql.NullString
	err := s.db.QueryRow("SELECT "+questionCols+" FROM questions WHERE id = ?", id).
		Scan(&q.ID, &q.FormID, &q.Text, &q.Type, &opts, &q.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	decoded, err := decodeOptions(opts)
	if err != nil {
		return nil, err
	}
	q.Options = decoded
	return &q, nil
}

func (s *SQLiteStore) CreateQuestion(q *services.Question) error {
	opts, err := encodeOptions(q.Options)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO questions (id, form_id, text, type, options, position) VALUES (?, ?, ?, ?, ?, ?)",
		q.ID, q.FormID, q.Text, string(q.Type), opts, q.Position,
	)
	return err
}

func (s *SQLiteStore) UpdateQuestion(q *services.Question) (*services.Question, error) {
	opts, err := encodeOptions(q.Options)
	if err != nil {
		return nil, err
	}
	res, err := s.db.Exec(
		"UPDATE questions SET text = ?, type = ?, options = ?, position = ? WHERE id = ?",
		q.Text, string(q.Type), opts, q.Position, q.ID,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return s.GetQuestion(q.ID)
}

func (s *SQLiteStore) DeleteQuestion(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM questions WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const completionCols = "id, patient_id, form_id, response_set_id, completed_at"

func (s *SQLiteStore) LatestCompletion(patientID, formID string) (*services.Completion, error) {
	return latestCompletion(s.db, patientID, formID)
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func latestCompletion(q queryRower, patientID, formID string) (*services.Completion, error) {
	var c services.Completion
	var completedAt string
	err := q.QueryRow(
		"SELECT "+completionCols+" FROM completions WHERE patient_id = ? AND form_id = ? ORDER BY completed_at DESC LIMIT 1",
		patientID, formID,
	).Scan(&c.ID, &c.PatientID, &c.FormID, &c.ResponseSetID, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CompletedAt = parseTime(completedAt)
	return &c, nil
}

// RecordCompletion re-checks the cooldown and writes the completion, its
// response rows, and the EARN entry in one transaction. The UNIQUE
// linked_completion_id constraint is the final guard against rewarding the
// same completion twice.
func (s *SQLiteStore) RecordCompletion(c *services.Completion, rows []*services.ResponseRow, earn *services.LedgerEntry, cutoff time.Time) (*services.Completion, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	latest, err := latestCompletion(tx, c.PatientID, c.FormID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.CompletedAt.After(cutoff) {
		return latest, nil
	}

	if _, err := tx.Exec(
		"INSERT INTO completions (id, patient_id, form_id, response_set_id, completed_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.PatientID, c.FormID, c.ResponseSetID, fmtTime(c.CompletedAt),
	); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if _, err := tx.Exec(
			"INSERT INTO responses (completion_id, question_id, answer, answered_at) VALUES (?, ?, ?, ?)",
			row.CompletionID, row.QuestionID, row.Answer, fmtTime(row.AnsweredAt),
		); err != nil {
			return nil, err
		}
	}
	if err := insertEntry(tx, earn); err != nil {
		return nil, err
	}
	return nil, tx.Commit()
}

func (s *SQLiteStore) ListCompletions() ([]*services.Completion, error) {
	rows, err := s.db.Query("SELECT " + completionCols + " FROM completions ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Completion
	for rows.Next() {
		var c services.Completion
		var completedAt string
		if err := rows.Scan(&c.ID, &c.PatientID, &c.FormID, &c.ResponseSetID, &completedAt); err != nil {
			return nil, err
		}
		c.CompletedAt = parseTime(completedAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListResponsesByQuestion(questionID string) ([]*services.ResponseRow, error) {
	rows, err := s.db.Query(
		"SELECT completion_id, question_id, answer, answered_at FROM responses WHERE question_id = ? ORDER BY rowid",
		questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.ResponseRow
	for rows.Next() {
		var r services.ResponseRow
		var answeredAt string
		if err := rows.Scan(&r.CompletionID, &r.QuestionID, &r.Answer, &answeredAt); err != nil {
			return nil, err
		}
		r.AnsweredAt = parseTime(answeredAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertEntry(e execer, entry *services.LedgerEntry) error {
	_, err := e.Exec(
		`INSERT INTO ledger_entries
		 (id, patient_id, kind, points_earned, points_redeemed, money_equivalent, redemption_type, redemption_reason, linked_completion_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.PatientID, string(entry.Kind), entry.PointsEarned, entry.PointsRedeemed, entry.MoneyEquivalent,
		toNullString(entry.RedemptionType), toNullString(entry.RedemptionReason), toNullString(entry.LinkedCompletionID), fmtTime(entry.RecordedAt),
	)
	if isUniqueViolation(err) {
		return services.NewConflictError("completion already rewarded")
	}
	return err
}

func (s *SQLiteStore) AppendEntry(e *services.LedgerEntry) (*services.LedgerEntry, error) {
	if err := insertEntry(s.db, e); err != nil {
		return nil, err
	}
	return e, nil
}

const entryCols = "id, patient_id, kind, points_earned, points_redeemed, money_equivalent, COALESCE(redemption_type, ''), COALESCE(redemption_reason, ''), COALESCE(linked_completion_id, ''), recorded_at"

func scanEntries(rows *sql.Rows) ([]*services.LedgerEntry, error) {
	var out []*services.LedgerEntry
	for rows.Next() {
		var e services.LedgerEntry
		var kind, recordedAt string
		if err := rows.Scan(&e.ID, &e.PatientID, &kind, &e.PointsEarned, &e.PointsRedeemed, &e.MoneyEquivalent,
			&e.RedemptionType, &e.RedemptionReason, &e.LinkedCompletionID, &recordedAt); err != nil {
			return nil, err
		}
		e.Kind = services.EntryKind(kind)
		e.RecordedAt = parseTime(recordedAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListEntriesByPatient(patientID string) ([]*services.LedgerEntry, error) {
	rows, err := s.db.Query("SELECT "+entryCols+" FROM ledger_entries WHERE patient_id = ? ORDER BY rowid", patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) ListAllEntries() ([]*services.LedgerEntry, error) {
	rows, err := s.db.Query("SELECT " + entryCols + " FROM ledger_entries ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// AppendRedemption computes the balance and inserts the REDEEM entry in one
// transaction, so two concurrent redemptions cannot both observe the same
// balance and over-deduct.
func (s *SQLiteStore) AppendRedemption(e *services.LedgerEntry) (int, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var available int
	if err := tx.QueryRow(
		"SELECT COALESCE(SUM(points_earned - points_redeemed), 0) FROM ledger_entries WHERE patient_id = ?",
		e.PatientID,
	).Scan(&available); err != nil {
		return 0, false, err
	}
	if available < e.PointsRedeemed {
		return available, false, nil
	}
	if err := insertEntry(tx, e); err != nil {
		return available, false, err
	}
	return available, true, tx.Commit()
}

func (s *SQLiteStore) GetAdminByUsername(username string) (*services.AdminUser, error) {
	var u services.AdminUser
	var createdAt string
	err := s.db.QueryRow("SELECT id, username, pass_hash, created_at FROM admin_users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &u.PassHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (s *SQLiteStore) CreateAdmin(u *services.AdminUser) error {
	_, err := s.db.Exec(
		"INSERT INTO admin_users (id, username, pass_hash, created_at) VALUES (?, ?, ?, ?)",
		u.ID, u.Username, u.PassHash, fmtTime(u.CreatedAt),
	)
	if isUniqueViolation(err) {
		return services.NewConflictError("username taken")
	}
	return err
}

func (s *SQLiteStore) CountAdmins() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM admin_users").Scan(&n)
	return n, err
}
