package api

import (
	"testing"
	"time"

	"github.com/prernalabs/carepoints/internal/services"
)

func seedPatient(t *testing.T, s Store, id string) {
	t.Helper()
	err := s.CreatePatient(&services.Patient{
		ID: id, Email: id + "@example.com", LegacyCode: "LC" + id, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
}

func TestMemoryStoreRecordCompletionConflict(t *testing.T) {
	s := newMemoryStore()
	seedPatient(t, s, "P1")
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-180 * 24 * time.Hour)

	first := &services.Completion{ID: "C1", PatientID: "P1", FormID: "F1", CompletedAt: now}
	earn1 := &services.LedgerEntry{ID: "E1", PatientID: "P1", Kind: services.EntryEarn, PointsEarned: 20, LinkedCompletionID: "C1", RecordedAt: now}
	conflict, err := s.RecordCompletion(first, nil, earn1, cutoff)
	if err != nil || conflict != nil {
		t.Fatalf("first record: conflict=%+v err=%v", conflict, err)
	}

	second := &services.Completion{ID: "C2", PatientID: "P1", FormID: "F1", CompletedAt: now.Add(time.Hour)}
	earn2 := &services.LedgerEntry{ID: "E2", PatientID: "P1", Kind: services.EntryEarn, PointsEarned: 20, LinkedCompletionID: "C2", RecordedAt: now}
	conflict, err = s.RecordCompletion(second, nil, earn2, now.Add(time.Hour).Add(-180*24*time.Hour))
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if conflict == nil || conflict.ID != "C1" {
		t.Fatalf("conflict = %+v", conflict)
	}

	entries, _ := s.ListEntriesByPatient("P1")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, second attempt must not write", len(entries))
	}
}

func TestMemoryStoreDuplicateLinkedCompletion(t *testing.T) {
	s := newMemoryStore()
	seedPatient(t, s, "P1")
	e := &services.LedgerEntry{ID: "E1", PatientID: "P1", Kind: services.EntryEarn, PointsEarned: 10, LinkedCompletionID: "C1"}
	if _, err := s.AppendEntry(e); err != nil {
		t.Fatalf("append: %v", err)
	}
	dup := &services.LedgerEntry{ID: "E2", PatientID: "P1", Kind: services.EntryEarn, PointsEarned: 10, LinkedCompletionID: "C1"}
	if _, err := s.AppendEntry(dup); err == nil {
		t.Fatal("expected conflict for duplicate linked completion")
	}
}

func TestMemoryStoreAppendRedemption(t *testing.T) {
	s := newMemoryStore()
	seedPatient(t, s, "P1")
	_, _ = s.AppendEntry(&services.LedgerEntry{ID: "E1", PatientID: "P1", Kind: services.EntryEarn, PointsEarned: 50})

	available, ok, err := s.AppendRedemption(&services.LedgerEntry{ID: "R1", PatientID: "P1", Kind: services.EntryRedeem, PointsRedeemed: 30})
	if err != nil || !ok || available != 50 {
		t.Fatalf("redeem: available=%d ok=%v err=%v", available, ok, err)
	}

	available, ok, err = s.AppendRedemption(&services.LedgerEntry{ID: "R2", PatientID: "P1", Kind: services.EntryRedeem, PointsRedeemed: 30})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if ok || available != 20 {
		t.Fatalf("expected refusal at 20 available, got ok=%v available=%d", ok, available)
	}
}

func TestMemoryStoreDeleteFormKeepsHistory(t *testing.T) {
	s := newMemoryStore()
	seedPatient(t, s, "P1")
	_ = s.CreateForm(&services.SurveyForm{ID: "F1", Name: "Intake"})
	_ = s.CreateQuestion(&services.Question{ID: "Q1", FormID: "F1", Text: "x", Type: services.QuestionShortAnswer})

	now := time.Now()
	c := &services.Completion{ID: "C1", PatientID: "P1", FormID: "F1", CompletedAt: now}
	earn := &services.LedgerEntry{ID: "E1", PatientID: "P1", Kind: services.EntryEarn, PointsEarned: 10, LinkedCompletionID: "C1", RecordedAt: now}
	if _, err := s.RecordCompletion(c, []*services.ResponseRow{{CompletionID: "C1", QuestionID: "Q1", Answer: "fine", AnsweredAt: now}}, earn, now.Add(-time.Hour)); err != nil {
		t.Fatalf("record: %v", err)
	}

	ok, err := s.DeleteForm("F1")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if qs, _ := s.ListQuestions("F1"); len(qs) != 0 {
		t.Fatal("questions survived form deletion")
	}
	if cs, _ := s.ListCompletions(); len(cs) != 1 {
		t.Fatal("completions must survive form deletion")
	}
	if entries, _ := s.ListEntriesByPatient("P1"); len(entries) != 1 {
		t.Fatal("ledger must survive form deletion")
	}
}
