package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/prernalabs/carepoints/internal/identity"
	"github.com/prernalabs/carepoints/internal/middleware"
)

type okProvider struct{}

func (okProvider) SendOTP(email string) error { return nil }
func (okProvider) VerifyOTP(email, code string) error {
	if code != "424242" {
		return identity.ErrInvalidCode
	}
	return nil
}

func newTestHandler() http.Handler {
	mux := http.NewServeMux()
	NewRouter(NewMemoryStore(), okProvider{}, zerolog.Nop()).Register(mux)
	return middleware.WithAuth(mux)
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func adminToken(t *testing.T, h http.Handler) string {
	t.Helper()
	if rec := do(t, h, http.MethodPost, "/api/admin/register", "", map[string]string{
		"username": "admin", "password": "Secret123!pass",
	}); rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body = %s", rec.Code, rec.Body.String())
	}
	rec := do(t, h, http.MethodPost, "/api/admin/login", "", map[string]string{
		"username": "admin", "password": "Secret123!pass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out.Token == "" {
		t.Fatalf("login body = %s", rec.Body.String())
	}
	return out.Token
}

func TestAdminOnlyRoutesRejectAnonymous(t *testing.T) {
	h := newTestHandler()
	for _, c := range []struct {
		method, path string
	}{
		{http.MethodPost, "/api/forms"},
		{http.MethodPost, "/api/questions"},
		{http.MethodPost, "/api/redemptions"},
		{http.MethodGet, "/api/analytics/summary"},
		{http.MethodGet, "/api/patients"},
	} {
		rec := do(t, h, c.method, c.path, "", map[string]string{})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d", c.method, c.path, rec.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler()
	rec := do(t, h, http.MethodDelete, "/api/completions", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestHandler()
	token := adminToken(t, h)

	// unknown patient on redemption maps to 404
	rec := do(t, h, http.MethodPost, "/api/redemptions", token, map[string]any{
		"patient_id": "missing", "amount_money": 10, "conversion_rate": 1, "reason": "x",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	// invalid payload maps to 400
	rec = do(t, h, http.MethodPost, "/api/forms", token, map[string]any{"name": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	// bad OTP maps to 401
	rec = do(t, h, http.MethodPost, "/api/register/verify", "", map[string]string{
		"email": "p@example.com", "code": "000000",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestFormLifecycle(t *testing.T) {
	h := newTestHandler()
	token := adminToken(t, h)

	rec := do(t, h, http.MethodPost, "/api/forms", token, map[string]any{"name": "Intake", "position": 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var form struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &form)

	rec = do(t, h, http.MethodPut, "/api/forms/"+form.ID, token, map[string]any{"name": "Intake v2", "position": 1})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Intake v2") {
		t.Fatalf("update status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/forms", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), form.ID) {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/api/forms/"+form.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/api/forms/"+form.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func TestPatientHospitalIDAssignment(t *testing.T) {
	h := newTestHandler()
	token := adminToken(t, h)

	if rec := do(t, h, http.MethodPost, "/api/register/otp", "", map[string]string{"email": "p@example.com"}); rec.Code != http.StatusOK {
		t.Fatalf("otp status = %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/register/verify", "", map[string]string{"email": "p@example.com", "code": "424242"})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}
	var patient struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &patient)

	// assignment requires admin
	rec = do(t, h, http.MethodPost, "/api/patients/"+patient.ID+"/hospital-id", "", map[string]string{"hospital_id": "UH-1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous assign status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/patients/"+patient.ID+"/hospital-id", token, map[string]string{"hospital_id": "UH-1"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "UH-1") {
		t.Fatalf("assign status = %d body = %s", rec.Code, rec.Body.String())
	}

	// lookup by email returns the patient
	rec = do(t, h, http.MethodGet, "/api/patients/lookup?identifier=p%40example.com", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), patient.ID) {
		t.Fatalf("lookup status = %d", rec.Code)
	}
}
