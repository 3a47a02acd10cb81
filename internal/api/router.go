package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prernalabs/carepoints/internal/identity"
	"github.com/prernalabs/carepoints/internal/middleware"
	"github.com/prernalabs/carepoints/internal/services"
	"github.com/prernalabs/carepoints/internal/utils"
)

// Router wires the HTTP surface to the services. Admin-only handlers check
// the auth claims attached by middleware.WithAuth.
type Router struct {
	store        Store
	log          zerolog.Logger
	registration *services.RegistrationService
	forms        *services.FormService
	completions  *services.CompletionService
	ledger       *services.LedgerService
	redemptions  *services.RedemptionService
	analytics    *services.AnalyticsService
	admins       *services.AdminService

	conversionRate int
}

func NewRouter(store Store, provider identity.Provider, log zerolog.Logger) *Router {
	return &Router{
		store:          store,
		log:            log,
		registration:   services.NewRegistrationService(store, provider),
		forms:          services.NewFormService(store),
		completions:    services.NewCompletionService(store),
		ledger:         services.NewLedgerService(store),
		redemptions:    services.NewRedemptionService(store),
		analytics:      services.NewAnalyticsService(store),
		admins:         services.NewAdminService(store, middleware.SignToken),
		conversionRate: utils.SafeEnvInt("CAREPOINTS_CONVERSION_RATE", 10),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/register/otp", rt.handleRequestOTP)        // POST
	mux.HandleFunc("/api/register/verify", rt.handleVerifyOTP)      // POST
	mux.HandleFunc("/api/patients/lookup", rt.handleLookup)         // GET
	mux.HandleFunc("/api/patients/recover-code", rt.handleRecover)  // POST
	mux.HandleFunc("/api/patients", rt.handlePatients)              // GET (admin)
	mux.HandleFunc("/api/patients/", rt.handlePatientScoped)        // GET {id}/points, POST {id}/hospital-id
	mux.HandleFunc("/api/forms", rt.handleForms)                    // GET, POST (admin)
	mux.HandleFunc("/api/forms/", rt.handleFormScoped)              // PUT/DELETE {id}, GET {id}/questions
	mux.HandleFunc("/api/questions", rt.handleQuestions)            // POST (admin)
	mux.HandleFunc("/api/questions/", rt.handleQuestionScoped)      // PUT/DELETE {id} (admin)
	mux.HandleFunc("/api/completions", rt.handleCompletions)        // POST
	mux.HandleFunc("/api/completions/eligibility", rt.handleEligibility) // GET
	mux.HandleFunc("/api/redemptions", rt.handleRedemptions)        // POST (admin)
	mux.HandleFunc("/api/analytics/summary", rt.handleSummary)      // GET (admin)
	mux.HandleFunc("/api/analytics/distribution", rt.handleDistribution) // GET (admin)
	mux.HandleFunc("/api/admin/register", rt.handleAdminRegister)   // POST
	mux.HandleFunc("/api/admin/login", rt.handleAdminLogin)         // POST
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps service errors to HTTP statuses with a JSON body.
func (rt *Router) writeErr(w http.ResponseWriter, err error) {
	var cooldown *services.CooldownActiveError
	if errors.As(err, &cooldown) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":             "cooldown_active",
			"message":           cooldown.Error(),
			"remaining_seconds": int(cooldown.Remaining.Seconds()),
		})
		return
	}
	var balance *services.InsufficientBalanceError
	if errors.As(err, &balance) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "insufficient_balance",
			"message":   balance.Error(),
			"available": balance.Available,
			"requested": balance.Requested,
		})
		return
	}
	if se, ok := services.AsServiceError(err); ok {
		status := http.StatusInternalServerError
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case services.ErrorForbidden:
			status = http.StatusForbidden
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorTooManyRequests:
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, map[string]any{"error": string(se.Code), "message": se.Message})
		return
	}
	rt.log.Error().Err(err).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal", "message": "internal error"})
}

func (rt *Router) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := middleware.AdminFromContext(r.Context()); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized", "message": "admin token required"})
		return false
	}
	return true
}

// POST /api/register/otp
func (rt *Router) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := rt.registration.RequestOTP(req.Email); err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// POST /api/register/verify
func (rt *Router) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := rt.registration.VerifyOTP(req.Email, req.Code)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/patients/lookup?identifier=xx (email or legacy code)
func (rt *Router) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := rt.registration.Lookup(r.URL.Query().Get("identifier"))
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// POST /api/patients/recover-code
func (rt *Router) handleRecover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	code, err := rt.registration.RecoverLegacyCode(req.Email)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"legacy_code": code})
}

// GET /api/patients (admin)
func (rt *Router) handlePatients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !rt.requireAdmin(w, r) {
		return
	}
	patients, err := rt.store.ListPatients()
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": patients})
}

// GET /api/patients/{id}/points, POST /api/patients/{id}/hospital-id (admin)
func (rt *Router) handlePatientScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/patients/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	switch parts[1] {
	case "points":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rt.handlePoints(w, r, id)
	case "hospital-id":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !rt.requireAdmin(w, r) {
			return
		}
		var req struct {
			HospitalID string `json:"hospital_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p, err := rt.registration.AssignHospitalID(id, req.HospitalID)
		if err != nil {
			rt.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handlePoints(w http.ResponseWriter, r *http.Request, patientID string) {
	p, err := rt.store.GetPatient(patientID)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	if p == nil {
		rt.writeErr(w, services.NewNotFoundError("patient not found"))
		return
	}
	balance, err := rt.ledger.ComputeBalance(patientID)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	history, err := rt.ledger.History(patientID)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance, "history": history})
}

// GET /api/forms, POST /api/forms (admin)
func (rt *Router) handleForms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		forms, err := rt.forms.ListForms()
		if err != nil {
			rt.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"forms": forms})
	case http.MethodPost:
		if !rt.requireAdmin(w, r) {
			return
		}
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Position    int    `json:"position"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, err := rt.forms.CreateForm(req.Name, req.Description, req.Position)
		if err != nil {
			rt.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, f)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// PUT/DELETE /api/forms/{id} (admin), GET /api/forms/{id}/questions
func (rt *Router) handleFormScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/forms/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 && parts[1] == "questions" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		questions, err := rt.forms.ListQuestions(id)
		if err != nil {
			rt.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"form_id": id, "questions": questions})
		return
	}
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		f, err := rt.forms.GetForm(id)
		if err != nil {
			rt.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	case http.MethodPut:
		if !rt.requireAdmin(w, r) {
			return
		}
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Position    int    `json:"position"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, err := rt.forms.UpdateForm(id, req.Name, req.Description, req.Position)
		if err != nil {
			rt.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	case http.MethodDelete:
		if !rt.requireAdmin(w, r) {
			return
		}
		if err := rt.forms.DeleteForm(id); err != nil {
			rt.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type questionRequest struct {
	FormID   string                   `json:"form_id"`
	Text     string                   `json:"text"`
	Type     services.QuestionType    `json:"type"`
	Options  services.QuestionOptions `json:"options"`
	Position int                      `json:"position"`
}

// POST /api/questions (admin)
func (rt *Router) handleQuestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !rt.requireAdmin(w, r) {
		return
	}
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q, err := rt.forms.CreateQuestion(req.FormID, req.Text, req.Type, req.Options, req.Position)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// PUT/DELETE /api/questions/{id} (admin)
func (rt *Router) handleQuestionScoped(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/questions/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if !rt.requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req questionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q, err := rt.forms.UpdateQuestion(id, req.Text, req.Type, req.Options, req.Position)
		if err != nil {
			rt.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	case http.MethodDelete:
		if err := rt.forms.DeleteQuestion(id); err != nil {
			rt.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/completions
func (rt *Router) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PatientID string            `json:"patient_id"`
		FormID    string            `json:"form_id"`
		Answers   []services.Answer `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.completions.RecordCompletion(req.PatientID, req.FormID, req.Answers, time.Now().UTC())
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GET /api/completions/eligibility?patient_id=xx&form_id=yy
func (rt *Router) handleEligibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ok, remaining, err := rt.completions.CanComplete(r.URL.Query().Get("patient_id"), r.URL.Query().Get("form_id"), time.Now().UTC())
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"eligible":          ok,
		"remaining_seconds": int(remaining.Seconds()),
	})
}

// POST /api/redemptions (admin)
func (rt *Router) handleRedemptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !rt.requireAdmin(w, r) {
		return
	}
	var req struct {
		PatientID      string `json:"patient_id"`
		AmountMoney    int    `json:"amount_money"`
		RedemptionType string `json:"redemption_type"`
		Reason         string `json:"reason"`
		ConversionRate int    `json:"conversion_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rate := req.ConversionRate
	if rate == 0 {
		rate = rt.conversionRate
	}
	res, err := rt.redemptions.Redeem(req.PatientID, req.AmountMoney, req.RedemptionType, req.Reason, rate, time.Now().UTC())
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GET /api/analytics/summary (admin)
func (rt *Router) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !rt.requireAdmin(w, r) {
		return
	}
	totals, err := rt.analytics.Totals()
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// GET /api/analytics/distribution?form_id=xx&question_id=yy (admin)
func (rt *Router) handleDistribution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !rt.requireAdmin(w, r) {
		return
	}
	dist, err := rt.analytics.Distribution(r.URL.Query().Get("form_id"), r.URL.Query().Get("question_id"))
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

// POST /api/admin/register, open only until the first admin exists
func (rt *Router) handleAdminRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	u, err := rt.admins.Register(req.Username, req.Password)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": u.ID, "username": u.Username})
}

// POST /api/admin/login
func (rt *Router) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	session, err := rt.admins.Login(req.Username, req.Password)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
