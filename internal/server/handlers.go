package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/services"
	"github.com/desertthunder/cadenza/internal/shared"
)

const maxBodyBytes = 1 << 20

// UserResolver maps a request's bearer token to a user id (services.AuthService).
type UserResolver interface {
	ResolveUser(ctx context.Context, accessToken, fallback string) (string, error)
}

// API serves the practice and goal services as JSON.
//
// Every response body is a services.Result. The HTTP status follows the result's code.
type API struct {
	practice     *services.PracticeService
	goals        *services.GoalService
	users        UserResolver
	fallbackUser string
	logger       *log.Logger
	now          func() time.Time
}

// NewAPI creates the API. users may be nil, in which case every request acts as fallbackUser.
func NewAPI(practice *services.PracticeService, goals *services.GoalService, users UserResolver, fallbackUser string, logger *log.Logger) *API {
	return &API{
		practice:     practice,
		goals:        goals,
		users:        users,
		fallbackUser: fallbackUser,
		logger:       shared.WithLogger(logger, "component", "api"),
		now:          time.Now,
	}
}

// SetClock replaces the clock used for the default calendar month.
func (a *API) SetClock(now func() time.Time) { a.now = now }

// Register mounts every route on r.
func (a *API) Register(r *BasicRouter) {
	r.HandleFunc(http.MethodGet, "/health", a.health)
	r.HandleFunc(http.MethodPost, "/api/practice", a.savePractice)
	r.HandleFunc(http.MethodGet, "/api/practice", a.listPractice)
	r.HandleFunc(http.MethodGet, "/api/calendar", a.calendar)
	r.HandleFunc(http.MethodGet, "/api/goals", a.listGoals)
	r.HandleFunc(http.MethodPost, "/api/goals", a.createGoal)
	r.HandleFunc(http.MethodPost, "/api/goals/complete", a.completeGoal)
	r.HandleFunc(http.MethodGet, "/api/capabilities", a.capabilities)
}

// NewRouter builds a router with the standard middleware and every API route.
func NewRouter(api *API, logger *log.Logger) *BasicRouter {
	r := NewBasicRouter()
	r.Use(Recover(logger), Logging(logger))
	api.Register(r)
	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) savePractice(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}

	var req services.SaveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.UserID = user

	writeResult(w, a.practice.Save(r.Context(), req))
}

func (a *API) listPractice(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	writeResult(w, a.practice.List(r.Context(), user, q.Get("from"), q.Get("to")))
}

// calendar returns practice totals for ?month=YYYY-MM with the month's calendar goals attached.
func (a *API) calendar(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}

	month := r.URL.Query().Get("month")
	if month == "" {
		month = a.now().Format("2006-01")
	}

	res := a.practice.Calendar(r.Context(), user, month)
	if !res.Success {
		writeResult(w, res)
		return
	}

	goals := a.goals.CalendarGoals(r.Context(), user, month)
	switch {
	case goals.Success:
		res.Data.Goals = goals.Data
	default:
		res.Warning = "calendar goals unavailable: " + goals.Error
	}
	writeResult(w, res)
}

func (a *API) listGoals(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := models.GoalFilter{
		InstrumentID:     q.Get("instrument"),
		IncludeCompleted: queryBool(q.Get("include_completed")),
		CalendarOnly:     queryBool(q.Get("calendar")),
	}

	writeResult(w, a.goals.List(r.Context(), user, filter))
}

func (a *API) createGoal(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}

	var g models.Goal
	if !decodeBody(w, r, &g) {
		return
	}
	g.UserID = user

	writeResult(w, a.goals.Create(r.Context(), &g))
}

type completeRequest struct {
	ID        string `json:"id"`
	Completed *bool  `json:"completed,omitempty"`
}

func (a *API) completeGoal(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.user(w, r); !ok {
		return
	}

	var req completeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, shared.CodeInvalidInput, "id is required")
		return
	}

	done := true
	if req.Completed != nil {
		done = *req.Completed
	}
	writeResult(w, a.goals.Complete(r.Context(), req.ID, done))
}

func (a *API) capabilities(w http.ResponseWriter, r *http.Request) {
	writeResult(w, a.goals.Capabilities(r.Context()))
}

// user resolves the caller, writing a 401 when there is neither a session nor a fallback user.
func (a *API) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if a.users == nil || token == "" {
		if a.fallbackUser == "" {
			writeError(w, http.StatusUnauthorized, "not_authenticated", shared.ErrNotAuthenticated.Error())
			return "", false
		}
		return a.fallbackUser, true
	}

	user, err := a.users.ResolveUser(r.Context(), token, a.fallbackUser)
	if err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) {
			writeError(w, http.StatusUnauthorized, "not_authenticated", err.Error())
			return "", false
		}
		a.logger.Error("session lookup failed", "error", err)
		writeError(w, statusFor(shared.ErrorCode(err), false), shared.ErrorCode(err), err.Error())
		return "", false
	}
	return user, true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func queryBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, shared.CodeInvalidInput, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeResult[T any](w http.ResponseWriter, res services.Result[T]) {
	writeJSON(w, statusFor(res.Code, res.Success), res)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, services.Result[any]{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a result code onto an HTTP status.
func statusFor(code string, success bool) int {
	if success {
		if code == shared.CodeQueuedOffline {
			return http.StatusAccepted
		}
		return http.StatusOK
	}

	switch code {
	case shared.CodeInvalidInput:
		return http.StatusBadRequest
	case shared.CodeNotFound:
		return http.StatusNotFound
	case shared.CodeOwnershipConflict:
		return http.StatusConflict
	case shared.CodeNonRetryable:
		return http.StatusUnprocessableEntity
	case shared.CodeTransient, shared.CodeFeatureUnavailable:
		return http.StatusServiceUnavailable
	case shared.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
