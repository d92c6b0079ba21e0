package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/cadenza/internal/backend"
	"github.com/desertthunder/cadenza/internal/capability"
	"github.com/desertthunder/cadenza/internal/repositories"
	"github.com/desertthunder/cadenza/internal/services"
	"github.com/desertthunder/cadenza/internal/shared"
	tu "github.com/desertthunder/cadenza/internal/testing"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Warning string          `json:"warning"`
}

type stubUsers struct {
	users map[string]string
	err   error
}

func (s *stubUsers) ResolveUser(_ context.Context, token, fallback string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if u, ok := s.users[token]; ok {
		return u, nil
	}
	if fallback == "" {
		return "", shared.ErrNotAuthenticated
	}
	return fallback, nil
}

type apiFixture struct {
	db     *sql.DB
	client *tu.RecordingClient
	server *httptest.Server
}

func setupAPI(t *testing.T, users UserResolver, fallback string) *apiFixture {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	logger := shared.NewLogger(io.Discard)
	client := tu.NewRecordingClient(backend.NewSQLite(db))
	clock := tu.NewClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local))

	practiceRepo := repositories.NewPracticeRepository(client, logger)
	practiceRepo.SetClock(clock.Now)
	practice := services.NewPracticeService(practiceRepo, repositories.NewPendingRepository(db), logger)
	practice.SetClock(clock.Now)

	prober := capability.NewProber(client, repositories.NewSettingsRepository(db), repositories.GoalsTable, logger)
	goals := services.NewGoalService(repositories.NewGoalRepository(client, prober, logger), logger)

	api := NewAPI(practice, goals, users, fallback, logger)
	api.SetClock(clock.Now)

	srv := httptest.NewServer(NewRouter(api, logger))
	t.Cleanup(srv.Close)

	return &apiFixture{db: db, client: client, server: srv}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.StatusCode, env
}

func TestAPI(t *testing.T) {
	t.Run("Health", func(t *testing.T) {
		f := setupAPI(t, nil, "local")

		resp, err := http.Get(f.server.URL + "/health")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("Save Merges Into Day", func(t *testing.T) {
		f := setupAPI(t, nil, "local")

		status, env := f.do(t, http.MethodPost, "/api/practice", "", map[string]any{"minutes": 30, "content": "scales"})
		if status != http.StatusOK || !env.Success {
			t.Fatalf("first save failed: %d %+v", status, env)
		}

		status, env = f.do(t, http.MethodPost, "/api/practice", "", map[string]any{"minutes": 15, "content": "etude"})
		if status != http.StatusOK {
			t.Fatalf("second save failed: %d %+v", status, env)
		}

		var res repositories.IntegrationResult
		if err := json.Unmarshal(env.Data, &res); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if !res.Merged || res.Record.DurationMinutes != 45 || res.Record.UserID != "local" || res.Record.PracticeDate != "2024-05-10" {
			t.Errorf("unexpected merge result %+v", res.Record)
		}

		status, env = f.do(t, http.MethodGet, "/api/practice?from=2024-05-01&to=2024-05-31", "", nil)
		if status != http.StatusOK || !strings.Contains(string(env.Data), `"duration_minutes":45`) {
			t.Errorf("unexpected list %d %s", status, env.Data)
		}
	})

	t.Run("Bearer Token Selects User", func(t *testing.T) {
		f := setupAPI(t, &stubUsers{users: map[string]string{"tok": "u-42"}}, "")

		status, env := f.do(t, http.MethodPost, "/api/practice", "tok", map[string]any{"minutes": 10, "user_id": "someone-else"})
		if status != http.StatusOK {
			t.Fatalf("save failed: %d %+v", status, env)
		}
		if !strings.Contains(string(env.Data), `"user_id":"u-42"`) {
			t.Errorf("body user id must be ignored, got %s", env.Data)
		}

		status, env = f.do(t, http.MethodGet, "/api/practice", "", nil)
		if status != http.StatusUnauthorized || env.Code != "not_authenticated" {
			t.Errorf("expected 401 without token or fallback, got %d %+v", status, env)
		}
	})

	t.Run("Session Lookup Failure", func(t *testing.T) {
		f := setupAPI(t, &stubUsers{err: shared.ErrBackendUnavailable}, "local")

		status, env := f.do(t, http.MethodGet, "/api/practice", "tok", nil)
		if status != http.StatusServiceUnavailable || env.Code != shared.CodeTransient {
			t.Errorf("expected 503 transient, got %d %+v", status, env)
		}
	})

	t.Run("Invalid Input", func(t *testing.T) {
		f := setupAPI(t, nil, "local")

		status, env := f.do(t, http.MethodPost, "/api/practice", "", map[string]any{"minutes": 0})
		if status != http.StatusBadRequest || env.Code != shared.CodeInvalidInput {
			t.Errorf("expected 400, got %d %+v", status, env)
		}

		status, env = f.do(t, http.MethodPost, "/api/practice", "", map[string]any{"minutes": 5, "tempo": 120})
		if status != http.StatusBadRequest {
			t.Errorf("unknown fields should be rejected, got %d %+v", status, env)
		}
	})

	t.Run("Offline Save Is Accepted", func(t *testing.T) {
		f := setupAPI(t, nil, "local")
		f.client.FailNext("select", errors.New("dial tcp: connection refused"))

		status, env := f.do(t, http.MethodPost, "/api/practice", "", map[string]any{"minutes": 20})
		if status != http.StatusAccepted || env.Code != shared.CodeQueuedOffline {
			t.Errorf("expected 202 queued_offline, got %d %+v", status, env)
		}
	})

	t.Run("Goals And Calendar", func(t *testing.T) {
		f := setupAPI(t, nil, "local")

		status, env := f.do(t, http.MethodPost, "/api/goals", "", map[string]any{
			"title": "Memorize the Elgar", "target_date": "2024-05-20", "show_on_calendar": true,
		})
		if status != http.StatusOK {
			t.Fatalf("create failed: %d %+v", status, env)
		}
		var goal struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(env.Data, &goal)

		status, env = f.do(t, http.MethodPost, "/api/goals/complete", "", map[string]any{"id": goal.ID})
		if status != http.StatusOK || !strings.Contains(string(env.Data), `"is_completed":true`) {
			t.Errorf("complete failed: %d %+v", status, env)
		}

		status, env = f.do(t, http.MethodGet, "/api/goals", "", nil)
		if status != http.StatusOK || strings.Contains(string(env.Data), goal.ID) {
			t.Errorf("completed goals are hidden by default, got %d %s", status, env.Data)
		}

		status, env = f.do(t, http.MethodGet, "/api/goals?include_completed=true", "", nil)
		if status != http.StatusOK || !strings.Contains(string(env.Data), goal.ID) {
			t.Errorf("expected completed goal, got %d %s", status, env.Data)
		}

		f.do(t, http.MethodPost, "/api/goals", "", map[string]any{"title": "Thumb position", "instrument_id": "cello"})
		status, env = f.do(t, http.MethodGet, "/api/goals?instrument=cello&include_completed=true", "", nil)
		if status != http.StatusOK || !strings.Contains(string(env.Data), "Thumb position") || strings.Contains(string(env.Data), goal.ID) {
			t.Errorf("expected only the cello goal, got %d %s", status, env.Data)
		}

		f.do(t, http.MethodPost, "/api/practice", "", map[string]any{"minutes": 25, "date": "2024-05-03"})

		status, env = f.do(t, http.MethodGet, "/api/calendar", "", nil)
		if status != http.StatusOK {
			t.Fatalf("calendar failed: %d %+v", status, env)
		}
		var cal services.CalendarMonth
		if err := json.Unmarshal(env.Data, &cal); err != nil {
			t.Fatalf("failed to decode calendar: %v", err)
		}
		if cal.Month != "2024-05" || cal.TotalMinutes != 25 || len(cal.Goals) != 1 {
			t.Errorf("unexpected calendar %+v", cal)
		}

		status, env = f.do(t, http.MethodPost, "/api/goals/complete", "", map[string]any{"id": "missing"})
		if status != http.StatusNotFound {
			t.Errorf("expected 404, got %d %+v", status, env)
		}
	})

	t.Run("Calendar Survives Missing Goals Table", func(t *testing.T) {
		f := setupAPI(t, nil, "local")
		if _, err := f.db.Exec(`DROP TABLE goals`); err != nil {
			t.Fatalf("failed to drop goals: %v", err)
		}

		status, env := f.do(t, http.MethodGet, "/api/calendar?month=2024-05", "", nil)
		if status != http.StatusOK || !env.Success {
			t.Errorf("expected calendar without goals, got %d %+v", status, env)
		}

		status, env = f.do(t, http.MethodGet, "/api/goals", "", nil)
		if status != http.StatusOK || env.Code != shared.CodeFeatureUnavailable {
			t.Errorf("expected empty feature_unavailable list, got %d %+v", status, env)
		}
	})

	t.Run("Capabilities", func(t *testing.T) {
		f := setupAPI(t, nil, "local")

		status, env := f.do(t, http.MethodGet, "/api/capabilities", "", nil)
		if status != http.StatusOK || !strings.Contains(string(env.Data), `"show_on_calendar":"supported"`) {
			t.Errorf("unexpected capabilities %d %s", status, env.Data)
		}
	})

	t.Run("Method Not Allowed", func(t *testing.T) {
		f := setupAPI(t, nil, "local")

		req, _ := http.NewRequest(http.MethodDelete, f.server.URL+"/api/practice", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", resp.StatusCode)
		}
		if resp.Header.Get("Allow") != "GET, POST" {
			t.Errorf("unexpected Allow header %q", resp.Header.Get("Allow"))
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("Recover", func(t *testing.T) {
		var logs bytes.Buffer
		logger := shared.NewLogger(&logs)

		r := NewBasicRouter()
		r.Use(Recover(logger), Logging(logger))
		r.HandleFunc(http.MethodGet, "/boom", func(w http.ResponseWriter, r *http.Request) {
			panic("string snapped")
		})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if !strings.Contains(logs.String(), "string snapped") {
			t.Errorf("panic should be logged, got %s", logs.String())
		}
	})

	t.Run("Logging", func(t *testing.T) {
		var logs bytes.Buffer
		logger := shared.NewLogger(&logs)

		r := NewBasicRouter()
		r.Use(Logging(logger))
		r.HandleFunc(http.MethodGet, "/teapot", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

		out := logs.String()
		if !strings.Contains(out, "status=418") || !strings.Contains(out, "path=/teapot") {
			t.Errorf("unexpected log line %s", out)
		}
	})

	t.Run("Order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.HandleFunc(http.MethodGet, "/", func(w http.ResponseWriter, r *http.Request) {})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if strings.Join(order, ",") != "first,second" {
			t.Errorf("unexpected middleware order %v", order)
		}
	})
}

func TestListenAndServe(t *testing.T) {
	srv := NewHTTPServer("127.0.0.1", 0, NewBasicRouter())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ListenAndServe(ctx, srv, shared.NewLogger(io.Discard)) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
