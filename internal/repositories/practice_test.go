package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/cadenza/internal/backend"
	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/retry"
	"github.com/desertthunder/cadenza/internal/shared"
	tu "github.com/desertthunder/cadenza/internal/testing"
)

func newPracticeRepo(t *testing.T) (*PracticeRepository, *tu.RecordingClient, *tu.Clock) {
	t.Helper()

	client := setupClient(setupTestDB(t))
	clock := testClock()

	repo := NewPracticeRepository(client, testLogger())
	repo.SetClock(clock.Now)
	repo.SetRetryPolicy(retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})
	return repo, client, clock
}

// seedDuplicates inserts records for the same key directly, as two racing devices would.
func seedDuplicates(t *testing.T, repo *PracticeRepository, clock *tu.Clock, minutes ...int) []*models.PracticeRecord {
	t.Helper()

	var out []*models.PracticeRecord
	for _, m := range minutes {
		rec := &models.PracticeRecord{UserID: "u1", PracticeDate: "2024-05-01", DurationMinutes: m}
		if err := repo.Create(context.Background(), rec); err != nil {
			t.Fatalf("failed to seed record: %v", err)
		}
		out = append(out, rec)
		clock.Advance(time.Minute)
	}
	return out
}

func TestSaveWithIntegration(t *testing.T) {
	ctx := context.Background()

	t.Run("Thirty Then Fifteen", func(t *testing.T) {
		repo, _, _ := newPracticeRepo(t)

		first, err := repo.SaveWithIntegration(ctx, "U", 30, SaveOptions{PracticeDate: "2024-05-01"})
		if err != nil {
			t.Fatalf("first save failed: %v", err)
		}
		if first.Merged {
			t.Error("first save should create a record")
		}
		if first.Record.DurationMinutes != 30 {
			t.Errorf("expected 30, got %d", first.Record.DurationMinutes)
		}

		second, err := repo.SaveWithIntegration(ctx, "U", 15, SaveOptions{PracticeDate: "2024-05-01"})
		if err != nil {
			t.Fatalf("second save failed: %v", err)
		}
		if !second.Merged || second.MergedCount != 1 {
			t.Errorf("expected merge into one record, got merged=%v count=%d", second.Merged, second.MergedCount)
		}
		if second.Record.ID != first.Record.ID {
			t.Error("second save should reuse the canonical record")
		}

		records, err := repo.ListByUser(ctx, "U", "2024-05-01", "2024-05-01")
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		if records[0].DurationMinutes != 45 {
			t.Errorf("expected 45, got %d", records[0].DurationMinutes)
		}
	})

	t.Run("N Sequential Saves Sum", func(t *testing.T) {
		repo, _, clock := newPracticeRepo(t)
		durations := []int{5, 12, 1, 40, 7, 3}

		want := 0
		for _, d := range durations {
			want += d
			if _, err := repo.SaveWithIntegration(ctx, "u1", d, SaveOptions{PracticeDate: "2024-05-01"}); err != nil {
				t.Fatalf("save failed: %v", err)
			}
			clock.Advance(time.Minute)
		}

		records, _ := repo.ListByUser(ctx, "u1", "", "")
		if len(records) != 1 {
			t.Fatalf("expected exactly one canonical record, got %d", len(records))
		}
		if records[0].DurationMinutes != want {
			t.Errorf("expected %d, got %d", want, records[0].DurationMinutes)
		}
	})

	t.Run("Instruments Are Separate Buckets", func(t *testing.T) {
		repo, _, _ := newPracticeRepo(t)

		saves := []SaveOptions{
			{PracticeDate: "2024-05-01"},
			{PracticeDate: "2024-05-01", InstrumentID: strPtr("piano")},
			{PracticeDate: "2024-05-01", InstrumentID: strPtr("")},
			{PracticeDate: "2024-05-01", InstrumentID: strPtr("piano")},
			{PracticeDate: "2024-05-02"},
		}
		for _, opts := range saves {
			if _, err := repo.SaveWithIntegration(ctx, "u1", 10, opts); err != nil {
				t.Fatalf("save failed: %v", err)
			}
		}

		totals := map[models.MergeKey]int{}
		records, _ := repo.ListByUser(ctx, "u1", "", "")
		for _, r := range records {
			totals[r.Key()] += r.DurationMinutes
		}

		want := map[models.MergeKey]int{
			{UserID: "u1", PracticeDate: "2024-05-01"}:                        20,
			{UserID: "u1", PracticeDate: "2024-05-01", InstrumentID: "piano"}: 20,
			{UserID: "u1", PracticeDate: "2024-05-02"}:                        10,
		}
		if len(records) != len(want) {
			t.Fatalf("expected %d records, got %d", len(want), len(records))
		}
		for k, v := range want {
			if totals[k] != v {
				t.Errorf("%s: expected %d, got %d", k, v, totals[k])
			}
		}
	})

	t.Run("Defaults To Local Today", func(t *testing.T) {
		repo, _, clock := newPracticeRepo(t)

		res, err := repo.SaveWithIntegration(ctx, "u1", 20, SaveOptions{})
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if res.Record.PracticeDate != shared.LocalDate(clock.Now()) {
			t.Errorf("expected today's date, got %s", res.Record.PracticeDate)
		}
		if res.Record.InputMethod != models.InputManual {
			t.Errorf("expected manual input, got %s", res.Record.InputMethod)
		}
	})

	t.Run("Folds Duplicates Into Earliest", func(t *testing.T) {
		repo, _, clock := newPracticeRepo(t)
		seeded := seedDuplicates(t, repo, clock, 30, 15, 5)

		res, err := repo.SaveWithIntegration(ctx, "u1", 10, SaveOptions{PracticeDate: "2024-05-01"})
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}

		if res.Record.ID != seeded[0].ID {
			t.Errorf("expected earliest record %s to be canonical, got %s", seeded[0].ID, res.Record.ID)
		}
		if res.Record.DurationMinutes != 60 {
			t.Errorf("expected 60, got %d", res.Record.DurationMinutes)
		}
		if res.MergedCount != 3 || len(res.DeletedIDs) != 2 || res.RetryCount != 0 || res.Warning != nil {
			t.Errorf("unexpected result: %+v", res)
		}

		records, _ := repo.ListByUser(ctx, "u1", "", "")
		if len(records) != 1 {
			t.Errorf("expected duplicates deleted, %d records remain", len(records))
		}
	})

	t.Run("Delete Retried After Transient Failures", func(t *testing.T) {
		repo, client, clock := newPracticeRepo(t)
		seedDuplicates(t, repo, clock, 30, 15)

		transient := errors.New("connection reset by peer")
		client.FailNext("delete", transient, transient)

		res, err := repo.SaveWithIntegration(ctx, "u1", 5, SaveOptions{PracticeDate: "2024-05-01"})
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if res.RetryCount != 2 {
			t.Errorf("expected retry count 2, got %d", res.RetryCount)
		}
		if res.Warning != nil {
			t.Errorf("expected no warning, got %v", res.Warning)
		}
		if got := len(client.CallsTo("delete")); got != 3 {
			t.Errorf("expected 3 delete attempts, got %d", got)
		}
	})

	t.Run("Foreign Key Violation Not Retried", func(t *testing.T) {
		repo, client, clock := newPracticeRepo(t)
		seedDuplicates(t, repo, clock, 30, 15)

		client.FailNext("delete", &backend.Error{Code: backend.CodeForeignKey, Message: "violates foreign key constraint"})

		res, err := repo.SaveWithIntegration(ctx, "u1", 5, SaveOptions{PracticeDate: "2024-05-01"})
		if err != nil {
			t.Fatalf("save should succeed despite failed cleanup: %v", err)
		}
		if res.RetryCount != 0 {
			t.Errorf("expected retry count 0, got %d", res.RetryCount)
		}
		if res.Warning == nil {
			t.Error("expected a cleanup warning")
		}
		if res.Record.DurationMinutes != 50 {
			t.Errorf("expected summed duration 50, got %d", res.Record.DurationMinutes)
		}
		if got := len(client.CallsTo("delete")); got != 1 {
			t.Errorf("expected a single delete attempt, got %d", got)
		}
	})

	t.Run("Unclassified Backend Errors Are Retried", func(t *testing.T) {
		repo, client, clock := newPracticeRepo(t)
		seedDuplicates(t, repo, clock, 30, 15)

		client.FailNext("delete",
			&backend.Error{Code: backend.CodeInsufficientPriv, Status: 403},
			&backend.Error{Code: backend.CodeUndefinedColumn, Message: "column practice_sessions.id does not exist"},
		)

		res, err := repo.SaveWithIntegration(ctx, "u1", 5, SaveOptions{PracticeDate: "2024-05-01"})
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if res.RetryCount != 2 || res.Warning != nil {
			t.Errorf("expected cleanup to succeed on the third attempt, got retries=%d warning=%v", res.RetryCount, res.Warning)
		}
	})

	t.Run("Update Failure Skips Delete", func(t *testing.T) {
		repo, client, clock := newPracticeRepo(t)
		seedDuplicates(t, repo, clock, 30, 15)

		client.FailNext("update", errors.New("timeout"))

		if _, err := repo.SaveWithIntegration(ctx, "u1", 5, SaveOptions{PracticeDate: "2024-05-01"}); err == nil {
			t.Fatal("expected error")
		}
		if got := len(client.CallsTo("delete")); got != 0 {
			t.Errorf("expected no delete after failed update, got %d", got)
		}
	})

	t.Run("Merges Content And Overwrites Media", func(t *testing.T) {
		repo, _, _ := newPracticeRepo(t)

		_, _ = repo.SaveWithIntegration(ctx, "u1", 10, SaveOptions{PracticeDate: "2024-05-01", Content: "scales"})
		_, _ = repo.SaveWithIntegration(ctx, "u1", 10, SaveOptions{PracticeDate: "2024-05-01", Content: "scales"})
		res, err := repo.SaveWithIntegration(ctx, "u1", 10, SaveOptions{
			PracticeDate: "2024-05-01",
			Content:      "etude no. 3",
			InputMethod:  models.InputRecording,
			MediaURL:     strPtr("recordings/u1/2024-05-01.m4a"),
		})
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}

		stored, err := repo.Get(ctx, res.Record.ID)
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if stored.Content != "scales\netude no. 3" {
			t.Errorf("unexpected content %q", stored.Content)
		}
		if stored.InputMethod != models.InputRecording {
			t.Errorf("expected recording input, got %s", stored.InputMethod)
		}
		if stored.MediaURL == nil || *stored.MediaURL != "recordings/u1/2024-05-01.m4a" {
			t.Errorf("unexpected media url %v", stored.MediaURL)
		}
	})

	t.Run("Invalid Input", func(t *testing.T) {
		repo, client, _ := newPracticeRepo(t)

		tc := []struct {
			name    string
			user    string
			minutes int
			opts    SaveOptions
		}{
			{name: "zero minutes", user: "u1", minutes: 0},
			{name: "negative minutes", user: "u1", minutes: -5},
			{name: "missing user", user: "", minutes: 5},
			{name: "bad date", user: "u1", minutes: 5, opts: SaveOptions{PracticeDate: "01/05/2024"}},
			{name: "bad input method", user: "u1", minutes: 5, opts: SaveOptions{InputMethod: "telepathy"}},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				_, err := repo.SaveWithIntegration(ctx, tt.user, tt.minutes, tt.opts)
				if !errors.Is(err, shared.ErrInvalidInput) {
					t.Errorf("expected invalid input, got %v", err)
				}
			})
		}

		if calls := client.Calls(); len(calls) != 0 {
			t.Errorf("invalid input should not reach the backend, saw %d calls", len(calls))
		}
	})
}

func TestPracticeRepositoryCRUD(t *testing.T) {
	ctx := context.Background()

	t.Run("Get Update Delete", func(t *testing.T) {
		repo, _, _ := newPracticeRepo(t)

		rec := &models.PracticeRecord{UserID: "u1", PracticeDate: "2024-05-01", DurationMinutes: 25, InputMethod: models.InputTimer}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("failed to create: %v", err)
		}

		rec.DurationMinutes = 35
		rec.Content = "long tones"
		if err := repo.Update(ctx, rec); err != nil {
			t.Fatalf("failed to update: %v", err)
		}

		got, err := repo.Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if got.DurationMinutes != 35 || got.Content != "long tones" || got.InputMethod != models.InputTimer {
			t.Errorf("unexpected record %+v", got)
		}
		if !got.CreatedAt.Equal(rec.CreatedAt) {
			t.Errorf("created_at changed: %v vs %v", got.CreatedAt, rec.CreatedAt)
		}

		if err := repo.Delete(ctx, rec.ID); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if _, err := repo.Get(ctx, rec.ID); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
		if err := repo.Delete(ctx, rec.ID); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected not found on second delete, got %v", err)
		}
	})

	t.Run("List Criteria", func(t *testing.T) {
		repo, _, _ := newPracticeRepo(t)

		_, _ = repo.SaveWithIntegration(ctx, "u1", 10, SaveOptions{PracticeDate: "2024-05-01"})
		_, _ = repo.SaveWithIntegration(ctx, "u2", 10, SaveOptions{PracticeDate: "2024-05-01"})

		got, err := repo.List(ctx, map[string]any{"user_id": "u2"})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(got) != 1 || got[0].UserID != "u2" {
			t.Errorf("unexpected list %+v", got)
		}

		if _, err := repo.List(ctx, map[string]any{"password": "x"}); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("Daily Totals", func(t *testing.T) {
		repo, _, _ := newPracticeRepo(t)

		_, _ = repo.SaveWithIntegration(ctx, "u1", 10, SaveOptions{PracticeDate: "2024-05-01"})
		_, _ = repo.SaveWithIntegration(ctx, "u1", 20, SaveOptions{PracticeDate: "2024-05-01", InstrumentID: strPtr("violin")})
		_, _ = repo.SaveWithIntegration(ctx, "u1", 15, SaveOptions{PracticeDate: "2024-05-03"})
		_, _ = repo.SaveWithIntegration(ctx, "u1", 99, SaveOptions{PracticeDate: "2024-06-01"})

		totals, err := repo.DailyTotals(ctx, "u1", "2024-05-01", "2024-05-31")
		if err != nil {
			t.Fatalf("failed to total: %v", err)
		}
		if len(totals) != 2 || totals["2024-05-01"] != 30 || totals["2024-05-03"] != 15 {
			t.Errorf("unexpected totals %v", totals)
		}

		if _, err := repo.DailyTotals(ctx, "u1", "May", ""); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected invalid input for bad bound, got %v", err)
		}
	})
}

func TestMergeContent(t *testing.T) {
	tc := []struct {
		parts []string
		want  string
	}{
		{parts: nil, want: ""},
		{parts: []string{"", "  "}, want: ""},
		{parts: []string{"a", "b", "a"}, want: "a\nb"},
		{parts: []string{"a\nb", "b", " c "}, want: "a\nb\nc"},
	}

	for _, tt := range tc {
		if got := mergeContent(tt.parts); got != tt.want {
			t.Errorf("mergeContent(%q) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}
