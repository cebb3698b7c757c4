package storage

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"streak_bot/internal/model"
)

var ignoreCreatedAt = cmpopts.IgnoreFields(model.Subject{}, "CreatedAt")

var errBoom = errors.New("boom")

func day(t *testing.T, s string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func mustCreate(t *testing.T, s Storage, login string) *model.Subject {
	t.Helper()
	subj := &model.Subject{Login: login}
	if err := s.CreateSubject(context.Background(), subj); err != nil {
		t.Fatalf("create %s: %v", login, err)
	}
	return subj
}

func mustUpdate(t *testing.T, s Storage, subj *model.Subject) {
	t.Helper()
	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.UpdateSubject(context.Background(), subj)
	})
	if err != nil {
		t.Fatalf("update %s: %v", subj.Login, err)
	}
}

// runStorageTests exercises behaviour every Storage implementation shares.
func runStorageTests(t *testing.T, open func(t *testing.T) Storage) {
	t.Run("subject lifecycle", func(t *testing.T) { testSubjectLifecycle(t, open(t)) })
	t.Run("list after", func(t *testing.T) { testListSubjectsAfter(t, open(t)) })
	t.Run("days in tx", func(t *testing.T) { testDaysInTx(t, open(t)) })
	t.Run("conditional update", func(t *testing.T) { testConditionalUpdate(t, open(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("leaderboards", func(t *testing.T) { testLeaderboards(t, open(t)) })
	t.Run("expire lapsed", func(t *testing.T) { testExpireLapsed(t, open(t)) })
}

func testSubjectLifecycle(t *testing.T, s Storage) {
	ctx := context.Background()

	subj := &model.Subject{Login: "octocat", Email: "octo@example.com"}
	if err := s.CreateSubject(ctx, subj); err != nil {
		t.Fatalf("create: %v", err)
	}
	if subj.ID == 0 {
		t.Fatal("expected non-zero ID")
	}

	byID, err := s.GetSubject(ctx, subj.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := model.Subject{ID: subj.ID, Login: "octocat", Email: "octo@example.com"}
	if diff := cmp.Diff(want, *byID, ignoreCreatedAt); diff != "" {
		t.Errorf("GetSubject mismatch (-want +got):\n%s", diff)
	}
	if byID.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	byLogin, err := s.GetSubjectByLogin(ctx, "octocat")
	if err != nil {
		t.Fatalf("get by login: %v", err)
	}
	if diff := cmp.Diff(want, *byLogin, ignoreCreatedAt); diff != "" {
		t.Errorf("GetSubjectByLogin mismatch (-want +got):\n%s", diff)
	}

	if err := s.CreateSubject(ctx, &model.Subject{Login: "octocat"}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create: got %v, want ErrAlreadyExists", err)
	}
	if _, err := s.GetSubject(ctx, subj.ID+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetSubjectByLogin(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing login: got %v, want ErrNotFound", err)
	}
}

func testListSubjectsAfter(t *testing.T, s Storage) {
	ctx := context.Background()
	var ids []int64
	for _, login := range []string{"a", "b", "c", "d", "e"} {
		ids = append(ids, mustCreate(t, s, login).ID)
	}

	var got [][]string
	var after int64
	for {
		batch, err := s.ListSubjectsAfter(ctx, after, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		var logins []string
		for _, subj := range batch {
			logins = append(logins, subj.Login)
		}
		got = append(got, logins)
		after = batch[len(batch)-1].ID
	}

	want := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
	if after != ids[len(ids)-1] {
		t.Errorf("last id = %d, want %d", after, ids[len(ids)-1])
	}
}

func testDaysInTx(t *testing.T, s Storage) {
	ctx := context.Background()
	subj := mustCreate(t, s, "octocat")
	other := mustCreate(t, s, "hubot")

	var added []bool
	err := s.InTx(ctx, func(tx Tx) error {
		for _, d := range []string{"2024-01-05", "2024-01-07", "2024-01-05", "2024-02-01"} {
			ok, err := tx.AddDay(ctx, subj.ID, day(t, d))
			if err != nil {
				return err
			}
			added = append(added, ok)
		}
		_, err := tx.AddDay(ctx, other.ID, day(t, "2024-01-06"))
		return err
	})
	if err != nil {
		t.Fatalf("in tx: %v", err)
	}
	if diff := cmp.Diff([]bool{true, true, false, true}, added); diff != "" {
		t.Errorf("added mismatch (-want +got):\n%s", diff)
	}

	var recorded []civil.Date
	err = s.InTx(ctx, func(tx Tx) error {
		var err error
		recorded, err = tx.RecordedDays(ctx, subj.ID, day(t, "2024-01-05"), day(t, "2024-01-31"))
		return err
	})
	if err != nil {
		t.Fatalf("recorded days: %v", err)
	}
	want := []civil.Date{day(t, "2024-01-05"), day(t, "2024-01-07")}
	if diff := cmp.Diff(want, recorded); diff != "" {
		t.Errorf("RecordedDays mismatch (-want +got):\n%s", diff)
	}

	listed, err := s.ListDays(ctx, subj.ID, day(t, "2024-02-01"), day(t, "2024-02-29"))
	if err != nil {
		t.Fatalf("list days: %v", err)
	}
	if diff := cmp.Diff([]civil.Date{day(t, "2024-02-01")}, listed); diff != "" {
		t.Errorf("ListDays mismatch (-want +got):\n%s", diff)
	}
}

func testConditionalUpdate(t *testing.T, s Storage) {
	ctx := context.Background()
	subj := mustCreate(t, s, "octocat")

	stale := *subj

	subj.LastEntryID = "E5"
	subj.CurrentStart = day(t, "2024-01-07")
	subj.CurrentEnd = day(t, "2024-01-09")
	subj.CurrentLength = 3
	subj.LongestStart = day(t, "2024-01-07")
	subj.LongestEnd = day(t, "2024-01-09")
	subj.LongestLength = 3
	mustUpdate(t, s, subj)
	if subj.Version != 1 {
		t.Errorf("version = %d, want 1", subj.Version)
	}

	got, err := s.GetSubject(ctx, subj.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(*subj, *got, ignoreCreatedAt); diff != "" {
		t.Errorf("stored subject mismatch (-want +got):\n%s", diff)
	}

	stale.LastEntryID = "E9"
	err = s.InTx(ctx, func(tx Tx) error {
		return tx.UpdateSubject(ctx, &stale)
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale update: got %v, want ErrConflict", err)
	}

	got, err = s.GetSubject(ctx, subj.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastEntryID != "E5" {
		t.Errorf("cursor = %q, want E5", got.LastEntryID)
	}
}

func testRollback(t *testing.T, s Storage) {
	ctx := context.Background()
	subj := mustCreate(t, s, "octocat")

	err := s.InTx(ctx, func(tx Tx) error {
		if _, err := tx.AddDay(ctx, subj.ID, day(t, "2024-01-05")); err != nil {
			return err
		}
		subj.LastEntryID = "E1"
		if err := tx.UpdateSubject(ctx, subj); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("in tx: got %v, want errBoom", err)
	}

	days, err := s.ListDays(ctx, subj.ID, day(t, "2024-01-01"), day(t, "2024-12-31"))
	if err != nil {
		t.Fatalf("list days: %v", err)
	}
	if len(days) != 0 {
		t.Errorf("expected no days after rollback, got %v", days)
	}
	got, err := s.GetSubject(ctx, subj.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastEntryID != "" || got.Version != 0 {
		t.Errorf("subject changed after rollback: cursor %q version %d", got.LastEntryID, got.Version)
	}
}

func testLeaderboards(t *testing.T, s Storage) {
	ctx := context.Background()
	today := day(t, "2024-03-10")

	rows := []struct {
		login           string
		curEnd          string
		curLen, longLen int
	}{
		{"alice", "2024-03-10", 5, 9},
		{"bob", "2024-03-09", 5, 5},
		{"carol", "2024-03-01", 8, 12},
		{"dave", "2024-03-10", 2, 9},
		{"erin", "", 0, 0},
	}
	for _, r := range rows {
		subj := mustCreate(t, s, r.login)
		if r.curEnd != "" {
			subj.CurrentEnd = day(t, r.curEnd)
			subj.CurrentStart = subj.CurrentEnd.AddDays(-(r.curLen - 1))
			subj.LongestEnd = subj.CurrentEnd
			subj.LongestStart = subj.LongestEnd.AddDays(-(r.longLen - 1))
		}
		subj.CurrentLength = r.curLen
		subj.LongestLength = r.longLen
		mustUpdate(t, s, subj)
	}

	logins := func(subjects []model.Subject) []string {
		var out []string
		for _, subj := range subjects {
			out = append(out, subj.Login)
		}
		return out
	}

	current, err := s.BestCurrentStreaks(ctx, today, 15)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if diff := cmp.Diff([]string{"alice", "bob", "dave"}, logins(current)); diff != "" {
		t.Errorf("current leaderboard mismatch (-want +got):\n%s", diff)
	}

	longest, err := s.BestLongestStreaks(ctx, 3)
	if err != nil {
		t.Fatalf("longest: %v", err)
	}
	if diff := cmp.Diff([]string{"carol", "alice", "dave"}, logins(longest)); diff != "" {
		t.Errorf("longest leaderboard mismatch (-want +got):\n%s", diff)
	}
}

func testExpireLapsed(t *testing.T, s Storage) {
	ctx := context.Background()
	today := day(t, "2024-03-10")

	ends := map[string]string{
		"today":     "2024-03-10",
		"yesterday": "2024-03-09",
		"lapsed":    "2024-03-08",
	}
	for login, end := range ends {
		subj := mustCreate(t, s, login)
		subj.CurrentEnd = day(t, end)
		subj.CurrentStart = subj.CurrentEnd.AddDays(-2)
		subj.CurrentLength = 3
		mustUpdate(t, s, subj)
	}

	n, err := s.ExpireLapsedStreaks(ctx, today)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}

	got := map[string]int{}
	for login := range ends {
		subj, err := s.GetSubjectByLogin(ctx, login)
		if err != nil {
			t.Fatalf("get %s: %v", login, err)
		}
		got[login] = subj.CurrentLength
	}
	want := map[string]int{"today": 3, "yesterday": 3, "lapsed": 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("current lengths mismatch (-want +got):\n%s", diff)
	}

	lapsed, err := s.GetSubjectByLogin(ctx, "lapsed")
	if err != nil {
		t.Fatalf("get lapsed: %v", err)
	}
	if lapsed.Version != 2 {
		t.Errorf("lapsed version = %d, want 2", lapsed.Version)
	}

	n, err = s.ExpireLapsedStreaks(ctx, today)
	if err != nil {
		t.Fatalf("expire again: %v", err)
	}
	if n != 0 {
		t.Errorf("second expiry = %d, want 0", n)
	}
}
