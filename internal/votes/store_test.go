package votes

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
)

func TestCastPreconditions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		actor  string
		poll   string
		option string
		want   error
	}{
		{name: "missing poll", actor: "u1", poll: "missing", option: "A", want: apperr.ErrNotFound},
		{name: "no voting", actor: "u1", poll: "plain", option: "A", want: apperr.ErrNotFound},
		{name: "expired", actor: "u1", poll: "closed", option: "A", want: apperr.ErrExpired},
		{name: "expired beats invalid option", actor: "u1", poll: "closed", option: "Z", want: apperr.ErrExpired},
		{name: "unknown option", actor: "u1", poll: "single", option: "Z", want: apperr.ErrValidation},
		{name: "anonymous", actor: "", poll: "single", option: "A", want: apperr.ErrUnauthenticated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Cast(ctx, tc.actor, tc.poll, tc.option)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSingleChoiceReplaceLeavesOneRow(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	first, err := store.Cast(ctx, "u1", "single", "A")
	if err != nil {
		t.Fatalf("first cast failed: %v", err)
	}
	if !first.Accepted || first.Replaced || first.OwnerID != "poll-owner" {
		t.Fatalf("unexpected first result %+v", first)
	}
	second, err := store.Cast(ctx, "u1", "single", "B")
	if err != nil {
		t.Fatalf("second cast failed: %v", err)
	}
	if !second.Replaced || second.PreviousOption != "A" || second.Option != "B" {
		t.Fatalf("unexpected second result %+v", second)
	}
	rows := countVotes(t, db, "single", "u1")
	if len(rows) != 1 || rows[0].Option != "B" {
		t.Fatalf("expected exactly one vote for B, got %+v", rows)
	}
}

func TestCastSameOptionIsDuplicate(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	for _, poll := range []string{"single", "multi"} {
		if _, err := store.Cast(ctx, "u1", poll, "A"); err != nil {
			t.Fatalf("cast on %s failed: %v", poll, err)
		}
		_, err := store.Cast(ctx, "u1", poll, "A")
		if !errors.Is(err, apperr.ErrDuplicate) {
			t.Fatalf("expected duplicate on %s, got %v", poll, err)
		}
		if rows := countVotes(t, db, poll, "u1"); len(rows) != 1 {
			t.Fatalf("expected one row on %s, got %d", poll, len(rows))
		}
	}
}

func TestMultiChoiceAccumulates(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	for _, option := range []string{"A", "C"} {
		result, err := store.Cast(ctx, "u1", "multi", option)
		if err != nil {
			t.Fatalf("cast %s failed: %v", option, err)
		}
		if result.Replaced {
			t.Fatalf("multi-choice casts must not replace")
		}
	}
	rows := countVotes(t, db, "multi", "u1")
	if len(rows) != 2 {
		t.Fatalf("expected two rows, got %d", len(rows))
	}
}

func TestTallyReportsCountsInPollOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	casts := []struct{ actor, option string }{
		{"u1", "A"}, {"u1", "C"}, {"u2", "C"}, {"u3", "C"},
	}
	for _, cast := range casts {
		if _, err := store.Cast(ctx, cast.actor, "multi", cast.option); err != nil {
			t.Fatalf("cast failed: %v", err)
		}
	}

	tally, err := store.Tally(ctx, "multi", "u1")
	if err != nil {
		t.Fatalf("tally failed: %v", err)
	}
	want := []OptionCount{{"A", 1}, {"B", 0}, {"C", 3}}
	if len(tally.Options) != len(want) {
		t.Fatalf("unexpected options %+v", tally.Options)
	}
	for index, option := range want {
		if tally.Options[index] != option {
			t.Fatalf("option %d: got %+v want %+v", index, tally.Options[index], option)
		}
	}
	if tally.TotalVotes != 4 || tally.TotalVoters != 3 {
		t.Fatalf("unexpected totals votes=%d voters=%d", tally.TotalVotes, tally.TotalVoters)
	}
	if len(tally.MyVotes) != 2 || tally.MyVotes[0] != "A" || tally.MyVotes[1] != "C" {
		t.Fatalf("unexpected viewer votes %v", tally.MyVotes)
	}
	if !tally.AllowMultiple || tally.Closed {
		t.Fatalf("unexpected poll flags %+v", tally)
	}
}

func TestTallyAvailableAfterClose(t *testing.T) {
	store, _ := newTestStore(t)
	tally, err := store.Tally(context.Background(), "closed", "")
	if err != nil {
		t.Fatalf("tally failed: %v", err)
	}
	if !tally.Closed || tally.TotalVotes != 0 || len(tally.MyVotes) != 0 {
		t.Fatalf("unexpected tally %+v", tally)
	}
}

func TestConcurrentReplaceKeepsSingleRow(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Cast(ctx, "u1", "single", "A"); err != nil {
		t.Fatalf("seed cast failed: %v", err)
	}

	options := []string{"B", "C", "B", "C", "B", "C"}
	var wg sync.WaitGroup
	errs := make(chan error, len(options))
	for _, option := range options {
		wg.Add(1)
		go func(choice string) {
			defer wg.Done()
			_, err := store.Cast(ctx, "u1", "single", choice)
			if err != nil && !errors.Is(err, apperr.ErrDuplicate) && !errors.Is(err, apperr.ErrConflict) {
				errs <- err
			}
		}(option)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected cast error: %v", err)
	}

	rows := countVotes(t, db, "single", "u1")
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row after concurrent replaces, got %d", len(rows))
	}
}
