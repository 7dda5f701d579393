package game

import (
	"errors"
	"testing"
)

func TestPayout(t *testing.T) {
	tests := []struct {
		score, baseline, want int64
	}{
		{score: 1000, baseline: 1000, want: 500},
		{score: 333, baseline: 1000, want: 166},
		{score: 5000, baseline: 0, want: 0},
		{score: 10, baseline: -3, want: 0},
	}
	for _, tc := range tests {
		got := Payout(tc.score, tc.baseline)
		if got != tc.want {
			t.Fatalf("score=%d baseline=%d got=%d want=%d", tc.score, tc.baseline, got, tc.want)
		}
	}
}

func TestMerchBonus(t *testing.T) {
	tests := []struct {
		total, want int64
	}{
		{total: 0, want: 0},
		{total: 100, want: 500},
		{total: 2, want: 70},
		{total: -5, want: 0},
	}
	for _, tc := range tests {
		if got := MerchBonus(tc.total); got != tc.want {
			t.Fatalf("total=%d got=%d want=%d", tc.total, got, tc.want)
		}
	}
}

func TestBoostedPopularityAppliesEveryTier(t *testing.T) {
	tiers := []RewardTier{{PopularityBoost: 1.5}, {PopularityBoost: 2}}
	if got := BoostedPopularity(101, tiers); got != 303 {
		t.Fatalf("got %d want 303", got)
	}
	if got := BoostedPopularity(77, nil); got != 77 {
		t.Fatalf("no tiers should keep raw score, got %d", got)
	}
}

func TestRankIsStableAndSkipsZeroScores(t *testing.T) {
	in := []Participation{
		{ID: 1, RawScore: 50},
		{ID: 2, RawScore: 0},
		{ID: 3, RawScore: 90},
		{ID: 4, RawScore: 50},
		{ID: 5, RawScore: -4},
	}
	got := Rank(in)
	wantIDs := []int64{3, 1, 4}
	if len(got) != len(wantIDs) {
		t.Fatalf("ranked %d rows, want %d", len(got), len(wantIDs))
	}
	for i, p := range got {
		if p.ID != wantIDs[i] {
			t.Fatalf("position %d: got id %d want %d", i, p.ID, wantIDs[i])
		}
		if p.Rank != int64(i+1) {
			t.Fatalf("position %d: got rank %d", i, p.Rank)
		}
		if i > 0 && got[i-1].RawScore < p.RawScore {
			t.Fatalf("ranking is not non-increasing at %d", i)
		}
	}
}

func TestParticipationFinalize(t *testing.T) {
	tests := []struct {
		in         Participation
		wantStatus ParticipationStatus
		wantPayout int64
		changed    bool
	}{
		{in: Participation{Status: ParticipationPreparation, RawScore: 400, BaselineScore: 100}, wantStatus: ParticipationExpired, changed: true},
		{in: Participation{Status: ParticipationActive, RawScore: 400, BaselineScore: 100}, wantStatus: ParticipationExpired, wantPayout: 2000, changed: true},
		{in: Participation{Status: ParticipationActive, RawScore: 400}, wantStatus: ParticipationExpired, changed: true},
		{in: Participation{Status: ParticipationSubmitted}, wantStatus: ParticipationCompleted, changed: true},
		{in: Participation{Status: ParticipationCompleted, Payout: 9}, wantStatus: ParticipationCompleted, wantPayout: 9},
	}
	for _, tc := range tests {
		out, changed, err := tc.in.Finalize()
		if err != nil {
			t.Fatalf("finalize %s: %v", tc.in.Status, err)
		}
		if out.Status != tc.wantStatus || out.Payout != tc.wantPayout || changed != tc.changed {
			t.Fatalf("finalize %s: got status=%s payout=%d changed=%v", tc.in.Status, out.Status, out.Payout, changed)
		}
	}

	if _, _, err := (Participation{Status: "bogus"}).Finalize(); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestEventStatusTransitions(t *testing.T) {
	if _, err := EventScheduled.Transition(EventActive); err != nil {
		t.Fatalf("scheduled -> active: %v", err)
	}
	if _, err := EventActive.Transition(EventFinished); err != nil {
		t.Fatalf("active -> finished: %v", err)
	}
	if _, err := EventFinished.Transition(EventActive); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("finished must be terminal, got %v", err)
	}
	if _, err := EventScheduled.Transition(EventFinished); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("scheduled cannot skip active, got %v", err)
	}
}

func TestEveryCategoryHasBonusRule(t *testing.T) {
	for _, c := range Categories() {
		if _, err := c.PermanentBonus(1, true); err != nil {
			t.Fatalf("category %s: %v", c, err)
		}
		if _, err := ParseCategory(string(c)); err != nil {
			t.Fatalf("parse %s: %v", c, err)
		}
	}
	if _, err := Category("mystery").PermanentBonus(1, true); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestPermanentBonus(t *testing.T) {
	tests := []struct {
		cat      Category
		rank     int64
		rewarded bool
		want     int64
	}{
		{CategoryComeback, 1, true, ComebackBonus},
		{CategoryComeback, 7, true, ComebackBonus},
		{CategoryComeback, 40, false, 0},
		{CategoryShowcase, 1, true, ShowcaseBonus},
		{CategoryShowcase, 2, true, 0},
		{CategoryStarHunt, 1, true, 0},
		{CategoryStandard, 1, true, 0},
	}
	for _, tc := range tests {
		got, err := tc.cat.PermanentBonus(tc.rank, tc.rewarded)
		if err != nil {
			t.Fatalf("%s rank %d: %v", tc.cat, tc.rank, err)
		}
		if got != tc.want {
			t.Fatalf("%s rank %d: got %d want %d", tc.cat, tc.rank, got, tc.want)
		}
	}
}

func TestRandomIsReproducible(t *testing.T) {
	a, b := NewRandom(42), NewRandom(42)
	for i := 0; i < 20; i++ {
		if a.PackCode() != b.PackCode() {
			t.Fatalf("same seed produced different codes")
		}
	}
	code := NewRandom(7).PackCode()
	if !ValidPackCode(code) {
		t.Fatalf("generated code %q is not a valid pack code", code)
	}
}

func TestWeightedIndexSkipsNonPositive(t *testing.T) {
	r := NewRandom(3)
	for i := 0; i < 200; i++ {
		idx := r.WeightedIndex([]int64{0, 5, -2, 1})
		if idx != 1 && idx != 3 {
			t.Fatalf("drew index %d with non-positive weight", idx)
		}
	}
	if idx := r.WeightedIndex([]int64{0, 0}); idx != -1 {
		t.Fatalf("expected -1 for no positive weights, got %d", idx)
	}
}
