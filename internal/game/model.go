package game

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	PayoutScale      = int64(500)
	MerchBonusScale  = 50.0
	LimitedPackPrice = int64(7_500)
	PackCodeLength   = 5
	PackCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	MaxPackCodeTries = 10
	ComebackBonus    = int64(100)
	ShowcaseBonus    = int64(50)
)

var (
	ErrNoEventTypes      = errors.New("no event types with positive weight")
	ErrUnknownCategory   = errors.New("unknown event category")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPackCodeExhausted = errors.New("could not generate a unique pack code")
)

var packCodeRE = regexp.MustCompile(`^[a-z0-9]{5}$`)

func ValidPackCode(code string) bool {
	return packCodeRE.MatchString(code)
}

type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventActive    EventStatus = "active"
	EventFinished  EventStatus = "finished"
)

var eventTransitions = map[EventStatus][]EventStatus{
	EventScheduled: {EventActive},
	EventActive:    {EventFinished},
	EventFinished:  nil,
}

func ParseEventStatus(s string) (EventStatus, error) {
	st := EventStatus(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := eventTransitions[st]; !ok {
		return "", fmt.Errorf("%w: event %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// Transition returns next if the move from s is allowed.
func (s EventStatus) Transition(next EventStatus) (EventStatus, error) {
	allowed, ok := eventTransitions[s]
	if !ok {
		return s, fmt.Errorf("%w: event %q", ErrUnknownStatus, s)
	}
	for _, to := range allowed {
		if to == next {
			return next, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
}

type ParticipationStatus string

const (
	ParticipationPreparation ParticipationStatus = "preparation"
	ParticipationActive      ParticipationStatus = "active"
	ParticipationSubmitted   ParticipationStatus = "submitted"
	ParticipationExpired     ParticipationStatus = "expired"
	ParticipationCompleted   ParticipationStatus = "completed"
)

type finalizeRule struct {
	terminal bool
	to       ParticipationStatus
	payout   bool
}

// Every participation status must appear here; finalization rejects anything else.
var participationFinalize = map[ParticipationStatus]finalizeRule{
	ParticipationPreparation: {to: ParticipationExpired},
	ParticipationActive:      {to: ParticipationExpired, payout: true},
	ParticipationSubmitted:   {to: ParticipationCompleted},
	ParticipationExpired:     {terminal: true},
	ParticipationCompleted:   {terminal: true},
}

func ParseParticipationStatus(s string) (ParticipationStatus, error) {
	st := ParticipationStatus(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := participationFinalize[st]; !ok {
		return "", fmt.Errorf("%w: participation %q", ErrUnknownStatus, s)
	}
	return st, nil
}

func (s ParticipationStatus) Terminal() bool {
	return participationFinalize[s].terminal
}

// Finalize closes a participation at season end. changed is false for rows
// that were already terminal.
func (p Participation) Finalize() (out Participation, changed bool, err error) {
	rule, ok := participationFinalize[p.Status]
	if !ok {
		return p, false, fmt.Errorf("%w: participation %q", ErrUnknownStatus, p.Status)
	}
	if rule.terminal {
		return p, false, nil
	}
	p.Status = rule.to
	if rule.payout {
		p.Payout = Payout(p.RawScore, p.BaselineScore)
	}
	return p, true, nil
}

type Category string

const (
	CategoryStandard Category = "standard"
	CategoryComeback Category = "comeback"
	CategoryShowcase Category = "showcase"
	CategoryStarHunt Category = "star_hunt"
)

type bonusRule struct {
	amount      int64
	firstOnly   bool
	needsReward bool
}

var categoryBonus = map[Category]bonusRule{
	CategoryStandard: {},
	CategoryComeback: {amount: ComebackBonus, needsReward: true},
	CategoryShowcase: {amount: ShowcaseBonus, firstOnly: true},
	CategoryStarHunt: {},
}

func Categories() []Category {
	return []Category{CategoryStandard, CategoryComeback, CategoryShowcase, CategoryStarHunt}
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := categoryBonus[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// PermanentBonus is the permanent popularity a ranked group earns at season
// end. rewarded reports whether any reward tier covered the rank.
func (c Category) PermanentBonus(rank int64, rewarded bool) (int64, error) {
	rule, ok := categoryBonus[c]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	if rule.amount == 0 {
		return 0, nil
	}
	if rule.firstOnly && rank != 1 {
		return 0, nil
	}
	if rule.needsReward && !rewarded {
		return 0, nil
	}
	return rule.amount, nil
}

// Payout converts a final score into popularity relative to the baseline.
func Payout(score, baseline int64) int64 {
	if baseline <= 0 {
		return 0
	}
	return int64(math.Floor(float64(PayoutScale) * float64(score) / float64(baseline)))
}

func MerchBonus(groupPopularity int64) int64 {
	if groupPopularity <= 0 {
		return 0
	}
	return int64(math.Floor(MerchBonusScale * math.Sqrt(float64(groupPopularity))))
}

// BoostedPopularity multiplies raw by each tier's boost in order.
func BoostedPopularity(raw int64, tiers []RewardTier) int64 {
	v := float64(raw)
	for _, t := range tiers {
		v *= t.PopularityBoost
	}
	return int64(math.Floor(v))
}

func TiersFor(rank int64, tiers []RewardTier) []RewardTier {
	var out []RewardTier
	for _, t := range tiers {
		if t.Covers(rank) {
			out = append(out, t)
		}
	}
	return out
}

// Rank orders participations with a positive score, highest first. Equal
// scores keep their input order.
func Rank(ps []Participation) []Participation {
	out := make([]Participation, 0, len(ps))
	for _, p := range ps {
		if p.RawScore > 0 {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RawScore > out[j].RawScore
	})
	for i := range out {
		out[i].Rank = int64(i + 1)
	}
	return out
}
