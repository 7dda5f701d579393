package mission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"encore/internal/game"
)

const (
	SlotExploratory = 1
	SlotEasyFirst   = 2
	SlotEasySecond  = 3
	SlotMedium      = 4
	SlotHard        = 5
)

type Store interface {
	Users(ctx context.Context) ([]int64, error)
	ActiveSlots(ctx context.Context, userID int64) ([]game.MissionSlot, error)
	Missions(ctx context.Context, pool game.MissionPool) ([]game.Mission, error)
	// ExpireSlots marks active rows in the given slots assigned before the
	// boundary as expired.
	ExpireSlots(ctx context.Context, userID int64, slots []int, before time.Time) (int64, error)
	// AssignSlot inserts an active row; false means the slot was already
	// taken by a concurrent writer.
	AssignSlot(ctx context.Context, slot game.MissionSlot) (bool, error)
}

type Config struct {
	ResetHour int
	WeekStart time.Weekday
}

type Report struct {
	Users     int
	Assigned  int
	Conflicts int
	Expired   int64
	Failed    int
}

type Engine struct {
	store Store
	rand  *game.Random
	clock game.Clock
	cfg   Config
	log   *slog.Logger
}

func NewEngine(store Store, rnd *game.Random, clock game.Clock, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = game.SystemClock{}
	}
	if rnd == nil {
		rnd = game.NewRandom(0)
	}
	return &Engine{store: store, rand: rnd, clock: clock, cfg: cfg, log: logger}
}

func (e *Engine) RunDaily(ctx context.Context) error {
	_, err := e.AssignDaily(ctx)
	return err
}

func (e *Engine) RunWeekly(ctx context.Context) error {
	_, err := e.AssignWeekly(ctx)
	return err
}

// AssignDaily refreshes slots 1-3 for every user.
func (e *Engine) AssignDaily(ctx context.Context) (Report, error) {
	now := e.clock.Now()
	return e.pass(ctx, "daily", passPlan{
		pools:  []game.MissionPool{game.PoolExploratory, game.PoolEasy},
		expire: []int{SlotEasyFirst, SlotEasySecond},
		before: DailyBoundary(now, e.cfg.ResetHour),
		fill:   e.fillDaily,
	})
}

// AssignWeekly refreshes slots 4 and 5 for every user.
func (e *Engine) AssignWeekly(ctx context.Context) (Report, error) {
	now := e.clock.Now()
	return e.pass(ctx, "weekly", passPlan{
		pools:  []game.MissionPool{game.PoolMedium, game.PoolHard},
		expire: []int{SlotMedium, SlotHard},
		before: WeeklyBoundary(now, e.cfg.ResetHour, e.cfg.WeekStart),
		fill:   e.fillWeekly,
	})
}

type pools map[game.MissionPool][]game.Mission

type passPlan struct {
	pools  []game.MissionPool
	expire []int
	before time.Time
	fill   func(ctx context.Context, userID int64, st *userSlots, pl pools, rep *Report) error
}

func (e *Engine) pass(ctx context.Context, kind string, plan passPlan) (Report, error) {
	var rep Report
	pl := pools{}
	for _, p := range plan.pools {
		ms, err := e.store.Missions(ctx, p)
		if err != nil {
			return rep, fmt.Errorf("load %s missions: %w", p, err)
		}
		pl[p] = ms
	}
	users, err := e.store.Users(ctx)
	if err != nil {
		return rep, fmt.Errorf("load users: %w", err)
	}
	rep.Users = len(users)

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := e.assignUser(ctx, userID, plan, pl, &rep); err != nil {
			rep.Failed++
			e.log.Error("mission assignment failed", "pass", kind, "user_id", userID, "err", err)
		}
	}
	e.log.Info("missions assigned", "pass", kind, "users", rep.Users, "assigned", rep.Assigned,
		"conflicts", rep.Conflicts, "expired", rep.Expired, "failed", rep.Failed)
	return rep, nil
}

func (e *Engine) assignUser(ctx context.Context, userID int64, plan passPlan, pl pools, rep *Report) error {
	n, err := e.store.ExpireSlots(ctx, userID, plan.expire, plan.before)
	if err != nil {
		return fmt.Errorf("expire slots: %w", err)
	}
	rep.Expired += n

	active, err := e.store.ActiveSlots(ctx, userID)
	if err != nil {
		return fmt.Errorf("load active slots: %w", err)
	}
	return plan.fill(ctx, userID, newUserSlots(active), pl, rep)
}

func (e *Engine) fillDaily(ctx context.Context, userID int64, st *userSlots, pl pools, rep *Report) error {
	if !st.occupied(SlotExploratory) {
		if m, ok := e.choose(pl[game.PoolExploratory], st, nil); ok {
			if err := e.assign(ctx, userID, SlotExploratory, m, st, rep); err != nil {
				return err
			}
		}
	}
	for _, slot := range []int{SlotEasyFirst, SlotEasySecond} {
		if st.occupied(slot) {
			continue
		}
		m, ok := e.choose(pl[game.PoolEasy], st, st.hasType)
		if !ok {
			continue
		}
		if err := e.assign(ctx, userID, slot, m, st, rep); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) fillWeekly(ctx context.Context, userID int64, st *userSlots, pl pools, rep *Report) error {
	if !st.occupied(SlotMedium) {
		hard, hardActive := st.bySlot[SlotHard]
		m, ok := e.choose(pl[game.PoolMedium], st, func(m game.Mission) bool {
			return hardActive && m.Type == hard.MissionType
		})
		if ok {
			if err := e.assign(ctx, userID, SlotMedium, m, st, rep); err != nil {
				return err
			}
		}
	}
	if !st.occupied(SlotHard) {
		if m, ok := e.choose(pl[game.PoolHard], st, st.hasType); ok {
			if err := e.assign(ctx, userID, SlotHard, m, st, rep); err != nil {
				return err
			}
		}
	}
	return nil
}

// choose draws uniformly from pool minus the user's active missions and
// the excluded types. When the type filter leaves nothing it falls back to
// the unfiltered candidates.
func (e *Engine) choose(pool []game.Mission, st *userSlots, excluded func(game.Mission) bool) (game.Mission, bool) {
	var open, diverse []game.Mission
	for _, m := range pool {
		if st.ids[m.ID] {
			continue
		}
		open = append(open, m)
		if excluded == nil || !excluded(m) {
			diverse = append(diverse, m)
		}
	}
	if len(diverse) == 0 {
		diverse = open
	}
	return game.Pick(e.rand, diverse)
}

func (e *Engine) assign(ctx context.Context, userID int64, slot int, m game.Mission, st *userSlots, rep *Report) error {
	row := game.MissionSlot{
		UserID:         userID,
		Slot:           slot,
		MissionID:      m.ID,
		MissionType:    m.Type,
		ProgressNeeded: m.ProgressNeeded,
		Status:         game.SlotStatusActive,
		AssignedAt:     e.clock.Now(),
	}
	inserted, err := e.store.AssignSlot(ctx, row)
	if err != nil {
		return fmt.Errorf("assign slot %d: %w", slot, err)
	}
	if inserted {
		rep.Assigned++
		st.add(row)
		return nil
	}
	rep.Conflicts++
	e.log.Debug("mission slot already filled", "user_id", userID, "slot", slot)
	// Another writer won the slot; continue from what it stored.
	active, err := e.store.ActiveSlots(ctx, userID)
	if err != nil {
		return fmt.Errorf("reload active slots: %w", err)
	}
	*st = *newUserSlots(active)
	return nil
}

type userSlots struct {
	bySlot map[int]game.MissionSlot
	ids    map[int64]bool
	types  map[string]bool
}

func newUserSlots(active []game.MissionSlot) *userSlots {
	st := &userSlots{
		bySlot: map[int]game.MissionSlot{},
		ids:    map[int64]bool{},
		types:  map[string]bool{},
	}
	for _, s := range active {
		if s.Status == game.SlotStatusActive {
			st.add(s)
		}
	}
	return st
}

func (s *userSlots) add(row game.MissionSlot) {
	s.bySlot[row.Slot] = row
	s.ids[row.MissionID] = true
	s.types[row.MissionType] = true
}

func (s *userSlots) occupied(slot int) bool {
	_, ok := s.bySlot[slot]
	return ok
}

func (s *userSlots) hasType(m game.Mission) bool {
	return s.types[m.Type]
}

// DailyBoundary is the most recent reset at hour on or before now.
func DailyBoundary(now time.Time, hour int) time.Time {
	now = now.UTC()
	y, m, d := now.Date()
	b := time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
	if now.Before(b) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

// WeeklyBoundary is the most recent reset at hour on the given weekday.
func WeeklyBoundary(now time.Time, hour int, weekday time.Weekday) time.Time {
	b := DailyBoundary(now, hour)
	back := (int(b.Weekday()) - int(weekday) + 7) % 7
	return b.AddDate(0, 0, -back)
}
