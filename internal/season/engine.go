package season

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"encore/internal/game"
	"encore/internal/notify"
)

// Store runs a unit of season work atomically.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the season view of the store inside one transaction. Counter
// updates are single-statement increments; they report false when the
// target row no longer exists.
type Tx interface {
	ActiveInstance(ctx context.Context) (*game.EventInstance, error)
	ScheduledInstance(ctx context.Context, start time.Time) (*game.EventInstance, error)
	SetInstanceStatus(ctx context.Context, id int64, from, to game.EventStatus) error
	InsertInstance(ctx context.Context, inst game.EventInstance) (int64, error)
	NextSequence(ctx context.Context, eventTypeID int64) (int64, error)

	EventType(ctx context.Context, id int64) (game.EventType, error)
	EventTypes(ctx context.Context) ([]game.EventType, error)
	RewardTiers(ctx context.Context, eventTypeID int64) ([]game.RewardTier, error)
	Songs(ctx context.Context) ([]game.Song, error)
	CardSets(ctx context.Context) ([]game.CardSet, error)

	Participations(ctx context.Context, instanceID int64) ([]game.Participation, error)
	CloseParticipation(ctx context.Context, p game.Participation) error
	RecordPlacement(ctx context.Context, p game.Participation) error

	AddCredits(ctx context.Context, userID, amount int64) (bool, error)
	GrantPack(ctx context.Context, userID, packID int64, code string) (bool, error)
	GrantBadge(ctx context.Context, userID, badgeID int64) error
	AddGroupPopularity(ctx context.Context, groupID, delta int64) (int64, bool, error)
	AddPermanentPopularity(ctx context.Context, groupID, amount int64) error
	SetLimitedPack(ctx context.Context, cardSetID *int64, price int64, available bool) error
}

type Config struct {
	WeekStart       time.Weekday
	StartHour       int
	EndHour         int
	AnnounceChannel string
}

type Placement struct {
	Participation   game.Participation
	TierCredits     int64
	MerchBonus      int64
	PackCodes       []string
	Badges          []int64
	PermanentBonus  int64
	GroupPopularity int64
	OwnerMissing    bool
	GroupMissing    bool
}

type Outcome struct {
	Finished     *game.EventInstance
	FinishedType game.EventType
	Placements   []Placement
	Winner       *Placement

	Activated     *game.EventInstance
	ActivatedType game.EventType
	Song          *game.Song
	CardSet       *game.CardSet
}

type Engine struct {
	store    Store
	notifier notify.Notifier
	rand     *game.Random
	clock    game.Clock
	cfg      Config
	log      *slog.Logger
}

func NewEngine(store Store, notifier notify.Notifier, rnd *game.Random, clock game.Clock, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = game.SystemClock{}
	}
	if rnd == nil {
		rnd = game.NewRandom(0)
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		rand:     rnd,
		clock:    clock,
		cfg:      cfg,
		log:      logger,
	}
}

// WeekWindow returns the event window for the week containing now: the
// week-start day at startHour through six days later at endHour. Once that
// week's end has passed the following week is returned instead.
func WeekWindow(now time.Time, weekStart time.Weekday, startHour, endHour int) (time.Time, time.Time) {
	now = now.UTC()
	y, m, d := now.Date()
	back := (int(now.Weekday()) - int(weekStart) + 7) % 7
	start := time.Date(y, m, d-back, startHour, 0, 0, 0, time.UTC)
	end := time.Date(y, m, d-back+6, endHour, 0, 0, 0, time.UTC)
	if !end.After(now) {
		start = start.AddDate(0, 0, 7)
		end = end.AddDate(0, 0, 7)
	}
	return start, end
}

// Run is the scheduler entry point.
func (e *Engine) Run(ctx context.Context) error {
	_, err := e.Rotate(ctx)
	return err
}

// Rotate finalizes the active instance once its window has passed and
// activates the next one. State changes commit together; messages go out
// afterwards and never undo them.
func (e *Engine) Rotate(ctx context.Context) (Outcome, error) {
	now := e.clock.Now()
	var out Outcome
	err := e.store.InTx(ctx, func(tx Tx) error {
		out = Outcome{}
		active, err := tx.ActiveInstance(ctx)
		if err != nil {
			return fmt.Errorf("load active instance: %w", err)
		}
		if active != nil && now.Before(active.EndTime) {
			return nil
		}
		if active != nil {
			if err := e.finalize(ctx, tx, *active, &out); err != nil {
				return err
			}
		}
		return e.activate(ctx, tx, now, &out)
	})
	if err != nil {
		return Outcome{}, err
	}
	if out.Finished == nil && out.Activated == nil {
		e.log.Info("season still running")
		return out, nil
	}

	e.deliverRewards(ctx, out)
	e.announce(ctx, out)
	return out, nil
}

func (e *Engine) finalize(ctx context.Context, tx Tx, inst game.EventInstance, out *Outcome) error {
	next, err := inst.Status.Transition(game.EventFinished)
	if err != nil {
		return err
	}
	if err := tx.SetInstanceStatus(ctx, inst.ID, inst.Status, next); err != nil {
		return fmt.Errorf("finish instance %d: %w", inst.ID, err)
	}
	inst.Status = next

	et, err := tx.EventType(ctx, inst.EventTypeID)
	if err != nil {
		return fmt.Errorf("load event type %d: %w", inst.EventTypeID, err)
	}
	parts, err := tx.Participations(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("load participations: %w", err)
	}
	for i, p := range parts {
		closed, changed, err := p.Finalize()
		if err != nil {
			return err
		}
		if changed {
			if err := tx.CloseParticipation(ctx, closed); err != nil {
				return fmt.Errorf("close participation %d: %w", p.ID, err)
			}
		}
		parts[i] = closed
	}

	tiers, err := tx.RewardTiers(ctx, inst.EventTypeID)
	if err != nil {
		return fmt.Errorf("load reward tiers: %w", err)
	}
	for _, p := range game.Rank(parts) {
		pl, err := e.reward(ctx, tx, et, p, tiers)
		if err != nil {
			return fmt.Errorf("reward participation %d: %w", p.ID, err)
		}
		out.Placements = append(out.Placements, pl)
	}
	for i := range out.Placements {
		if out.Placements[i].Participation.Rank == 1 {
			out.Winner = &out.Placements[i]
			break
		}
	}
	out.Finished = &inst
	out.FinishedType = et
	e.log.Info("season finalized", "instance_id", inst.ID, "ranked", len(out.Placements))
	return nil
}

func (e *Engine) reward(ctx context.Context, tx Tx, et game.EventType, p game.Participation, tiers []game.RewardTier) (Placement, error) {
	covering := game.TiersFor(p.Rank, tiers)
	pl := Placement{}
	for _, t := range covering {
		pl.TierCredits += t.Credits
	}
	p.FinalPopularity = game.BoostedPopularity(p.RawScore, covering)
	total, found, err := tx.AddGroupPopularity(ctx, p.GroupID, p.FinalPopularity)
	if err != nil {
		return pl, err
	}
	if found {
		pl.GroupPopularity = total
		pl.MerchBonus = game.MerchBonus(total)
		bonus, err := et.Category.PermanentBonus(p.Rank, len(covering) > 0)
		if err != nil {
			return pl, err
		}
		if bonus > 0 {
			if err := tx.AddPermanentPopularity(ctx, p.GroupID, bonus); err != nil {
				return pl, err
			}
			pl.PermanentBonus = bonus
		}
	} else {
		e.log.Warn("group missing, popularity skipped", "participation_id", p.ID, "group_id", p.GroupID)
		pl.GroupMissing = true
	}

	// The credit statement doubles as the owner existence check, so it runs
	// before any pack or badge references the owner.
	found, err = tx.AddCredits(ctx, p.OwnerID, pl.TierCredits+pl.MerchBonus)
	if err != nil {
		return pl, err
	}
	if !found {
		e.log.Warn("owner missing, rewards skipped", "participation_id", p.ID, "user_id", p.OwnerID)
		pl.OwnerMissing = true
		pl.TierCredits, pl.MerchBonus = 0, 0
	} else {
		for _, t := range covering {
			if t.PackID != nil {
				code, err := e.grantPack(ctx, tx, p.OwnerID, *t.PackID)
				if err != nil {
					return pl, err
				}
				pl.PackCodes = append(pl.PackCodes, code)
			}
			if t.BadgeID != nil {
				if err := tx.GrantBadge(ctx, p.OwnerID, *t.BadgeID); err != nil {
					return pl, err
				}
				pl.Badges = append(pl.Badges, *t.BadgeID)
			}
		}
	}

	if err := tx.RecordPlacement(ctx, p); err != nil {
		return pl, err
	}
	pl.Participation = p
	return pl, nil
}

func (e *Engine) grantPack(ctx context.Context, tx Tx, userID, packID int64) (string, error) {
	for i := 0; i < game.MaxPackCodeTries; i++ {
		code := e.rand.PackCode()
		ok, err := tx.GrantPack(ctx, userID, packID, code)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	return "", game.ErrPackCodeExhausted
}

func (e *Engine) activate(ctx context.Context, tx Tx, now time.Time, out *Outcome) error {
	start, end := WeekWindow(now, e.cfg.WeekStart, e.cfg.StartHour, e.cfg.EndHour)

	inst, err := tx.ScheduledInstance(ctx, start)
	if err != nil {
		return fmt.Errorf("load scheduled instance: %w", err)
	}
	var et game.EventType
	if inst != nil {
		next, err := inst.Status.Transition(game.EventActive)
		if err != nil {
			return err
		}
		if err := tx.SetInstanceStatus(ctx, inst.ID, inst.Status, next); err != nil {
			return fmt.Errorf("activate instance %d: %w", inst.ID, err)
		}
		inst.Status = next
		if et, err = tx.EventType(ctx, inst.EventTypeID); err != nil {
			return fmt.Errorf("load event type %d: %w", inst.EventTypeID, err)
		}
	} else {
		if et, inst, err = e.drawInstance(ctx, tx, start, end, out); err != nil {
			return err
		}
	}

	if err := e.resolveExtras(ctx, tx, inst, out); err != nil {
		return err
	}
	if inst.CardSetID != nil {
		err = tx.SetLimitedPack(ctx, inst.CardSetID, game.LimitedPackPrice, true)
	} else {
		err = tx.SetLimitedPack(ctx, nil, 0, false)
	}
	if err != nil {
		return fmt.Errorf("update limited pack: %w", err)
	}

	out.Activated = inst
	out.ActivatedType = et
	e.log.Info("event activated", "instance_id", inst.ID, "event_type", et.Name, "sequence", inst.Sequence)
	return nil
}

func (e *Engine) drawInstance(ctx context.Context, tx Tx, start, end time.Time, out *Outcome) (game.EventType, *game.EventInstance, error) {
	types, err := tx.EventTypes(ctx)
	if err != nil {
		return game.EventType{}, nil, fmt.Errorf("load event types: %w", err)
	}
	weights := make([]int64, len(types))
	for i, t := range types {
		weights[i] = t.Weight
	}
	idx := e.rand.WeightedIndex(weights)
	if idx < 0 {
		return game.EventType{}, nil, game.ErrNoEventTypes
	}
	et := types[idx]

	seq, err := tx.NextSequence(ctx, et.ID)
	if err != nil {
		return et, nil, fmt.Errorf("next sequence: %w", err)
	}
	inst := &game.EventInstance{
		EventTypeID: et.ID,
		Sequence:    seq,
		StartTime:   start,
		EndTime:     end,
		Status:      game.EventActive,
	}

	if et.WantsSong {
		songs, err := tx.Songs(ctx)
		if err != nil {
			return et, nil, fmt.Errorf("load songs: %w", err)
		}
		if song, ok := game.Pick(e.rand, songs); ok {
			inst.SongID = &song.ID
			out.Song = &song
		}
	}
	if et.WantsCardSet {
		if out.Song != nil && out.Song.CardSetID != nil {
			inst.CardSetID = out.Song.CardSetID
		} else {
			sets, err := tx.CardSets(ctx)
			if err != nil {
				return et, nil, fmt.Errorf("load card sets: %w", err)
			}
			if set, ok := game.Pick(e.rand, sets); ok {
				inst.CardSetID = &set.ID
				out.CardSet = &set
			}
		}
	}

	id, err := tx.InsertInstance(ctx, *inst)
	if err != nil {
		return et, nil, fmt.Errorf("insert instance: %w", err)
	}
	inst.ID = id
	return et, inst, nil
}

// resolveExtras fills in song and card-set details for the announcement.
func (e *Engine) resolveExtras(ctx context.Context, tx Tx, inst *game.EventInstance, out *Outcome) error {
	if inst.SongID != nil && out.Song == nil {
		songs, err := tx.Songs(ctx)
		if err != nil {
			return fmt.Errorf("load songs: %w", err)
		}
		for i := range songs {
			if songs[i].ID == *inst.SongID {
				out.Song = &songs[i]
				break
			}
		}
	}
	if inst.CardSetID != nil && out.CardSet == nil {
		sets, err := tx.CardSets(ctx)
		if err != nil {
			return fmt.Errorf("load card sets: %w", err)
		}
		for i := range sets {
			if sets[i].ID == *inst.CardSetID {
				out.CardSet = &sets[i]
				break
			}
		}
	}
	return nil
}

func (e *Engine) deliverRewards(ctx context.Context, out Outcome) {
	if e.notifier == nil {
		return
	}
	for _, pl := range out.Placements {
		if pl.OwnerMissing {
			continue
		}
		owner := pl.Participation.OwnerID
		msg := rewardSummary(out.FinishedType, out.Finished, pl)
		_ = notify.BestEffort(ctx, e.log, "season_reward", func(ctx context.Context) error {
			return e.notifier.NotifyUser(ctx, owner, msg)
		}, "user_id", owner)
	}
}

func (e *Engine) announce(ctx context.Context, out Outcome) {
	if e.notifier == nil || out.Activated == nil {
		return
	}
	msg := announcement(out)
	_ = notify.BestEffort(ctx, e.log, "season_announcement", func(ctx context.Context) error {
		_, err := e.notifier.PostAnnouncement(ctx, e.cfg.AnnounceChannel, msg)
		return err
	}, "instance_id", out.Activated.ID)
}
