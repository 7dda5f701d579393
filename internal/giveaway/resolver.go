package giveaway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"encore/internal/game"
	"encore/internal/notify"
)

type Store interface {
	DueGiveaways(ctx context.Context, now time.Time) ([]game.Giveaway, error)
	Entrants(ctx context.Context, giveawayID int64) ([]game.Entrant, error)
	// CloseWithoutWinner deactivates the giveaway and releases the prize
	// back to the host. False means it was no longer active.
	CloseWithoutWinner(ctx context.Context, g game.Giveaway) (bool, error)
	// AwardWinner transfers the prize, flags the entry and deactivates the
	// giveaway in one transaction. False means it was no longer active.
	AwardWinner(ctx context.Context, g game.Giveaway, winnerID int64) (bool, error)
}

type Outcome string

const (
	OutcomeWon      Outcome = "won"
	OutcomeEmpty    Outcome = "empty"
	OutcomeResolved Outcome = "already_resolved"
)

type Result struct {
	Giveaway game.Giveaway
	Outcome  Outcome
	WinnerID int64
}

type Report struct {
	Results []Result
	Failed  int
}

type Resolver struct {
	store    Store
	notifier notify.Notifier
	rand     *game.Random
	clock    game.Clock
	log      *slog.Logger
}

func NewResolver(store Store, notifier notify.Notifier, rnd *game.Random, clock game.Clock, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = game.SystemClock{}
	}
	if rnd == nil {
		rnd = game.NewRandom(0)
	}
	return &Resolver{store: store, notifier: notifier, rand: rnd, clock: clock, log: logger}
}

// Run is the scheduler entry point. It fails when any giveaway failed so
// the cursor stays put and the next tick retries.
func (r *Resolver) Run(ctx context.Context) error {
	rep, err := r.ResolveDue(ctx)
	if err != nil {
		return err
	}
	if rep.Failed > 0 {
		return fmt.Errorf("%d giveaways failed to resolve", rep.Failed)
	}
	return nil
}

func (r *Resolver) ResolveDue(ctx context.Context) (Report, error) {
	var rep Report
	due, err := r.store.DueGiveaways(ctx, r.clock.Now())
	if err != nil {
		return rep, fmt.Errorf("load due giveaways: %w", err)
	}
	for _, g := range due {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, err := r.resolve(ctx, g)
		if err != nil {
			rep.Failed++
			r.log.Error("giveaway resolution failed", "giveaway_id", g.ID, "err", err)
			continue
		}
		rep.Results = append(rep.Results, res)
	}
	if len(due) > 0 {
		r.log.Info("giveaways resolved", "due", len(due), "resolved", len(rep.Results), "failed", rep.Failed)
	}
	return rep, nil
}

func (r *Resolver) resolve(ctx context.Context, g game.Giveaway) (Result, error) {
	res := Result{Giveaway: g}
	entrants, err := r.store.Entrants(ctx, g.ID)
	if err != nil {
		return res, fmt.Errorf("load entrants: %w", err)
	}

	winner, ok := game.Pick(r.rand, entrants)
	if !ok {
		closed, err := r.store.CloseWithoutWinner(ctx, g)
		if err != nil {
			return res, fmt.Errorf("close giveaway: %w", err)
		}
		if !closed {
			res.Outcome = OutcomeResolved
			return res, nil
		}
		res.Outcome = OutcomeEmpty
		r.editAnnouncement(ctx, g, noParticipantsMessage(g))
		return res, nil
	}

	awarded, err := r.store.AwardWinner(ctx, g, winner.UserID)
	if err != nil {
		return res, fmt.Errorf("award winner: %w", err)
	}
	if !awarded {
		res.Outcome = OutcomeResolved
		return res, nil
	}
	res.Outcome = OutcomeWon
	res.WinnerID = winner.UserID
	r.log.Info("giveaway won", "giveaway_id", g.ID, "user_id", winner.UserID, "entrants", len(entrants))

	if r.notifier != nil {
		_ = notify.BestEffort(ctx, r.log, "giveaway_winner", func(ctx context.Context) error {
			return r.notifier.NotifyUser(ctx, winner.UserID, winnerMessage(g))
		}, "giveaway_id", g.ID, "user_id", winner.UserID)
	}
	r.editAnnouncement(ctx, g, winnerAnnouncement(g, winner.UserID, len(entrants)))
	return res, nil
}

func (r *Resolver) editAnnouncement(ctx context.Context, g game.Giveaway, content string) {
	if r.notifier == nil || g.ChannelID == "" || g.MessageID == "" {
		return
	}
	_ = notify.BestEffort(ctx, r.log, "giveaway_announcement", func(ctx context.Context) error {
		return r.notifier.EditMessage(ctx, g.ChannelID, g.MessageID, content)
	}, "giveaway_id", g.ID)
}

func prizeLabel(g game.Giveaway) string {
	if g.PrizeName != "" {
		return "**" + g.PrizeName + "**"
	}
	return fmt.Sprintf("card #%d", g.PrizeCardID)
}

func noParticipantsMessage(g game.Giveaway) string {
	return fmt.Sprintf("Giveaway for %s has ended with no participants. The prize returns to %s.", prizeLabel(g), notify.Mention(g.HostID))
}

func winnerMessage(g game.Giveaway) string {
	return fmt.Sprintf("You won the giveaway for %s! It is now in your inventory.", prizeLabel(g))
}

func winnerAnnouncement(g game.Giveaway, winnerID int64, entrants int) string {
	return fmt.Sprintf("Giveaway for %s has ended. Winner: %s out of %d participants. Hosted by %s.",
		prizeLabel(g), notify.Mention(winnerID), entrants, notify.Mention(g.HostID))
}
