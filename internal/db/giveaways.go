package db

import (
	"context"
	"time"

	"encore/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Giveaways implements giveaway.Store.
type Giveaways struct {
	db *pgxpool.Pool
}

func NewGiveaways(pool *pgxpool.Pool) *Giveaways {
	return &Giveaways{db: pool}
}

func (g *Giveaways) DueGiveaways(ctx context.Context, now time.Time) ([]game.Giveaway, error) {
	rows, err := g.db.Query(ctx, `
		SELECT gw.id, gw.prize_card_id, COALESCE(c.name, ''), gw.host_id,
		       COALESCE(gw.channel_id, ''), COALESCE(gw.message_id, ''), gw.deadline, gw.active
		FROM game.giveaways gw
		LEFT JOIN game.cards c ON c.id = gw.prize_card_id
		WHERE gw.active AND gw.deadline <= $1
		ORDER BY gw.deadline, gw.id
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Giveaway
	for rows.Next() {
		var gw game.Giveaway
		if err := rows.Scan(&gw.ID, &gw.PrizeCardID, &gw.PrizeName, &gw.HostID,
			&gw.ChannelID, &gw.MessageID, &gw.Deadline, &gw.Active); err != nil {
			return nil, err
		}
		out = append(out, gw)
	}
	return out, rows.Err()
}

func (g *Giveaways) Entrants(ctx context.Context, giveawayID int64) ([]game.Entrant, error) {
	rows, err := g.db.Query(ctx, `
		SELECT giveaway_id, user_id, is_winner
		FROM game.giveaway_entrants
		WHERE giveaway_id = $1
		ORDER BY user_id
	`, giveawayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Entrant
	for rows.Next() {
		var e game.Entrant
		if err := rows.Scan(&e.GiveawayID, &e.UserID, &e.IsWinner); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *Giveaways) CloseWithoutWinner(ctx context.Context, gw game.Giveaway) (bool, error) {
	closed := false
	err := inTx(ctx, g.db, func(tx pgx.Tx) error {
		closed = false
		ok, err := deactivate(ctx, tx, gw.ID)
		if err != nil || !ok {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE game.cards
			SET available = true
			WHERE id = $1 AND owner_id = $2
		`, gw.PrizeCardID, gw.HostID); err != nil {
			return err
		}
		closed = true
		return nil
	})
	return closed, err
}

func (g *Giveaways) AwardWinner(ctx context.Context, gw game.Giveaway, winnerID int64) (bool, error) {
	awarded := false
	err := inTx(ctx, g.db, func(tx pgx.Tx) error {
		awarded = false
		ok, err := deactivate(ctx, tx, gw.ID)
		if err != nil || !ok {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE game.cards
			SET owner_id = $2, available = true
			WHERE id = $1
		`, gw.PrizeCardID, winnerID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE game.giveaway_entrants
			SET is_winner = true
			WHERE giveaway_id = $1 AND user_id = $2
		`, gw.ID, winnerID); err != nil {
			return err
		}
		awarded = true
		return nil
	})
	return awarded, err
}

// deactivate reports false when another resolver already closed it.
func deactivate(ctx context.Context, tx pgx.Tx, id int64) (bool, error) {
	cmd, err := tx.Exec(ctx, `
		UPDATE game.giveaways
		SET active = false
		WHERE id = $1 AND active
	`, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}
