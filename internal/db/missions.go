package db

import (
	"context"
	"time"

	"encore/internal/game"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Missions implements mission.Store.
type Missions struct {
	db *pgxpool.Pool
}

func NewMissions(pool *pgxpool.Pool) *Missions {
	return &Missions{db: pool}
}

func (m *Missions) Users(ctx context.Context) ([]int64, error) {
	rows, err := m.db.Query(ctx, `SELECT user_id FROM game.users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (m *Missions) ActiveSlots(ctx context.Context, userID int64) ([]game.MissionSlot, error) {
	rows, err := m.db.Query(ctx, `
		SELECT s.user_id, s.slot, s.mission_id, m.mission_type, s.progress_needed,
		       s.progress_obtained, s.status, s.assigned_at
		FROM game.mission_slots s
		JOIN game.missions m ON m.id = s.mission_id
		WHERE s.user_id = $1 AND s.status = 'active'
		ORDER BY s.slot
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.MissionSlot
	for rows.Next() {
		var s game.MissionSlot
		if err := rows.Scan(&s.UserID, &s.Slot, &s.MissionID, &s.MissionType, &s.ProgressNeeded,
			&s.ProgressObtained, &s.Status, &s.AssignedAt); err != nil {
			return nil, err
		}
		s.AssignedAt = s.AssignedAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func (m *Missions) Missions(ctx context.Context, pool game.MissionPool) ([]game.Mission, error) {
	rows, err := m.db.Query(ctx, `
		SELECT id, mission_type, pool, progress_needed
		FROM game.missions
		WHERE pool = $1
		ORDER BY id
	`, string(pool))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Mission
	for rows.Next() {
		var (
			ms game.Mission
			p  string
		)
		if err := rows.Scan(&ms.ID, &ms.Type, &p, &ms.ProgressNeeded); err != nil {
			return nil, err
		}
		ms.Pool = game.MissionPool(p)
		out = append(out, ms)
	}
	return out, rows.Err()
}

func (m *Missions) ExpireSlots(ctx context.Context, userID int64, slots []int, before time.Time) (int64, error) {
	cmd, err := m.db.Exec(ctx, `
		UPDATE game.mission_slots
		SET status = 'expired'
		WHERE user_id = $1 AND status = 'active' AND slot = ANY($2) AND assigned_at < $3
	`, userID, slots, before.UTC())
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// AssignSlot relies on the partial unique index on (user_id, slot) for
// active rows.
func (m *Missions) AssignSlot(ctx context.Context, s game.MissionSlot) (bool, error) {
	cmd, err := m.db.Exec(ctx, `
		INSERT INTO game.mission_slots (user_id, slot, mission_id, progress_needed, progress_obtained, status, assigned_at)
		VALUES ($1, $2, $3, $4, 0, 'active', $5)
		ON CONFLICT (user_id, slot) WHERE status = 'active' DO NOTHING
	`, s.UserID, s.Slot, s.MissionID, s.ProgressNeeded, s.AssignedAt.UTC())
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}
