package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/susu3304/anklavbot/internal/equity"
)

// CreateArchive writes the snapshot. The unique room_id makes a repeated
// call a no-op.
func (db *DB) CreateArchive(ctx context.Context, a *equity.Archived) error {
	room, err := json.Marshal(a.Group)
	if err != nil {
		return err
	}
	result, err := json.Marshal(a.Result)
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO archived_rooms (room_id, room, result, archived_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (room_id) DO NOTHING`,
		a.Group.ID, room, result, a.ArchivedAt,
	)
	return err
}

// ArchiveByParticipant returns the latest archive with a submission by
// participantID.
func (db *DB) ArchiveByParticipant(ctx context.Context, participantID string) (*equity.Archived, error) {
	probe, err := json.Marshal([]map[string]string{{"id": participantID}})
	if err != nil {
		return nil, err
	}
	var (
		a            equity.Archived
		room, result []byte
	)
	err = db.pool.QueryRow(ctx,
		`SELECT room, result, archived_at FROM archived_rooms
		 WHERE room -> 'answers' @> $1::jsonb
		 ORDER BY archived_at DESC
		 LIMIT 1`,
		probe,
	).Scan(&room, &result, &a.ArchivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: participant %s", equity.ErrArchiveNotFound, participantID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(room, &a.Group); err != nil {
		return nil, fmt.Errorf("decode archived room: %w", err)
	}
	if err := json.Unmarshal(result, &a.Result); err != nil {
		return nil, fmt.Errorf("decode archived result: %w", err)
	}
	return &a, nil
}

func (db *DB) ArchiveExists(ctx context.Context, roomID string) (bool, error) {
	var ok bool
	err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM archived_rooms WHERE room_id = $1)`, roomID).Scan(&ok)
	return ok, err
}
