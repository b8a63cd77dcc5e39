package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/susu3304/anklavbot/internal/equity"
)

const roomColumns = `room_id, max_members, members, answers, weights, claimed, created_at`

// roomRow is a rooms row before its JSON columns are decoded.
type roomRow struct {
	ID        string
	Capacity  int
	Members   []string
	Answers   []byte
	Weights   []byte
	Claimed   bool
	CreatedAt time.Time
}

func (r *roomRow) fields() []any {
	return []any{&r.ID, &r.Capacity, &r.Members, &r.Answers, &r.Weights, &r.Claimed, &r.CreatedAt}
}

func (r *roomRow) group() (*equity.Group, error) {
	g := &equity.Group{
		ID:        r.ID,
		Capacity:  r.Capacity,
		Members:   r.Members,
		Claimed:   r.Claimed,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Answers) > 0 {
		if err := json.Unmarshal(r.Answers, &g.Submissions); err != nil {
			return nil, fmt.Errorf("decode answers of room %s: %w", r.ID, err)
		}
	}
	if len(r.Weights) > 0 && string(r.Weights) != "null" {
		var w equity.Weights
		if err := json.Unmarshal(r.Weights, &w); err != nil {
			return nil, fmt.Errorf("decode weights of room %s: %w", r.ID, err)
		}
		g.Weights = &w
	}
	return g, nil
}

func scanRoom(row pgx.Row) (*equity.Group, error) {
	var r roomRow
	if err := row.Scan(r.fields()...); err != nil {
		return nil, err
	}
	return r.group()
}

func collectRooms(rows pgx.Rows) ([]*equity.Group, error) {
	defer rows.Close()
	var out []*equity.Group
	for rows.Next() {
		g, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (db *DB) CreateRoom(ctx context.Context, g *equity.Group) error {
	if err := equity.ValidateGroup(g); err != nil {
		return err
	}
	answers, err := json.Marshal(nonNil(g.Submissions))
	if err != nil {
		return err
	}
	var weights []byte
	if g.Weights != nil {
		if weights, err = json.Marshal(g.Weights); err != nil {
			return err
		}
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO rooms (room_id, max_members, members, answers, weights)
		 VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.Capacity, g.Members, answers, weights,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", equity.ErrRoomExists, g.ID)
	}
	return err
}

func nonNil(s []equity.Submission) []equity.Submission {
	if s == nil {
		return []equity.Submission{}
	}
	return s
}

func (db *DB) GetRoom(ctx context.Context, id string) (*equity.Group, error) {
	g, err := scanRoom(db.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", equity.ErrGroupNotFound, id)
	}
	return g, err
}

// AddSubmission validates and appends sub while holding the room's row lock,
// so two members answering at once cannot both pass the capacity check.
func (db *DB) AddSubmission(ctx context.Context, roomID string, sub equity.Submission) (int, int, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	g, err := scanRoom(tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_id = $1 FOR UPDATE`, roomID))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: %s", equity.ErrGroupNotFound, roomID)
	}
	if err != nil {
		return 0, 0, err
	}
	if g.Claimed {
		return len(g.Submissions), g.Capacity, fmt.Errorf("%w: room %s is already being processed", equity.ErrInvalidInput, roomID)
	}
	if err := equity.ValidateSubmission(g, &sub); err != nil {
		return len(g.Submissions), g.Capacity, err
	}

	entry, err := json.Marshal([]equity.Submission{sub})
	if err != nil {
		return 0, 0, err
	}
	if _, err := tx.Exec(ctx, `UPDATE rooms SET answers = answers || $2::jsonb WHERE room_id = $1`, roomID, entry); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return len(g.Submissions) + 1, g.Capacity, nil
}

func (db *DB) CompletedUnclaimed(ctx context.Context) ([]*equity.Group, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+roomColumns+` FROM rooms
		 WHERE claimed = FALSE AND jsonb_array_length(answers) = max_members
		 ORDER BY created_at, room_id`)
	if err != nil {
		return nil, err
	}
	return collectRooms(rows)
}

// Claim is a single conditional UPDATE; the row comes back only to the
// caller whose update flipped the flag.
func (db *DB) Claim(ctx context.Context, id string) (*equity.Group, error) {
	g, err := scanRoom(db.pool.QueryRow(ctx,
		`UPDATE rooms SET claimed = TRUE
		 WHERE room_id = $1 AND claimed = FALSE
		 RETURNING `+roomColumns,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

func (db *DB) DeleteRoom(ctx context.Context, id string) error {
	ct, err := db.pool.Exec(ctx, `DELETE FROM rooms WHERE room_id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", equity.ErrGroupNotFound, id)
	}
	return nil
}

// ListClaimed returns claimed rooms still in active storage.
func (db *DB) ListClaimed(ctx context.Context) ([]*equity.Group, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+roomColumns+` FROM rooms WHERE claimed = TRUE ORDER BY created_at, room_id`)
	if err != nil {
		return nil, err
	}
	return collectRooms(rows)
}
