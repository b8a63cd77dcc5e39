package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/susu3304/anklavbot/internal/directory"
	"github.com/susu3304/anklavbot/internal/equity"
)

// UpsertUser registers u if absent and reports whether a row was inserted.
func (db *DB) UpsertUser(ctx context.Context, u *directory.User) (bool, error) {
	if u.ID == "" {
		return false, fmt.Errorf("%w: user has no id", equity.ErrInvalidInput)
	}
	ct, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, username, first_name, last_name, language_code)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Username, u.FirstName, u.LastName, u.LanguageCode,
	)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (db *DB) UserByID(ctx context.Context, id string) (*directory.User, error) {
	var u directory.User
	err := db.pool.QueryRow(ctx,
		`SELECT id, username, first_name, last_name, language_code, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.LanguageCode, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", directory.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
