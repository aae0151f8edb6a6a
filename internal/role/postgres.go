package role

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

const usersTable = "chat_users"

// PostgresModerators stores the moderator grant as a flag on the chat_users
// record of each participant.
type PostgresModerators struct {
	db *sqlx.DB
}

// NewPostgresModerators creates a moderator store backed by db. The schema
// is created by store.Migrate.
func NewPostgresModerators(db *sqlx.DB) *PostgresModerators {
	return &PostgresModerators{db: db}
}

func (p *PostgresModerators) IsModerator(ctx context.Context, email string) (bool, error) {
	query, args, err := sq.Select("is_moderator").
		From(usersTable).
		Where(sq.Eq{"email": email}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("role: build select: %w", err)
	}

	var isMod bool
	err = p.db.QueryRowxContext(ctx, query, args...).Scan(&isMod)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("role: is moderator: %w", err)
	}
	return isMod, nil
}

// SetModerator upserts the user record and sets its moderator flag.
func (p *PostgresModerators) SetModerator(ctx context.Context, email string, moderator bool) error {
	query, args, err := sq.Insert(usersTable).
		Columns("email", "is_moderator").
		Values(email, moderator).
		Suffix("ON CONFLICT (email) DO UPDATE SET is_moderator = EXCLUDED.is_moderator, updated_at = NOW()").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("role: build upsert: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("role: set moderator: %w", err)
	}
	return nil
}

func (p *PostgresModerators) Moderators(ctx context.Context) ([]string, error) {
	query, args, err := sq.Select("email").
		From(usersTable).
		Where(sq.Eq{"is_moderator": true}).
		OrderBy("email").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("role: build list: %w", err)
	}

	emails := []string{}
	if err := p.db.SelectContext(ctx, &emails, query, args...); err != nil {
		return nil, fmt.Errorf("role: list moderators: %w", err)
	}
	return emails, nil
}
