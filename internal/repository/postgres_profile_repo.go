package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/timebank/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.UserProfile, error) {
	profile := &model.UserProfile{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, phone, balance, avatar_url, joined_at, updated_at
		 FROM profiles WHERE id = $1`,
		id,
	).Scan(
		&profile.ID, &profile.Name, &profile.Email, &profile.Phone,
		&profile.Balance, &profile.AvatarURL, &profile.JoinedAt, &profile.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}

	return profile, nil
}

// Insert は新規プロフィールを作成する。
func (r *PostgresProfileRepo) Insert(ctx context.Context, profile *model.UserProfile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, email, phone, balance, avatar_url, joined_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		profile.ID, profile.Name, profile.Email, profile.Phone,
		profile.Balance, profile.AvatarURL, profile.JoinedAt, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// UpdateFields は指定IDのプロフィールに部分更新を適用する。
// SET句はnilでないフィールドのみから動的に構築する。
func (r *PostgresProfileRepo) UpdateFields(ctx context.Context, id string, update *model.ProfileUpdate) error {
	if update == nil || update.IsEmpty() {
		return nil
	}

	setClauses := make([]string, 0, 5)
	args := make([]any, 0, 6)

	appendSet := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Name != nil {
		appendSet("name", *update.Name)
	}
	if update.Phone != nil {
		appendSet("phone", *update.Phone)
	}
	if update.Balance != nil {
		appendSet("balance", *update.Balance)
	}
	if update.AvatarURL != nil {
		appendSet("avatar_url", *update.AvatarURL)
	}
	appendSet("updated_at", time.Now())

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE profiles SET %s WHERE id = $%d",
		strings.Join(setClauses, ", "), len(args),
	)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewProfileNotFoundError(id)
	}

	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
