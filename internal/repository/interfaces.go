// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/timebank/internal/model"
)

// ProfileRepository はユーザープロフィールの永続化インターフェース。
// プロフィールはIDプロバイダーが発行するidをキーとして保存する。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.UserProfile, error)

	// Insert は新規プロフィールを作成する。
	// 同一IDの行が既に存在する場合はエラーを返す。
	Insert(ctx context.Context, profile *model.UserProfile) error

	// UpdateFields は指定IDのプロフィールに部分更新を適用する。
	// updateのnilフィールドは変更されない。対象行が存在しない場合はエラーを返す。
	UpdateFields(ctx context.Context, id string, update *model.ProfileUpdate) error
}
