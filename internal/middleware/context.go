// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/timebank/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// requestIDContextKey はリクエストコンテキストにリクエストIDを格納するためのキー。
var requestIDContextKey = contextKey("request_id")

// SessionReader は認証状態の参照に必要なインターフェース。
// session.Managerの部分集合として定義する。
type SessionReader interface {
	IsLoggedIn() bool
	Profile() *model.UserProfile
}

// NewRequireLoginMiddleware は認証済みセッションを要求するミドルウェアを返す。
// セッションマネージャーがAuthenticated状態でない場合は401を返す。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
func NewRequireLoginMiddleware(sessions SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profile := sessions.Profile()
			if !sessions.IsLoggedIn() || profile == nil {
				apiErr := model.NewNotAuthenticatedError()
				WriteErrorResponse(w, StatusCodeForError(apiErr), apiErr)
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, profile.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// RequireLoginミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// RequestIDFromContext はリクエストコンテキストからリクエストIDを取得する。
// ロギングミドルウェアを通過したリクエストでのみ有効。
func RequestIDFromContext(ctx context.Context) string {
	requestID, ok := ctx.Value(requestIDContextKey).(string)
	if !ok {
		return ""
	}
	return requestID
}
