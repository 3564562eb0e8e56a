// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/timebank/internal/middleware"
	"github.com/hitoshi/timebank/internal/model"
	"github.com/hitoshi/timebank/internal/session"
)

// SessionServiceInterface は認証ハンドラーが必要とするセッション管理インターフェース。
// session.Managerの部分集合として定義する。
type SessionServiceInterface interface {
	Login(ctx context.Context, email, password string) model.AuthResult
	Register(ctx context.Context, name, email, password, phone string) model.AuthResult
	Logout(ctx context.Context)
	Profile() *model.UserProfile
	IsLoggedIn() bool
	State() session.State
}

// AuthHandler はセッションライフサイクル関連のHTTPハンドラー。
type AuthHandler struct {
	sessions SessionServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessions SessionServiceInterface) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// registerRequest はユーザー登録リクエストのボディ。
type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

// authResultResponse は認証操作の統一レスポンス。
// 成功時はプロフィールを含み、失敗時はエラーメッセージのみを含む。
type authResultResponse struct {
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	Profile *profileResponse `json:"profile,omitempty"`
}

// profileResponse はプロフィールのJSON表現。
type profileResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Balance   int       `json:"balance"`
	AvatarURL string    `json:"avatar_url"`
	JoinedAt  time.Time `json:"joined_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// toProfileResponse はUserProfileをJSON表現に変換する。
func toProfileResponse(p *model.UserProfile) *profileResponse {
	if p == nil {
		return nil
	}
	return &profileResponse{
		ID:        p.ID,
		Name:      p.Name,
		Email:     p.Email,
		Phone:     p.Phone,
		Balance:   p.Balance,
		AvatarURL: p.AvatarURL,
		JoinedAt:  p.JoinedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
//
// 認証操作の結果は成功・失敗を問わずAuthResultとして返す。
// 失敗時のHTTPステータスは401（入力不備でも資格情報の誤りでも同一）。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "リクエストボディが不正です")
		return
	}

	result := h.sessions.Login(r.Context(), req.Email, req.Password)
	if !result.Success {
		writeAuthResult(w, http.StatusUnauthorized, result, nil)
		return
	}

	writeAuthResult(w, http.StatusOK, result, h.sessions.Profile())
}

// Register は新規ユーザーを登録する。
// POST /auth/register
//
// 登録成功後にメール確認待ちの場合、successはtrueだがプロフィールは含まれない。
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "リクエストボディが不正です")
		return
	}

	result := h.sessions.Register(r.Context(), req.Name, req.Email, req.Password, req.Phone)
	if !result.Success {
		writeAuthResult(w, http.StatusUnprocessableEntity, result, nil)
		return
	}

	// メール確認待ちの場合はAnonymousのまま成功を返す
	if !h.sessions.IsLoggedIn() {
		writeAuthResult(w, http.StatusAccepted, result, nil)
		return
	}

	writeAuthResult(w, http.StatusCreated, result, h.sessions.Profile())
}

// Logout はセッションを終了する。
// POST /auth/logout
//
// プロバイダーへの通知が失敗してもローカル状態は必ずAnonymousになるため、
// 常に204を返す。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のセッション状態とプロフィールを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.IsLoggedIn() {
		writeAPIError(w, model.NewNotAuthenticatedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"state":   h.sessions.State().String(),
		"profile": toProfileResponse(h.sessions.Profile()),
	})
}

// writeAPIError はAPIErrorをコードに対応するHTTPステータスで書き込む。
func writeAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, middleware.StatusCodeForError(apiErr), apiErr)
}

// writeValidationError はリクエスト検証エラーを書き込む。
func writeValidationError(w http.ResponseWriter, reason string) {
	writeAPIError(w, model.NewValidationError(reason))
}

// writeAuthResult はAuthResultの統一レスポンスを書き込む。
func writeAuthResult(w http.ResponseWriter, statusCode int, result model.AuthResult, profile *model.UserProfile) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(authResultResponse{
		Success: result.Success,
		Error:   result.Error,
		Profile: toProfileResponse(profile),
	})
}
