package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/timebank/internal/model"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするインターフェース。
// session.Managerの部分集合として定義する。
type ProfileServiceInterface interface {
	UpdateProfile(ctx context.Context, update model.ProfileUpdate) model.AuthResult
	Profile() *model.UserProfile
}

// ProfileHandler はプロフィール管理のHTTPハンドラー。
type ProfileHandler struct {
	sessions ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(sessions ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{
		sessions: sessions,
	}
}

// updateProfileRequest はプロフィール更新リクエストのボディ。
// 送信されたフィールドのみが更新対象となる（部分更新）。
type updateProfileRequest struct {
	Name      *string `json:"name"`
	Phone     *string `json:"phone"`
	Balance   *int    `json:"balance"`
	AvatarURL *string `json:"avatar_url"`
}

// UpdateProfile はログインユーザーのプロフィールを部分更新する。
// PATCH /api/profile/me
//
// リクエストに含まれるフィールドのみを更新し、省略されたフィールドは変更しない。
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "リクエストボディが不正です")
		return
	}

	update := model.ProfileUpdate{
		Name:      req.Name,
		Phone:     req.Phone,
		Balance:   req.Balance,
		AvatarURL: req.AvatarURL,
	}

	result := h.sessions.UpdateProfile(r.Context(), update)
	if !result.Success {
		writeAuthResult(w, http.StatusUnprocessableEntity, result, nil)
		return
	}

	writeAuthResult(w, http.StatusOK, result, h.sessions.Profile())
}

// GetProfile はログインユーザーのプロフィールを返す。
// GET /api/profile/me
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile := h.sessions.Profile()
	if profile == nil {
		writeAPIError(w, model.NewNotAuthenticatedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toProfileResponse(profile))
}
