package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/timebank/internal/model"
)

func TestProfileHandler_UpdateProfile_PartialFields(t *testing.T) {
	var gotUpdate model.ProfileUpdate
	svc := &mockSessionService{
		updateProfileFn: func(ctx context.Context, update model.ProfileUpdate) model.AuthResult {
			gotUpdate = update
			return model.OK()
		},
		profileFn: sampleProfile,
		loggedIn:  true,
	}
	h := NewProfileHandler(svc)

	req := httptest.NewRequest(http.MethodPatch, "/api/profile/me",
		strings.NewReader(`{"phone":"080-1111-2222"}`))
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// 送信されたフィールドのみが更新対象になること
	if gotUpdate.Phone == nil || *gotUpdate.Phone != "080-1111-2222" {
		t.Errorf("update = %+v, want phone only", gotUpdate)
	}
	if gotUpdate.Name != nil || gotUpdate.Balance != nil || gotUpdate.AvatarURL != nil {
		t.Errorf("update = %+v, unspecified fields must stay nil", gotUpdate)
	}
}

func TestProfileHandler_UpdateProfile_Failure_Returns422(t *testing.T) {
	svc := &mockSessionService{
		updateProfileFn: func(ctx context.Context, update model.ProfileUpdate) model.AuthResult {
			return model.Fail("No user logged in")
		},
	}
	h := NewProfileHandler(svc)

	req := httptest.NewRequest(http.MethodPatch, "/api/profile/me",
		strings.NewReader(`{"name":"新しい名前"}`))
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	var body authResultResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Error != "No user logged in" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestProfileHandler_UpdateProfile_InvalidBody_Returns400(t *testing.T) {
	h := NewProfileHandler(&mockSessionService{})

	req := httptest.NewRequest(http.MethodPatch, "/api/profile/me", strings.NewReader("{broken"))
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Result().StatusCode)
	}
}

func TestProfileHandler_GetProfile_ReturnsProfile(t *testing.T) {
	svc := &mockSessionService{profileFn: sampleProfile, loggedIn: true}
	h := NewProfileHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/profile/me", nil)
	w := httptest.NewRecorder()

	h.GetProfile(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body.ID != "user-1" || body.Balance != 2 {
		t.Errorf("profile = %+v", body)
	}
}

func TestProfileHandler_GetProfile_NoProfile_Returns401(t *testing.T) {
	h := NewProfileHandler(&mockSessionService{})

	req := httptest.NewRequest(http.MethodGet, "/api/profile/me", nil)
	w := httptest.NewRecorder()

	h.GetProfile(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Result().StatusCode)
	}
}
