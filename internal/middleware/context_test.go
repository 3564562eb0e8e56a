package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/timebank/internal/model"
)

type stubSessionReader struct {
	loggedIn bool
	profile  *model.UserProfile
}

func (s *stubSessionReader) IsLoggedIn() bool            { return s.loggedIn }
func (s *stubSessionReader) Profile() *model.UserProfile { return s.profile }

func TestRequireLoginMiddleware_Authenticated_InjectsUserID(t *testing.T) {
	reader := &stubSessionReader{
		loggedIn: true,
		profile:  &model.UserProfile{ID: "user-1"},
	}
	mw := NewRequireLoginMiddleware(reader)

	var gotUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/profile/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Result().StatusCode)
	}
	if gotUserID != "user-1" {
		t.Errorf("user ID in context = %q, want user-1", gotUserID)
	}
}

func TestRequireLoginMiddleware_NotAuthenticated_Returns401(t *testing.T) {
	mw := NewRequireLoginMiddleware(&stubSessionReader{loggedIn: false})

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/profile/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Result().StatusCode)
	}
	if handlerCalled {
		t.Error("handler should not be reached without a session")
	}
}

func TestUserIDFromContext_MissingReturnsError(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without user ID")
	}
}

func TestContextWithUserID_RoundTrip(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "user-42")
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("user ID = %q, want user-42", userID)
	}
}
