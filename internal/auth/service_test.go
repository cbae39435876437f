package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/kitchenhub/internal/model"
)

// mockSessionRepo はテスト用のSessionRepositoryモック。
type mockSessionRepo struct {
	findByIDFn      func(ctx context.Context, id string) (*model.Session, error)
	deleteExpiredFn func(ctx context.Context) (int64, error)
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx)
	}
	return 0, nil
}

// TestAuthenticate_ValidToken は有効なトークンでユーザーIDが返ることを検証する。
func TestAuthenticate_ValidToken(t *testing.T) {
	var gotID string
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			gotID = id
			return &model.Session{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	a := NewAuthenticator(repo)

	userID, err := a.Authenticate(context.Background(), "token-abc")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if userID != "user-1" {
		t.Errorf("userID = %q, want user-1", userID)
	}
	if gotID != "token-abc" {
		t.Errorf("FindByID called with %q, want token-abc", gotID)
	}
}

// TestAuthenticate_MissingToken は空トークンがストアを参照せずに拒否されることを検証する。
func TestAuthenticate_MissingToken(t *testing.T) {
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			t.Fatal("FindByID should not be called")
			return nil, nil
		},
	}
	a := NewAuthenticator(repo)

	_, err := a.Authenticate(context.Background(), "")
	if !errors.Is(err, ErrMissingToken) {
		t.Errorf("error = %v, want ErrMissingToken", err)
	}
	if !IsAuthError(err) {
		t.Error("IsAuthError() = false, want true")
	}
}

// TestAuthenticate_UnknownOrExpiredToken は存在しない・期限切れのトークンが拒否されることを検証する。
func TestAuthenticate_UnknownOrExpiredToken(t *testing.T) {
	a := NewAuthenticator(&mockSessionRepo{})

	_, err := a.Authenticate(context.Background(), "expired")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

// TestAuthenticate_StoreError はストア障害が認証失敗と区別されることを検証する。
func TestAuthenticate_StoreError(t *testing.T) {
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, errors.New("connection refused")
		},
	}
	a := NewAuthenticator(repo)

	_, err := a.Authenticate(context.Background(), "token")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsAuthError(err) {
		t.Error("IsAuthError() = true for store failure, want false")
	}
}
