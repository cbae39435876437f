// Package auth はセッショントークンによるユーザー認証を提供する。
//
// セッションの発行・延長は外部の認証サービスが担い、
// ここでは発行済みトークンをユーザーIDに解決するのみを行う。
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/kitchenhub/internal/repository"
)

var (
	// ErrMissingToken はセッショントークンが指定されていないことを表す。
	ErrMissingToken = errors.New("session token is missing")
	// ErrInvalidToken はトークンが存在しないか期限切れであることを表す。
	ErrInvalidToken = errors.New("session token is invalid")
)

// Authenticator はセッショントークンを検証し、ユーザーIDを返す。
type Authenticator struct {
	sessions repository.SessionRepository
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(sessions repository.SessionRepository) *Authenticator {
	return &Authenticator{sessions: sessions}
}

// Authenticate はトークンに対応するユーザーIDを返す。
// 認証失敗はErrMissingTokenまたはErrInvalidToken、ストアの障害はそれ以外のエラーを返す。
func (a *Authenticator) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}

	session, err := a.sessions.FindByID(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	if session == nil {
		return "", ErrInvalidToken
	}
	return session.UserID, nil
}

// IsAuthError は認証失敗（ストア障害ではない）かどうかを返す。
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingToken) || errors.Is(err, ErrInvalidToken)
}
