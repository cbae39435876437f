// Package model はドメインモデルを定義する。
package model

import "time"

// User はキッチンを利用するユーザーを表す。
// Emailは一意で、キッチン共有時の宛先解決に使用する。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// ハブは外部で発行されたセッションを参照するのみで、作成や延長は行わない。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
