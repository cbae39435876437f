package repository

import (
	"errors"
	"math"
	"strings"

	"github.com/hitoshi/kitchenhub/internal/message"
	"github.com/hitoshi/kitchenhub/internal/model"
)

// addAmount は数量を加算する。int64を超える場合はErrOverflowを返す。
func addAmount(current, amount int64) (int64, error) {
	if amount > 0 && current > math.MaxInt64-amount {
		return 0, ErrOverflow
	}
	return current + amount, nil
}

// appendUnique は重複しない場合のみidを追加する。
func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// unresolvedEmails はユーザーに解決できなかったメールアドレスを返す。
func unresolvedEmails(emails []string, users []*model.User) []string {
	found := make(map[string]struct{}, len(users))
	for _, u := range users {
		found[strings.ToLower(u.Email)] = struct{}{}
	}
	var skipped []string
	for _, e := range emails {
		if _, ok := found[strings.ToLower(e)]; !ok {
			skipped = append(skipped, e)
		}
	}
	return skipped
}

// tagItemError は失敗したメッセージの種類をItemErrorに記録する。
func tagItemError(err error, m message.Message) error {
	var itemErr *ItemError
	if errors.As(err, &itemErr) {
		itemErr.Kind = m.Kind()
	}
	return err
}
