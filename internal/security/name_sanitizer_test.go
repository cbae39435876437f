package security

import (
	"strings"
	"testing"
)

// TestSanitizeName はタグが除去されプレーンテキストが残ることを検証する。
func TestSanitizeName(t *testing.T) {
	sanitizer := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "プレーンテキストはそのまま",
			input: "我が家のキッチン",
			want:  "我が家のキッチン",
		},
		{
			name:  "scriptタグは内容ごと除去される",
			input: "Pantry<script>alert(1)</script>",
			want:  "Pantry",
		},
		{
			name:  "装飾タグは除去され中身が残る",
			input: "<b>Milk</b> &amp; <i>Eggs</i>",
			want:  "Milk & Eggs",
		},
		{
			name:  "前後の空白は除去される",
			input: "  Rice  ",
			want:  "Rice",
		},
		{
			name:  "アンパサンドはそのまま保存される",
			input: "Salt & Pepper",
			want:  "Salt & Pepper",
		},
		{
			name:  "エスケープされたタグも除去される",
			input: "&lt;b&gt;Tea&lt;/b&gt;",
			want:  "Tea",
		},
		{
			name:  "タグのみの入力は空文字列になる",
			input: "<img src=x onerror=alert(1)>",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.SanitizeName(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeName_Idempotent は同一入力に対して常に同一出力を返すことを検証する。
func TestSanitizeName_Idempotent(t *testing.T) {
	sanitizer := NewNameSanitizer()
	input := `<a href="javascript:alert(1)">Oat milk</a>`

	first := sanitizer.SanitizeName(input)
	second := sanitizer.SanitizeName(first)

	if first != second {
		t.Errorf("sanitize is not idempotent: %q -> %q", first, second)
	}
	if strings.Contains(first, "<") {
		t.Errorf("SanitizeName(%q) = %q, should not contain markup", input, first)
	}
}
