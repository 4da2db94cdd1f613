package model

import (
	"strings"
	"testing"
)

// TestMakeTeaser はHTMLからのテキスト抽出を検証する。
func TestMakeTeaser(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "タグの除去",
			content: "<p>Hello <strong>world</strong></p>",
			want:    "Hello world",
		},
		{
			name:    "script要素の中身は無視",
			content: "<p>before</p><script>alert('x')</script><p>after</p>",
			want:    "before after",
		},
		{
			name:    "style要素の中身は無視",
			content: "<style>.a { color: red }</style><p>text</p>",
			want:    "text",
		},
		{
			name:    "連続空白の圧縮",
			content: "<p>a\n\n  b\t\tc</p>",
			want:    "a b c",
		},
		{
			name:    "プレーンテキストはそのまま",
			content: "plain text",
			want:    "plain text",
		},
		{
			name:    "空文字",
			content: "",
			want:    "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MakeTeaser(tc.content); got != tc.want {
				t.Errorf("MakeTeaser(%q) = %q, want %q", tc.content, got, tc.want)
			}
		})
	}
}

// TestMakeTeaser_Truncation は200文字で切り詰められることを検証する。
func TestMakeTeaser_Truncation(t *testing.T) {
	long := strings.Repeat("あ", 500)
	got := MakeTeaser("<p>" + long + "</p>")

	runes := []rune(got)
	if len(runes) != 201 { // 200文字 + 省略記号
		t.Errorf("切り詰め後の長さが想定と異なります: %d文字", len(runes))
	}
	if runes[len(runes)-1] != '…' {
		t.Error("末尾に省略記号がありません")
	}
}

// TestCursor_IsZero はカーソルのゼロ値判定を検証する。
func TestCursor_IsZero(t *testing.T) {
	if !(Cursor{}).IsZero() {
		t.Error("ゼロ値カーソルがIsZero=falseです")
	}
	if (Cursor{FromID: 1}).IsZero() {
		t.Error("FromID設定済みカーソルがIsZero=trueです")
	}
}

// TestFetchParams_RequiresOnline はオンライン専用フィルタの判定を検証する。
func TestFetchParams_RequiresOnline(t *testing.T) {
	if (FetchParams{Type: FilterTypeUnread}).RequiresOnline() {
		t.Error("種別フィルタのみでオンライン必須扱いです")
	}
	if !(FetchParams{Tag: "go"}).RequiresOnline() {
		t.Error("タグフィルタがオンライン必須になっていません")
	}
	if !(FetchParams{Source: 1}).RequiresOnline() {
		t.Error("ソースフィルタがオンライン必須になっていません")
	}
	if !(FetchParams{Search: "golang"}).RequiresOnline() {
		t.Error("検索フィルタがオンライン必須になっていません")
	}
}
