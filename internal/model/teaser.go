package model

import (
	"strings"

	"golang.org/x/net/html"
)

// teaserMaxRunes は抜粋テキストの最大文字数。
const teaserMaxRunes = 200

// MakeTeaser は記事HTMLからプレーンテキストの抜粋を抽出する。
// script/style要素の中身は無視し、連続する空白は1つにまとめる。
// 一覧表示用のため最大200文字で切り詰める。
func MakeTeaser(content string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(content))

	var builder strings.Builder
	skipDepth := 0

	for {
		tokenType := tokenizer.Next()
		switch tokenType {
		case html.ErrorToken:
			return squashWhitespace(builder.String())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if skipDepth == 0 {
				builder.Write(tokenizer.Text())
				builder.WriteByte(' ')
			}
		}

		// 打ち切り判定は粗くてよい（最終的にsquashWhitespaceで整形する）
		if builder.Len() > teaserMaxRunes*4 {
			return squashWhitespace(builder.String())
		}
	}
}

// squashWhitespace は連続する空白を1つにまとめ、最大長で切り詰める。
func squashWhitespace(s string) string {
	fields := strings.Fields(s)
	joined := strings.Join(fields, " ")

	runes := []rune(joined)
	if len(runes) > teaserMaxRunes {
		return string(runes[:teaserMaxRunes]) + "…"
	}
	return joined
}
