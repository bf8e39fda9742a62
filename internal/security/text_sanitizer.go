package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxTitleRunes は広告タイトルの最大文字数。
const maxTitleRunes = 120

// TextSanitizer は広告タイトルなどのプレーンテキストを無害化する。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、空白を正規化したテキストを返す。
	Sanitize(raw string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyを使うTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エスケープされた文字を戻したうえで連続空白を1つにまとめる。
// maxTitleRunesを超える部分は切り捨てる。
func (s *textSanitizer) Sanitize(raw string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	text := strings.Join(strings.Fields(stripped), " ")

	if utf8.RuneCountInString(text) > maxTitleRunes {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:maxTitleRunes]))
	}
	return text
}
