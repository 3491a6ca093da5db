package embedding

import (
	"regexp"
	"strings"
)

var sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)

// SplitSentences はテキストを文単位に分割します。
// 終端記号が見つからない場合はテキスト全体を1文として扱います。
func SplitSentences(text string) []string {
	raw := sentencePattern.FindAllString(text, -1)
	if len(raw) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}
	sentences := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}
