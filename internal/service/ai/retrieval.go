package ai

import (
	"sort"
	"strings"
	"unicode"
)

const defaultContextParagraphs = 3

// RelevantContext 选出与问题共同词最多的 k 个段落，按文档原顺序拼接。
func RelevantContext(paragraphs []string, question string, k int) string {
	if len(paragraphs) == 0 {
		return ""
	}
	if k <= 0 {
		k = defaultContextParagraphs
	}

	terms := tokenize(question)
	type scored struct {
		index int
		score int
	}
	ranked := make([]scored, len(paragraphs))
	for i, p := range paragraphs {
		ranked[i] = scored{index: i, score: overlap(terms, tokenize(p))}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if k > len(ranked) {
		k = len(ranked)
	}
	picked := ranked[:k]
	sort.Slice(picked, func(i, j int) bool { return picked[i].index < picked[j].index })

	parts := make([]string, len(picked))
	for i, p := range picked {
		parts[i] = paragraphs[p.index]
	}
	return strings.Join(parts, "\n\n")
}

func tokenize(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
