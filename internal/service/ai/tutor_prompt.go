package ai

import (
	"strings"

	"github.com/zhouzirui/docchat/internal/model/document"
)

const tutorRules = `You are a study tutor.
- Give a clear, concise and well structured answer.
- Focus on the points that matter for exams.
- Start directly with the answer, no introductions.
- Break complex ideas down into simpler steps when needed.`

// buildSystemPrompt 构建系统提示词，有文档摘录时要求依据摘录作答。
func buildSystemPrompt(doc *document.Document, excerpt string) string {
	var builder strings.Builder
	builder.WriteString(tutorRules)

	if doc == nil {
		return builder.String()
	}

	builder.WriteString("\n- Answer strictly from the excerpts of \"")
	builder.WriteString(doc.Title)
	builder.WriteString("\" below. If they do not cover the question, say so.")
	if excerpt != "" {
		builder.WriteString("\n\nExcerpts:\n")
		builder.WriteString(excerpt)
	}
	return builder.String()
}
