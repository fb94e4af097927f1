package relay

import (
	"strings"

	"github.com/Desarso/taxassist/extract"
	"github.com/Desarso/taxassist/models"
)

// SystemPrompt is the fixed instruction sent ahead of every conversation. The
// sentinel lines must match the extract package byte for byte.
const SystemPrompt = `You are TaxAssist AI, a helpful tax assistant specializing in US tax law and Form 1040.
Keep responses friendly but professional.

FORMAT REQUIREMENTS:
1. Answer in markdown.
2. When you present a breakdown of costs or amounts, put it between these two lines, with a single JSON object in between:
` + extract.TableStart + `
{"tableData": [{"label": "Category Name", "amount": 1234}, {"label": "Another Category", "amount": 567}]}
` + extract.TableEnd + `
3. When you present categorical proportions, add a second block in the same way:
` + extract.ChartStart + `
{"chartData": [{"name": "Category Name", "value": 1234}, {"name": "Another Category", "value": 567}]}
` + extract.ChartEnd + `
4. Otherwise respond in plain prose without these markers.

Amounts and values are plain JSON numbers without currency symbols or thousands separators.`

// BuildSystemPrompt returns the single system message for a turn. Uploaded
// document text is folded in, and when templateHints is set a worked example
// is appended for income and bracket questions.
func BuildSystemPrompt(documentText, lastQuery string, templateHints bool) string {
	var b strings.Builder
	b.WriteString(SystemPrompt)

	if doc := strings.TrimSpace(documentText); doc != "" {
		b.WriteString("\n\nThe user uploaded a document. Use it to answer their questions. Its text follows:\n<document>\n")
		b.WriteString(doc)
		b.WriteString("\n</document>")
	}

	if templateHints && WantsTemplate(lastQuery) {
		b.WriteString("\n\nHere's a template to follow:\n")
		b.WriteString(models.IncomeBreakdownAnswer)
	}
	return b.String()
}

// WantsTemplate reports whether a query asks about income or tax brackets.
func WantsTemplate(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(q, "tax bracket") || strings.Contains(q, "income")
}
