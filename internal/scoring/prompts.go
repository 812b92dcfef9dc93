package scoring

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"compintel/pkg/types"
)

const (
	sentimentSystem = `You are a helpful assistant that MUST return a JSON object exactly matching the schema: {"label": "positive|neutral|negative", "score": float(0..1), "explanation": "short explanation"}. Do not return anything else.`
	alertSystem     = `You are a strict JSON-output assistant. Produce ONLY a single JSON object that exactly matches the instructed schema. Do not add commentary outside the JSON.`
)

func sentimentPrompt(text string, comments []types.Comment, maxChars int) string {
	var b strings.Builder
	b.WriteString("Classify the overall sentiment of the content below as one of: positive, neutral, or negative. ")
	b.WriteString("Provide a confidence score between 0.0 and 1.0 and a short explanation (1-2 sentences).\n\n")
	writeContent(&b, text, comments)
	b.WriteString("\nRespond ONLY with valid JSON with keys label, score, explanation.")
	return truncatePrompt(b.String(), maxChars)
}

func alertPrompt(text string, comments []types.Comment, metadata map[string]string, maxChars int) string {
	var b strings.Builder
	b.WriteString("Decide whether the content below should trigger a COMPETITOR ALERT for the target company ")
	b.WriteString("(metadata.target_company when present). An alert means timely, verifiable or plausible information ")
	b.WriteString("that may affect the target company's strategy, product competitiveness, hiring, market share, or reputation.\n\n")
	if len(metadata) > 0 {
		b.WriteString("Metadata:\n")
		for _, k := range slices.Sorted(maps.Keys(metadata)) {
			fmt.Fprintf(&b, "- %s: %s\n", k, metadata[k])
		}
		b.WriteString("\n")
	}
	writeContent(&b, text, comments)
	b.WriteString(`
Respond ONLY with a JSON object with these exact keys:
{"is_alert": true|false, "confidence": 0.0-1.0, "reason": "short reason", "suggested_title": "short alert title (10 words or less)", "suggested_message": "detailed alert message", "suggested_severity": "low|medium|high"}
If uncertain, choose is_alert=false with a low confidence (0.0-0.3) and explain why.`)
	return truncatePrompt(b.String(), maxChars)
}

func writeContent(b *strings.Builder, text string, comments []types.Comment) {
	b.WriteString("Main content:\n")
	if strings.TrimSpace(text) == "" {
		b.WriteString("(no text)")
	} else {
		b.WriteString(text)
	}
	if len(comments) == 0 {
		b.WriteString("\n")
		return
	}
	b.WriteString("\n\nComments:\n")
	for _, c := range comments {
		author := c.Author
		if author == "" {
			author = "anon"
		}
		fmt.Fprintf(b, "- %s: %s\n", author, strings.TrimSpace(c.Text))
	}
}

func truncatePrompt(prompt string, maxChars int) string {
	if maxChars <= 0 || len(prompt) <= maxChars {
		return prompt
	}
	cut := maxChars - 200
	if cut < 0 {
		cut = maxChars
	}
	for cut > 0 && !utf8Boundary(prompt, cut) {
		cut--
	}
	return prompt[:cut] + "\n\n[TRUNCATED]"
}

func utf8Boundary(s string, i int) bool {
	return i >= len(s) || s[i]&0xC0 != 0x80
}

