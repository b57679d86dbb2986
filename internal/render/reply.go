// Package render turns replies, transcripts and reports into display text.
package render

import (
	"fmt"
	"strings"

	"github.com/ayurscan/backend/internal/model/chat"
	"github.com/ayurscan/backend/internal/model/report"
)

const bullet = "🔹"

// FormatReply renders a list of mappings as bulleted "key: value" blocks
// separated by blank lines. Plain text is returned unchanged.
func FormatReply(c chat.Content) string {
	if !c.IsList {
		return c.Text
	}

	blocks := make([]string, 0, len(c.Records))
	for _, record := range c.Records {
		fields := make([]string, 0, len(record))
		for _, f := range record {
			fields = append(fields, fmt.Sprintf("%s %s:\n   %s", bullet, f.Key, f.Value))
		}
		blocks = append(blocks, strings.Join(fields, "\n\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// MessageText renders a transcript entry body. Structured content is shown one
// field per line, records separated by a blank line.
func MessageText(c chat.Content) string {
	if !c.IsList {
		return c.Text
	}

	blocks := make([]string, 0, len(c.Records))
	for _, record := range c.Records {
		fields := make([]string, 0, len(record))
		for _, f := range record {
			fields = append(fields, fmt.Sprintf("%s %s: %s", bullet, f.Key, f.Value))
		}
		blocks = append(blocks, strings.Join(fields, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// TranscriptLine renders "Role: body".
func TranscriptLine(m chat.Message) string {
	return m.Role + ": " + MessageText(m.Content)
}

// Transcript renders every message on its own line.
func Transcript(messages []chat.Message) []string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, TranscriptLine(m))
	}
	return lines
}

// Report renders the prediction panel as plain text.
func Report(r *report.Report) string {
	if r == nil {
		return "Waiting for analysis..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🦠 Disease: %s\n", r.Disease)
	b.WriteString("🌿 Dosha Analysis:\n")
	fmt.Fprintf(&b, "   Vata: %s\n", r.DoshaAnalysis.Vata)
	fmt.Fprintf(&b, "   Pitta: %s\n", r.DoshaAnalysis.Pitta)
	fmt.Fprintf(&b, "   Kapha: %s\n", r.DoshaAnalysis.Kapha)
	b.WriteString("🔍 Observations:\n")
	for _, obs := range r.Observations {
		fmt.Fprintf(&b, "   - %s\n", obs)
	}
	return b.String()
}
