package advisor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/calmsignal/calmsignal/server/internal/advisory"
)

const systemPrompt = "You are a calm and concise health assistant."

// userPrompt renders the subject's readings. Readings that were never
// received render as "n/a".
func userPrompt(req advisory.Request) string {
	var b strings.Builder
	b.WriteString("You are a helpful health assistant. Provide a short (max 4 bullet points or 3 sentences) ")
	b.WriteString("practical, non-medical stress-relief routine tailored to this person's readings.\n\n")
	b.WriteString("Readings:\n")
	fmt.Fprintf(&b, "- Subject ID: %s\n", req.SubjectID)
	fmt.Fprintf(&b, "- BPM: %s\n", formatReading(req.BPM))
	fmt.Fprintf(&b, "- Skin temp (°C): %s\n", formatReading(req.TempC))
	fmt.Fprintf(&b, "- State: %s\n\n", req.State)
	b.WriteString("Give: 1) 3 quick actions they can do now, and 2) one brief note when to seek professional help. ")
	b.WriteString("Keep tone calm and actionable.")
	return b.String()
}

func formatReading(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
