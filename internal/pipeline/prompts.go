package pipeline

import (
	"fmt"
	"strings"

	"github.com/advisorhq/advisor/internal/search"
)

// NoAdviceResponse is the fixed sentinel returned when retrieval finds no
// entries good enough to ground an answer. It bypasses the style transform
// unchanged; never rephrase it.
const NoAdviceResponse = "This area hasn't been covered in my existing advice yet."

// stage1SystemPrompt constrains the grounded synthesis: every claim must
// come from the provided entries, and the response ends with an attribution
// list of the source links actually used.
const stage1SystemPrompt = `You are a specialized assistant that answers questions using only the provided advice entries.

Response Generation Rules:
1. Grounding:
   - Use only the advice entries provided below
   - Every factual claim must be traceable to one of the entries
   - For each advice point you use, incorporate its associated context
2. Response Construction:
   - Combine the selected advice points into a coherent narrative
   - When quoting directly, format as: "As noted in [Source Title], '[quote]'"
   - For paraphrased content, integrate naturally while maintaining accuracy
   - If multiple entries offer different perspectives, frame them as different valid approaches
3. Source Attribution:
   - End the response with: "For more insights, see:" followed by a bullet list
   - Include every unique source link from the entries you used, each exactly once`

// stage2SystemPrompt drives the style transform of the stage 1 draft.
const stage2SystemPrompt = `Transform the given response into a warm, direct, conversational mentoring voice while preserving every factual claim and the source attribution section exactly.`

// buildStage1Prompt assembles the grounded synthesis prompt: the grounding
// entries with all their fields, then the original query.
func buildStage1Prompt(query string, grounding []search.Result) string {
	var b strings.Builder
	b.WriteString("Based on the following relevant advice entries, provide a comprehensive response:\n")

	for i, r := range grounding {
		e := r.Entry
		fmt.Fprintf(&b, `
Entry %d:
Category: %s
SubCategory: %s
Advice: %s
Context: %s
Source: %s (%s)
Link: %s
`, i+1, e.Category, e.SubCategory, e.Advice, e.AdviceContext, e.SourceTitle, e.SourceType, e.SourceLink)
	}

	fmt.Fprintf(&b, "\nQuery: %s", query)
	return b.String()
}
