// Package message persists the query/response records produced by the
// generation pipeline.
//
// A Message is created by the web layer before the pipeline runs, then
// mutated exactly twice by the pipeline — stage 1 text after grounded
// synthesis, final text plus retrieval metadata after the style transform —
// and optionally once more by user feedback. After that it is immutable.
package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/advisorhq/advisor/internal/search"
)

// Metadata holds the retrieval audit trail attached to a message: the
// display set shown to the user, sorted descending by similarity. It is
// always at least as long as the grounding set that produced the stage 1
// response.
type Metadata struct {
	DisplayEntries []search.Result `json:"displayEntries"`
}

// Message is one query/response record.
type Message struct {
	ID             uuid.UUID `json:"id"`
	Query          string    `json:"query"`
	Stage1Response *string   `json:"stage1Response"`
	FinalResponse  *string   `json:"finalResponse"`
	Metadata       *Metadata `json:"metadata"`
	ThumbsUp       *bool     `json:"thumbsUp"`
	Feedback       *string   `json:"feedback"`
	CreatedAt      time.Time `json:"createdAt"`
}
