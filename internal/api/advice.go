package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/advisorhq/advisor/internal/corpus"
)

// advicePageSize is how many entries a browse page holds.
const advicePageSize = 20

// adviceEntry is the browse-endpoint view of a corpus entry: display text,
// not the normalized search text.
type adviceEntry struct {
	Category    string `json:"category"`
	SubCategory string `json:"subCategory"`
	Advice      string `json:"advice"`
	Context     string `json:"context,omitempty"`
	SourceTitle string `json:"sourceTitle,omitempty"`
	SourceType  string `json:"sourceType,omitempty"`
	SourceLink  string `json:"sourceLink,omitempty"`
}

type advicePage struct {
	Results    []adviceEntry `json:"results"`
	Page       int           `json:"page"`
	TotalPages int           `json:"totalPages"`
	Total      int           `json:"total"`
}

// adviceHandler serves the keyword browse endpoint. Plain substring
// filtering over the corpus with pagination; no embeddings involved.
type adviceHandler struct {
	corpus *corpus.Repository
	logger *slog.Logger
}

// browse handles GET /api/advice?q=&category=&subCategory=&page=.
func (h *adviceHandler) browse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if p := q.Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "INVALID_PAGE", "page must be a positive integer")
			return
		}
		page = n
	}

	matched := h.corpus.Filter(q.Get("q"), q.Get("category"), q.Get("subCategory"))

	total := len(matched)
	totalPages := (total + advicePageSize - 1) / advicePageSize

	start := (page - 1) * advicePageSize
	if start > total {
		start = total
	}
	end := min(start+advicePageSize, total)

	results := make([]adviceEntry, 0, end-start)
	for _, e := range matched[start:end] {
		results = append(results, adviceEntry{
			Category:    e.Category,
			SubCategory: e.SubCategory,
			Advice:      e.DisplayAdvice,
			Context:     e.DisplayContext,
			SourceTitle: e.SourceTitle,
			SourceType:  e.SourceType,
			SourceLink:  e.SourceLink,
		})
	}

	writeJSON(w, http.StatusOK, advicePage{
		Results:    results,
		Page:       page,
		TotalPages: totalPages,
		Total:      total,
	})
}

// categories handles GET /api/advice/categories.
func (h *adviceHandler) categories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": h.corpus.Categories()})
}
