package corpus

import "strings"

// Repository is the immutable in-memory corpus handle shared by the index,
// the search engine and the browse endpoint. Built once at startup; safe for
// concurrent reads without locking because it is never mutated.
type Repository struct {
	entries    []Entry
	categories []string // distinct, in first-seen order
}

// NewRepository builds a Repository over the given entries.
func NewRepository(entries []Entry) *Repository {
	seen := make(map[string]struct{})
	var categories []string
	for _, e := range entries {
		if _, ok := seen[e.Category]; !ok {
			seen[e.Category] = struct{}{}
			categories = append(categories, e.Category)
		}
	}

	return &Repository{entries: entries, categories: categories}
}

// Entries returns all corpus entries in original order. Callers must not
// modify the returned slice.
func (r *Repository) Entries() []Entry {
	return r.entries
}

// Categories returns the distinct category values in first-seen order.
func (r *Repository) Categories() []string {
	return r.categories
}

// Len returns the number of corpus entries.
func (r *Repository) Len() int {
	return len(r.entries)
}

// Filter returns entries matching the keyword browse criteria: an optional
// case-insensitive substring over advice and context text, and optional
// exact category and subcategory values. Empty arguments match everything.
// This is the UI browse path; it never touches embeddings.
func (r *Repository) Filter(query, category, subCategory string) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))

	var matched []Entry
	for _, e := range r.entries {
		if category != "" && e.Category != category {
			continue
		}
		if subCategory != "" && e.SubCategory != subCategory {
			continue
		}
		if query != "" && !matchesQuery(e, query) {
			continue
		}
		matched = append(matched, e)
	}
	return matched
}

func matchesQuery(e Entry, lowered string) bool {
	return strings.Contains(strings.ToLower(e.Advice), lowered) ||
		strings.Contains(strings.ToLower(e.AdviceContext), lowered) ||
		strings.Contains(strings.ToLower(e.SubCategory), lowered)
}
