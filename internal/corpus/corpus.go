// Package corpus loads and holds the advice data set.
//
// The corpus is a CSV file of short advice entries. It is read once at
// startup into an immutable Repository; every other component holds a
// reference and never mutates it.
//
// Each entry keeps two forms of its text: the normalized form used for
// embedding and search, and the raw form shown to users. Carrying both on
// one record avoids matching normalized text back to raw text by equality,
// which breaks when two entries normalize identically.
package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Entry is one immutable advice record.
type Entry struct {
	Category    string `json:"category"`
	SubCategory string `json:"subCategory"`

	// Normalized text, used for embedding and semantic search.
	Advice        string `json:"advice"`
	AdviceContext string `json:"adviceContext"`

	// Raw text as it appeared in the CSV, used for display.
	DisplayAdvice  string `json:"displayAdvice"`
	DisplayContext string `json:"displayContext"`

	SourceTitle string `json:"sourceTitle"`
	SourceType  string `json:"sourceType"`
	SourceLink  string `json:"sourceLink"`
}

// SearchText returns the text that is embedded for this entry: the category,
// subcategory, advice and context joined together.
func (e Entry) SearchText() string {
	return strings.TrimSpace(strings.Join([]string{
		e.Category, e.SubCategory, e.Advice, e.AdviceContext,
	}, " "))
}

// LoadStats reports how a CSV load went.
type LoadStats struct {
	Loaded  int // valid entries
	Skipped int // rows missing Advice, Category, or SubCategory
}

// requiredColumns must all be present in the CSV header.
var requiredColumns = []string{"Category", "SubCategory", "Advice"}

// optionalColumns are used when present.
var optionalColumns = []string{"AdviceContext", "SourceTitle", "SourceType", "SourceLink"}

// ErrEmptyCorpus indicates the CSV produced no valid entries.
var ErrEmptyCorpus = errors.New("corpus contains no valid entries")

// LoadFile reads the advice CSV at path.
func LoadFile(path string) ([]Entry, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("opening corpus file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	return Load(f)
}

// Load reads advice entries from CSV data. The first row must be a header
// containing at least Category, SubCategory and Advice columns. Rows missing
// any of those values are skipped and counted, not treated as errors.
func Load(r io.Reader) ([]Entry, LoadStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // ragged rows handled per-row below
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("reading CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, LoadStats{}, fmt.Errorf("corpus CSV missing required column %q", name)
		}
	}

	var (
		entries []Entry
		stats   LoadStats
	)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, LoadStats{}, fmt.Errorf("reading CSV row: %w", err)
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		}

		rawAdvice := strings.TrimSpace(field("Advice"))
		rawContext := strings.TrimSpace(field("AdviceContext"))

		entry := Entry{
			Category:       normalize(field("Category")),
			SubCategory:    normalize(field("SubCategory")),
			Advice:         normalize(rawAdvice),
			AdviceContext:  normalize(rawContext),
			DisplayAdvice:  rawAdvice,
			DisplayContext: rawContext,
			SourceTitle:    strings.TrimSpace(field("SourceTitle")),
			SourceType:     strings.TrimSpace(field("SourceType")),
			SourceLink:     strings.TrimSpace(field("SourceLink")),
		}

		if entry.Advice == "" || entry.Category == "" || entry.SubCategory == "" {
			stats.Skipped++
			continue
		}

		entries = append(entries, entry)
		stats.Loaded++
	}

	if len(entries) == 0 {
		return nil, stats, ErrEmptyCorpus
	}

	return entries, stats, nil
}

// normalize collapses whitespace runs to single spaces and trims the result.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
