package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestVersion is the cache schema version. Bump on incompatible changes;
// older manifests are then rebuilt rather than misread.
const ManifestVersion = "1.0"

const (
	lockSuffix   = ".lock"
	backupSuffix = ".backup"
)

// errCacheInvalid marks a manifest that is missing, corrupt, or built with a
// different schema version or embedding model. Never surfaced to callers:
// an invalid cache is treated as absent and triggers recomputation.
var errCacheInvalid = errors.New("cache invalid")

// categoryPair serializes a category embedding as a [category, vector] JSON
// pair, the manifest's wire shape.
type categoryPair struct {
	Category string
	Vector   []float32
}

func (p categoryPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Category, p.Vector})
}

func (p *categoryPair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("category pair: %w", err)
	}
	if err := json.Unmarshal(raw[0], &p.Category); err != nil {
		return fmt.Errorf("category name: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Vector); err != nil {
		return fmt.Errorf("category vector: %w", err)
	}
	return nil
}

// manifest is the durable serialized form of the index.
type manifest struct {
	Version            string            `json:"version"`
	Model              string            `json:"model"`
	CategoryEmbeddings []categoryPair    `json:"categoryEmbeddings"`
	Embeddings         []EmbeddingRecord `json:"embeddings"`
}

// loadManifest reads and validates a cache manifest. Any failure — missing
// file, corrupt JSON, version or model mismatch — returns errCacheInvalid
// (wrapped) so callers treat the cache as absent.
func loadManifest(path, wantModel string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCacheInvalid, err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest: %v", errCacheInvalid, err)
	}

	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("%w: version %q, want %q", errCacheInvalid, m.Version, ManifestVersion)
	}
	if m.Model != wantModel {
		return nil, fmt.Errorf("%w: model %q, want %q", errCacheInvalid, m.Model, wantModel)
	}
	if len(m.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings", errCacheInvalid)
	}
	for i, rec := range m.Embeddings {
		if len(rec.Vector) == 0 {
			return nil, fmt.Errorf("%w: entry %d has empty vector", errCacheInvalid, i)
		}
	}

	categories := make(map[string][]float32, len(m.CategoryEmbeddings))
	for _, p := range m.CategoryEmbeddings {
		categories[p.Category] = p.Vector
	}

	return &Index{records: m.Embeddings, categories: categories, model: m.Model}, nil
}

// saveManifest writes the manifest atomically (temp file + rename) so a
// crash mid-write never leaves a truncated cache behind.
func saveManifest(path string, idx *Index) error {
	pairs := make([]categoryPair, 0, len(idx.categories))
	for category, vec := range idx.categories {
		pairs = append(pairs, categoryPair{Category: category, Vector: vec})
	}

	m := manifest{
		Version:            ManifestVersion,
		Model:              idx.model,
		CategoryEmbeddings: pairs,
		Embeddings:         idx.records,
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing manifest: %w", err)
	}

	return nil
}
