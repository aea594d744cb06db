package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/queuerunner/internal/core/domain"
)

// Source produces the candidate items for one ingestion run.
type Source interface {
	Candidates(ctx context.Context) ([]domain.CandidateItem, error)
}

// StaticSource returns a fixed list of candidates.
type StaticSource []domain.CandidateItem

// Candidates implements Source.
func (s StaticSource) Candidates(ctx context.Context) ([]domain.CandidateItem, error) {
	out := make([]domain.CandidateItem, len(s))
	copy(out, s)
	return out, nil
}

// FileSource reads candidates from a JSON array or a YAML list of
// {reference, data} entries. The format is chosen by file extension.
type FileSource struct {
	Path string
}

// NewFileSource creates a file-backed source.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Candidates implements Source.
func (s *FileSource) Candidates(ctx context.Context) ([]domain.CandidateItem, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read candidates %s: %w", s.Path, err)
	}

	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".yaml", ".yml":
		return decodeYAML(raw)
	default:
		var items []domain.CandidateItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode candidates %s: %w", s.Path, err)
		}
		return items, nil
	}
}

// yaml.v2 decodes nested maps as map[interface{}]interface{}, which does not
// survive JSON encoding on the way to the queue store.
func decodeYAML(raw []byte) ([]domain.CandidateItem, error) {
	var entries []struct {
		Reference string                 `yaml:"reference"`
		Data      map[string]interface{} `yaml:"data"`
	}
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}

	items := make([]domain.CandidateItem, 0, len(entries))
	for _, e := range entries {
		payload := make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			payload[k] = normalize(v)
		}
		items = append(items, domain.CandidateItem{Reference: e.Reference, Payload: payload})
	}
	return items, nil
}

func normalize(v interface{}) any {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case []interface{}:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	default:
		return v
	}
}
