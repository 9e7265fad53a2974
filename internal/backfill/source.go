package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"lead-enricher/internal/enrichment"
)

// FileSubjectSource reads a JSON array of subjects from a file. The file
// is re-read at every call, so a lead list swapped in between ticks is
// picked up by the next scheduled run.
type FileSubjectSource struct {
	path string
}

// NewFileSubjectSource creates a source backed by the given file.
func NewFileSubjectSource(path string) *FileSubjectSource {
	return &FileSubjectSource{path: path}
}

// Subjects implements SubjectSource.
func (s *FileSubjectSource) Subjects(ctx context.Context) ([]enrichment.Request, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading subjects file %s: %w", s.path, err)
	}

	var subjects []enrichment.Request
	if err := json.Unmarshal(data, &subjects); err != nil {
		return nil, fmt.Errorf("parsing subjects file %s: %w", s.path, err)
	}
	return subjects, nil
}
