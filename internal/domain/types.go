package domain

import (
	"time"
)

// Table is the metadata returned for a table lookup.
type Table struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RowCount int    `json:"rowCount"`
}

// Column describes one column of a table schema.
type Column struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Calculated bool   `json:"calculated"`
}

// Row is one record of a table. Values are keyed by column id.
type Row struct {
	ID     string
	Name   string
	Values map[string]Value
}

// Value returns the value stored under columnID, or Absent.
func (r Row) Value(columnID string) Value {
	if v, ok := r.Values[columnID]; ok {
		return v
	}
	return Absent()
}

// Attachment is a remote file referenced by an attachment-list value.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// ProcessedFile is a generated document derived from a row's attachments.
// UploadedURL stays empty until the upload completes.
type ProcessedFile struct {
	OriginalName string `json:"originalName"`
	LocalPath    string `json:"localPath"`
	UploadedURL  string `json:"uploadedUrl,omitempty"`
}

// PreparedRow is the destination payload built for one source row.
// Every payload value is a bool, a number, a string, or a slice of those.
type PreparedRow struct {
	SourceRowID string
	Payload     map[string]any
	Files       []ProcessedFile
}

// MigrationResult records the outcome for one source row.
type MigrationResult struct {
	Success     bool            `json:"success"`
	SourceRowID string          `json:"sourceRowId"`
	DestRowID   string          `json:"destRowId,omitempty"`
	Files       []ProcessedFile `json:"processedFiles,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(sourceRowID, destRowID string, files []ProcessedFile) MigrationResult {
	return MigrationResult{
		Success:     true,
		SourceRowID: sourceRowID,
		DestRowID:   destRowID,
		Files:       files,
	}
}

// Failed builds a failed result carrying err's message.
func Failed(sourceRowID string, err error, files []ProcessedFile) MigrationResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return MigrationResult{
		SourceRowID: sourceRowID,
		Files:       files,
		Error:       msg,
	}
}

// Phase is a state of the migration state machine.
type Phase string

const (
	PhaseInit               Phase = "init"
	PhaseTestingConnections Phase = "testing_connections"
	PhaseMapping            Phase = "mapping"
	PhasePrepare            Phase = "prepare"
	PhaseInsert             Phase = "insert"
	PhaseDone               Phase = "done"
	PhaseFailed             Phase = "failed"
)

// Summary aggregates a result list.
type Summary struct {
	RunID     string    `json:"runId"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}

// Summarize counts successes and failures in results.
func Summarize(results []MigrationResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

// ExitCode returns 0 when everything succeeded, 5 on partial success and
// 1 when every row failed.
func (s Summary) ExitCode() int {
	if s.Failed == 0 {
		return 0
	}
	if s.Succeeded > 0 {
		return 5
	}
	return 1
}
