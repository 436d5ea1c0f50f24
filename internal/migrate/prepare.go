package migrate

import (
	"context"

	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/attach"
	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/logging"
	"github.com/jorgenin/expense-migration/internal/paths"
	"github.com/jorgenin/expense-migration/internal/sanitize"
)

// prepareRow builds the destination payload for one row. Plain columns go
// through their transform and the sanitizer. The attachment column is
// replaced by the URL of the uploaded document. On error no staged file of
// this row is left behind.
func (o *Orchestrator) prepareRow(ctx context.Context, m *Mapping, row domain.Row, staging string) (pr domain.PreparedRow, err error) {
	payload := make(map[string]any, len(m.Plan.Mappings))
	var files []domain.ProcessedFile
	defer func() {
		if err != nil {
			for i := range files {
				_ = attach.Release(&files[i])
			}
		}
	}()

	for _, cm := range m.Plan.Mappings {
		if m.attachment != nil && cm.Source.ID == m.attachment.Source.ID {
			continue
		}
		v, err := cm.Apply(row.Value(cm.Source.ID))
		if err != nil {
			return pr, errors.Wrapf(err, "column %s", cm.Source.Name)
		}
		if out, ok := o.sanitizer.Value(cm.Source.ID, v); ok {
			payload[cm.Dest.ID] = out
		}
	}

	if m.attachment != nil {
		f, err := o.document(ctx, m, row, staging)
		if err != nil {
			return pr, err
		}
		if f != nil {
			files = append(files, *f)
			payload[m.attachment.Dest.ID] = f.UploadedURL
		}
	}

	if err := domain.ValidatePayload(payload); err != nil {
		return pr, err
	}
	return domain.PreparedRow{SourceRowID: row.ID, Payload: payload, Files: files}, nil
}

// document runs the attachment pipeline for row and uploads the result.
// It returns nil when the row has no attachments.
func (o *Orchestrator) document(ctx context.Context, m *Mapping, row domain.Row, staging string) (*domain.ProcessedFile, error) {
	v := row.Value(m.attachment.Source.ID)
	if v.Kind != domain.KindAttachments || len(v.Attachments) == 0 {
		return nil, nil
	}

	f, err := o.deps.Attachments.Process(ctx, attach.Request{
		RowID:       row.ID,
		Attachments: v.Attachments,
		BaseName:    o.documentName(m, row),
		StagingDir:  staging,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "attachments of column %s", m.attachment.Source.Name)
	}

	url, err := o.deps.Uploader.Upload(ctx, f.LocalPath, f.OriginalName+".pdf")
	if err != nil {
		_ = attach.Release(f)
		return nil, err
	}
	f.UploadedURL = url
	o.logger.Debug("document uploaded",
		zap.String(logging.FieldRowID, row.ID),
		zap.Int(logging.FieldCount, len(v.Attachments)),
		zap.String(logging.FieldURL, url))
	return f, nil
}

func (o *Orchestrator) documentName(m *Mapping, row domain.Row) string {
	label := ""
	if m.nameColumnID != "" {
		if v, ok := sanitize.Value(row.Value(m.nameColumnID), nil); ok {
			label = sanitize.Text(v)
		}
	}
	if label == "" {
		label = row.Name
	}
	return paths.DocumentName(label, row.ID)
}
