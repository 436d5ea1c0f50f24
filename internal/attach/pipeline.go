package attach

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/logging"
)

// Request describes the attachments of one row.
type Request struct {
	RowID       string
	Attachments []domain.Attachment
	BaseName    string // name of the combined document, without extension
	StagingDir  string
}

// Options tunes a Pipeline.
type Options struct {
	MaxMB      int64  // per-attachment size limit, 0 for none
	ScratchDir string // parent of per-row scratch directories, "" for os.TempDir
}

// Pipeline downloads, converts and merges attachments into a staged PDF.
type Pipeline struct {
	downloader Downloader
	converter  Converter
	opts       Options
	logger     *zap.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(d Downloader, c Converter, opts Options, logger *zap.Logger) *Pipeline {
	return &Pipeline{downloader: d, converter: c, opts: opts, logger: logging.OrNop(logger).Named("attach")}
}

// Process builds the combined document for req and copies it into staging.
// A download or conversion failure fails the whole row. Files that are
// neither PDF nor image get a placeholder page instead. Scratch files are
// always removed; on failure nothing is left in staging either.
func (p *Pipeline) Process(ctx context.Context, req Request) (*domain.ProcessedFile, error) {
	if len(req.Attachments) == 0 {
		return nil, errors.New("no attachments to process")
	}
	if req.StagingDir == "" {
		return nil, errors.Configuration(errors.New("staging directory is not set"))
	}
	baseName := req.BaseName
	if baseName == "" {
		baseName = req.RowID
	}

	scratch, err := os.MkdirTemp(p.opts.ScratchDir, "row-"+SafeName(req.RowID)+"-")
	if err != nil {
		return nil, errors.Wrap(err, "create scratch directory")
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			p.logger.Warn("scratch directory not removed", zap.String(logging.FieldFile, scratch), zap.Error(err))
		}
	}()

	docs := make([]string, 0, len(req.Attachments))
	for i, a := range req.Attachments {
		doc, err := p.document(ctx, scratch, i, a)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	combined := docs[0]
	if len(docs) > 1 {
		combined = filepath.Join(scratch, "combined.pdf")
		if err := p.converter.Merge(docs, combined); err != nil {
			return nil, err
		}
	}

	staged := StagedPath(req.StagingDir, req.RowID, baseName)
	if _, err := CopyFile(combined, staged); err != nil {
		_ = Release(&domain.ProcessedFile{LocalPath: staged})
		return nil, errors.Wrap(err, "stage document")
	}

	p.logger.Debug("document staged",
		zap.String(logging.FieldRowID, req.RowID),
		zap.Int(logging.FieldCount, len(docs)),
		zap.String(logging.FieldFile, staged))
	return &domain.ProcessedFile{OriginalName: baseName, LocalPath: staged}, nil
}

// document downloads the index-th attachment and returns the path of a PDF
// made from it.
func (p *Pipeline) document(ctx context.Context, scratch string, index int, a domain.Attachment) (string, error) {
	if a.URL == "" {
		return "", errors.Newf("attachment %d has no url", index)
	}
	name := localName(index, a)
	local := filepath.Join(scratch, name)
	if err := p.downloader.Download(ctx, a.URL, local); err != nil {
		return "", err
	}

	info, err := os.Stat(local)
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", name)
	}
	if err := ValidateSize(info.Size(), p.opts.MaxMB); err != nil {
		return "", errors.Wrapf(err, "attachment %s", name)
	}

	kind := Classify(name)
	if kind == KindDocument {
		return local, nil
	}

	out := filepath.Join(scratch, strings.TrimSuffix(name, filepath.Ext(name))+".converted.pdf")
	if kind == KindImage {
		if err := p.converter.ImageToPDF(local, out); err != nil {
			return "", err
		}
		return out, nil
	}

	displayName := a.Name
	if displayName == "" {
		displayName = name
	}
	if err := p.converter.Placeholder(displayName, out); err != nil {
		return "", err
	}
	return out, nil
}
