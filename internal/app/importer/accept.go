package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// Upload is an accepted CSV file plus the creditor's import settings.
type Upload struct {
	CompanyID  string
	Mode       domain.ImportMode
	Mapping    domain.FieldMapping
	DateFormat string
	Body       io.Reader
}

// Accept stores an upload and creates its pending ImportBatch. The first
// CSV record becomes the batch headers; every mapped column must exist in it.
func (r *Reconciler) Accept(ctx context.Context, u Upload) (*domain.ImportBatch, error) {
	mode, err := domain.ParseImportMode(string(u.Mode))
	if err != nil {
		return nil, err
	}
	if err := u.Mapping.Validate(); err != nil {
		return nil, err
	}
	if _, err := r.consumers.GetCompany(ctx, u.CompanyID); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	saved, err := r.files.SaveUpload(id, u.Body)
	if err != nil {
		return nil, err
	}
	headers, err := r.readHeaders(saved.Ref)
	if err == nil {
		err = checkMapping(u.Mapping, headers)
	}
	if err != nil {
		if rmErr := r.files.Remove(saved.Ref); rmErr != nil {
			r.log.Warn("remove rejected upload", zap.String("ref", saved.Ref), zap.Error(rmErr))
		}
		return nil, err
	}

	dateFormat := u.DateFormat
	if dateFormat == "" {
		dateFormat = r.cfg.DateFormat
	}
	batch := domain.ImportBatch{
		ID:           id,
		CompanyID:    u.CompanyID,
		SourceFile:   saved.Ref,
		Headers:      headers,
		FieldMapping: u.Mapping,
		DateFormat:   dateFormat,
		Mode:         mode,
		Status:       domain.BatchPending,
		CreatedAt:    r.clock.Now(),
	}
	if err := r.batches.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}
	r.log.Info("upload accepted",
		zap.String("batch_id", id), zap.String("company_id", u.CompanyID), zap.String("mode", string(mode)),
		zap.String("digest", saved.Digest), zap.Int64("size", saved.Size))
	return &batch, nil
}

func (r *Reconciler) readHeaders(ref string) ([]string, error) {
	f, err := r.files.Open(ref)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.ErrEmptyUpload
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	headers, blank := trimCells(header)
	if blank {
		return nil, domain.ErrEmptyUpload
	}
	return headers, nil
}

func checkMapping(m domain.FieldMapping, headers []string) error {
	for field, idx := range m {
		if idx >= len(headers) {
			return fmt.Errorf("%s maps to column %d of %d: %w", field, idx, len(headers), domain.ErrInvalidMapping)
		}
	}
	return nil
}
