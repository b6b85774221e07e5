package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/okian/sheetsync/internal/adapters/source"
	"github.com/okian/sheetsync/internal/adapters/storage"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
)

// allowedExtensions are the upload types accepted by PrepareUpload.
var allowedExtensions = map[string]bool{
	".xlsx": true, ".xlsm": true, ".xls": true,
	".csv": true, ".tsv": true, ".txt": true,
	".pdf": true, ".doc": true, ".docx": true,
}

// Office types missing from the builtin mime table.
var officeTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsm": "application/vnd.ms-excel.sheet.macroEnabled.12",
	".xls":  "application/vnd.ms-excel",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".txt":  "text/plain",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// AllowedFile reports whether name has an accepted extension.
func AllowedFile(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

// FileType returns the content type recorded for an uploaded file.
func FileType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := officeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// PrepareUpload stores the file, describes it for the metadata fields and
// parses it. Files that are not spreadsheets yield an empty dataset, which
// syncs as a single metadata-only record.
func (s *Service) PrepareUpload(ctx context.Context, name string, data []byte, sheet string) (model.Dataset, model.FileInfo, error) {
	name = filepath.Base(name)
	if !AllowedFile(name) {
		return model.Dataset{}, model.FileInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedFile, name)
	}
	if s.maxUpload > 0 && int64(len(data)) > s.maxUpload {
		return model.Dataset{}, model.FileInfo{}, fmt.Errorf("%w: %s is %s", ErrFileTooLarge, name, model.FormatSize(int64(len(data))))
	}

	url, err := s.uploader.Upload(ctx, name, data)
	if err != nil {
		if !errors.Is(err, storage.ErrUploadDisabled) {
			s.logger.Warn(ctx, "upload failed, using local link", logger.String("file", name), logger.Error(err))
		}
		url = storage.FallbackURL(name)
	}

	info := model.FileInfo{
		Name:       name,
		Size:       int64(len(data)),
		Type:       FileType(name),
		URL:        url,
		UploadTime: model.FormatUploadTime(s.now(), s.loc),
	}

	ds, err := source.FromFile(name, data, sheet)
	switch {
	case errors.Is(err, source.ErrUnsupportedFormat):
		return model.Dataset{}, info, nil
	case err != nil:
		return model.Dataset{}, info, fmt.Errorf("parse %s: %w", name, err)
	}
	return ds, info, nil
}
