package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"construction_chat/internal/domain"
	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/logger"
)

// sniffLen is how much of an upload is read before the MIME type is decided.
const sniffLen = 3072

// Local stores attachment bytes as files under one directory and exposes
// them under a public URL prefix.
type Local struct {
	dir       string
	urlPrefix string
	maxBytes  int64
	log       logger.Logger
}

func NewLocal(dir, urlPrefix string, maxBytes int64, log logger.Logger) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}
	return &Local{
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		maxBytes:  maxBytes,
		log:       log,
	}, nil
}

func (s *Local) Dir() string { return s.dir }

// Save writes the upload and returns the attachment metadata. The MIME type
// comes from the content, not from the client supplied name.
func (s *Local) Save(ctx context.Context, originalName string, r io.Reader) (domain.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Attachment{}, err
	}

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return domain.Attachment{}, fmt.Errorf("read upload: %w", err)
	}
	header = header[:n]
	if n == 0 {
		return domain.Attachment{}, fmt.Errorf("%w: empty file %q", apperrors.ErrValidationFailed, originalName)
	}

	mtype := mimetype.Detect(header)
	id := uuid.New()
	filename := id.String() + mtype.Extension()
	path := filepath.Join(s.dir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("create attachment file: %w", err)
	}

	body := io.MultiReader(bytes.NewReader(header), r)
	size, err := io.Copy(f, io.LimitReader(body, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && size > s.maxBytes {
		err = fmt.Errorf("%w: %q exceeds %d bytes", apperrors.ErrValidationFailed, originalName, s.maxBytes)
	}
	if err != nil {
		_ = os.Remove(path)
		return domain.Attachment{}, err
	}

	s.log.Debug("Attachment stored", "filename", filename, "mime_type", mtype.String(), "size", size)

	return domain.Attachment{
		ID:               id,
		Filename:         filename,
		OriginalFilename: filepath.Base(originalName),
		MimeType:         mtype.String(),
		Size:             size,
		URL:              s.urlPrefix + "/" + filename,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// Remove deletes the backing file. A file that is already gone is not an error.
func (s *Local) Remove(_ context.Context, att domain.Attachment) error {
	name := filepath.Base(att.Filename)
	if name == "." || name == string(filepath.Separator) {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("Failed to remove attachment file", "filename", name, "error", err)
		return err
	}
	return nil
}
