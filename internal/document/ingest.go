package document

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusprint/printdesk/internal/core"
)

const pdfContentType = "application/pdf"

type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
}

type Document struct {
	Ref       string `json:"ref"`
	FileName  string `json:"file_name"`
	PageCount int    `json:"page_count"`
}

// Ingestor counts pages and stores the document. A document that cannot be
// parsed is rejected before anything is written to storage.
type Ingestor struct {
	counter PageCounter
	store   ObjectStore
	prefix  string
	log     zerolog.Logger
}

func NewIngestor(counter PageCounter, store ObjectStore, prefix string, logger zerolog.Logger) *Ingestor {
	if counter == nil {
		counter = PDFPageCounter{}
	}
	return &Ingestor{
		counter: counter,
		store:   store,
		prefix:  strings.Trim(prefix, "/"),
		log:     logger.With().Str("component", "ingestor").Logger(),
	}
}

func (i *Ingestor) Ingest(ctx context.Context, ownerID, fileName string, data []byte) (*Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", core.ErrInvalidArgument)
	}

	pages, err := i.counter.CountPages(data)
	if err != nil {
		i.log.Warn().Err(err).Str("file_name", fileName).Msg("rejected unreadable document")
		return nil, err
	}

	key := i.ObjectKey(ownerID, fileName)
	ref, err := i.store.Put(ctx, key, data, pdfContentType)
	if err != nil {
		i.log.Error().Err(err).Str("key", key).Msg("document upload failed")
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}

	i.log.Debug().
		Str("ref", ref).
		Int("pages", pages).
		Int("bytes", len(data)).
		Msg("document stored")

	return &Document{Ref: ref, FileName: fileName, PageCount: pages}, nil
}

// Discard removes a stored document whose job could not be created.
func (i *Ingestor) Discard(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	if err := i.store.Remove(ctx, ref); err != nil {
		i.log.Warn().Err(err).Str("ref", ref).Msg("failed to discard orphaned document")
	}
}

// ObjectKey is prefix/owner/uuid-name. The name keeps only safe characters.
func (i *Ingestor) ObjectKey(ownerID, fileName string) string {
	name := sanitizeName(fileName)
	parts := []string{sanitizeName(ownerID), uuid.NewString() + "-" + name}
	if i.prefix != "" {
		parts = append([]string{i.prefix}, parts...)
	}
	return path.Join(parts...)
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "document.pdf"
	}
	return out
}
