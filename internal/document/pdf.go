package document

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/campusprint/printdesk/internal/core"
)

type PageCounter interface {
	CountPages(data []byte) (int, error)
}

// PDFPageCounter reads the page tree of a PDF held in memory.
type PDFPageCounter struct{}

func (PDFPageCounter) CountPages(data []byte) (pages int, err error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty file", core.ErrUnreadableDocument)
	}

	// The parser panics on some malformed object streams.
	defer func() {
		if r := recover(); r != nil {
			pages = 0
			err = fmt.Errorf("%w: %v", core.ErrUnreadableDocument, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrUnreadableDocument, err)
	}

	n := r.NumPage()
	if n < 1 {
		return 0, fmt.Errorf("%w: document has no pages", core.ErrUnreadableDocument)
	}
	return n, nil
}
