package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/campusprint/printdesk/internal/core"
)

// buildPDF writes a minimal well-formed PDF with the given number of blank pages.
func buildPDF(pages int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages),
	}
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestPDFPageCounter(t *testing.T) {
	for _, pages := range []int{1, 3, 12} {
		n, err := PDFPageCounter{}.CountPages(buildPDF(pages))
		if err != nil {
			t.Fatalf("count %d pages: %v", pages, err)
		}
		if n != pages {
			t.Errorf("expected %d pages, got %d", pages, n)
		}
	}
}

func TestPDFPageCounterRejectsGarbage(t *testing.T) {
	inputs := map[string][]byte{
		"empty":     nil,
		"text":      []byte("this is certainly not a portable document"),
		"truncated": buildPDF(2)[:40],
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := PDFPageCounter{}.CountPages(data)
			if !errors.Is(err, core.ErrUnreadableDocument) {
				t.Errorf("expected ErrUnreadableDocument, got %v", err)
			}
		})
	}
}

type fixedCounter struct {
	pages int
	err   error
}

func (c fixedCounter) CountPages([]byte) (int, error) {
	return c.pages, c.err
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: make(map[string][]byte)}
}

func (m *memoryObjects) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	if contentType != pdfContentType {
		return "", fmt.Errorf("unexpected content type %q", contentType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return key, nil
}

func (m *memoryObjects) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func TestIngestStoresCountedDocument(t *testing.T) {
	store := newMemoryObjects()
	ing := NewIngestor(nil, store, "campusprint/", zerolog.Nop())

	doc, err := ing.Ingest(context.Background(), "u1", "thesis.pdf", buildPDF(4))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if doc.PageCount != 4 {
		t.Errorf("expected 4 pages, got %d", doc.PageCount)
	}
	if doc.FileName != "thesis.pdf" {
		t.Errorf("expected original file name, got %q", doc.FileName)
	}
	if !strings.HasPrefix(doc.Ref, "campusprint/u1/") || !strings.HasSuffix(doc.Ref, "-thesis.pdf") {
		t.Errorf("unexpected object key %q", doc.Ref)
	}
	if _, ok := store.objects[doc.Ref]; !ok {
		t.Error("expected object to be stored under returned ref")
	}

	ing.Discard(context.Background(), doc.Ref)
	if len(store.objects) != 0 {
		t.Error("expected discard to remove the object")
	}
}

func TestIngestUnreadableNeverStored(t *testing.T) {
	store := newMemoryObjects()
	ing := NewIngestor(nil, store, "", zerolog.Nop())

	_, err := ing.Ingest(context.Background(), "u1", "broken.pdf", []byte("garbage"))
	if !errors.Is(err, core.ErrUnreadableDocument) {
		t.Fatalf("expected ErrUnreadableDocument, got %v", err)
	}
	if len(store.objects) != 0 {
		t.Error("unreadable document must not reach storage")
	}
}

func TestIngestStorageFailure(t *testing.T) {
	store := newMemoryObjects()
	store.putErr = errors.New("connection refused")
	ing := NewIngestor(fixedCounter{pages: 2}, store, "", zerolog.Nop())

	_, err := ing.Ingest(context.Background(), "u1", "a.pdf", []byte("x"))
	if !errors.Is(err, core.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestIngestRequiresOwner(t *testing.T) {
	ing := NewIngestor(fixedCounter{pages: 1}, newMemoryObjects(), "", zerolog.Nop())
	if _, err := ing.Ingest(context.Background(), " ", "a.pdf", []byte("x")); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestObjectKeySanitises(t *testing.T) {
	ing := NewIngestor(fixedCounter{}, newMemoryObjects(), "", zerolog.Nop())

	tests := []struct {
		in   string
		want string
	}{
		{"../../etc/passwd", "-passwd"},
		{`C:\Users\me\notes v2.pdf`, "-notes_v2.pdf"},
		{"", "-document.pdf"},
		{"résumé.pdf", "-r_sum_.pdf"},
	}
	for _, tt := range tests {
		key := ing.ObjectKey("u1", tt.in)
		if !strings.HasPrefix(key, "u1/") {
			t.Errorf("%q: expected owner prefix, got %q", tt.in, key)
		}
		if strings.Contains(key, "..") {
			t.Errorf("%q: key escapes its prefix: %q", tt.in, key)
		}
		if !strings.HasSuffix(key, tt.want) {
			t.Errorf("%q: expected suffix %q, got %q", tt.in, tt.want, key)
		}
	}
}
