package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
)

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Laptop </w:t></w:r><w:r><w:t>catalogue</w:t></w:r></w:p>
    <w:p></w:p>
    <w:p><w:r><w:t>Price</w:t><w:tab/><w:t>1200</w:t></w:r></w:p>
  </w:body>
</w:document>`

func buildDocx(t *testing.T, parts map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range parts {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestParagraphsKeepsOrderAndEmptyLines(t *testing.T) {
	raw := buildDocx(t, map[string]string{"word/document.xml": documentXML})
	got, err := Paragraphs(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("Paragraphs() error = %v", err)
	}
	want := []string{"Laptop catalogue", "", "Price\t1200"}
	if len(got) != len(want) {
		t.Fatalf("expected %d paragraphs, got %q", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("paragraph %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestExtractJoinsParagraphs(t *testing.T) {
	raw := buildDocx(t, map[string]string{"word/document.xml": documentXML})
	got, err := NewExtractor().Extract(context.Background(), "catalogue.docx", raw)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "Laptop catalogue\n\nPrice\t1200" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExtractMissingDocumentPart(t *testing.T) {
	raw := buildDocx(t, map[string]string{"word/styles.xml": "<styles/>"})
	if _, err := NewExtractor().Extract(context.Background(), "broken.docx", raw); err == nil {
		t.Fatalf("expected error for archive without document part")
	}
}

func TestExtractRejectsNonZip(t *testing.T) {
	if _, err := NewExtractor().Extract(context.Background(), "plain.docx", []byte("not a zip")); err == nil {
		t.Fatalf("expected error for non-zip input")
	}
}
