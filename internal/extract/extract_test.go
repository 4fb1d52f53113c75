package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSupported(t *testing.T) {
	for _, name := range []string{"case.txt", "case.pdf", "case.docx", "CASE.PDF"} {
		if !Supported(name) {
			t.Errorf("%s should be supported", name)
		}
	}
	for _, name := range []string{"case.doc", "case.odt", "case", "case.png"} {
		if Supported(name) {
			t.Errorf("%s should not be supported", name)
		}
	}
}

func TestText_Plain(t *testing.T) {
	got, err := Text("case.txt", []byte("The city banned a protest."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "The city banned a protest." {
		t.Fatalf("unexpected text: %q", got)
	}
}

// buildDocx assembles a minimal valid .docx archive around the given
// document.xml body.
func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestText_Docx(t *testing.T) {
	data := buildDocx(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second</w:t></w:r><w:r><w:br/><w:t>with a break.</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	got, err := Text("case.docx", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "First paragraph.\n") {
		t.Fatalf("paragraph boundary lost: %q", got)
	}
	if !strings.Contains(got, "Second\nwith a break.") {
		t.Fatalf("explicit break lost: %q", got)
	}
}

func TestText_DocxMissingBody(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.Close()

	if _, err := Text("case.docx", buf.Bytes()); err == nil {
		t.Fatal("expected error for docx without document.xml")
	}
}

func TestText_MalformedPDF(t *testing.T) {
	if _, err := Text("case.pdf", []byte("not a pdf at all")); err == nil {
		t.Fatal("expected error for malformed pdf")
	}
}

func TestText_UnsupportedType(t *testing.T) {
	_, err := Text("case.odt", []byte("x"))
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}

	_, err = Text("case.doc", []byte("x"))
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("legacy .doc should map to ErrUnsupported, got %v", err)
	}
}
