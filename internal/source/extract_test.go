package source

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name        string
		location    string
		contentType string
		data        string
		want        Format
	}{
		{"txt ext", "frd.txt", "", "x", FormatText},
		{"md ext", "/a/b/brd.MD", "", "x", FormatMarkdown},
		{"docx ext", "frd.docx", "", "x", FormatDOCX},
		{"pdf ext", "frd.pdf", "", "x", FormatPDF},
		{"url with query", "https://h/frd.json?rev=2", "", "{}", FormatJSON},
		{"content type html", "https://h/frd", "text/html; charset=utf-8", "x", FormatHTML},
		{"content type json", "https://h/frd", "application/json", "{}", FormatJSON},
		{"content type docx", "https://h/frd", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "", FormatDOCX},
		{"sniff pdf", "upload", "", "%PDF-1.7", FormatPDF},
		{"sniff zip", "upload", "", "PK\x03\x04rest", FormatDOCX},
		{"sniff html", "upload", "", "  <!DOCTYPE html><html></html>", FormatHTML},
		{"sniff json", "upload", "", `{"a": 1}`, FormatJSON},
		{"brace but not json", "upload", "", "{ not json", FormatText},
		{"default", "upload", "", "plain words", FormatText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.location, tt.contentType, []byte(tt.data)); got != tt.want {
				t.Errorf("DetectFormat() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExtract_TextLatin1Fallback(t *testing.T) {
	r := NewRegistry()

	got, err := r.Extract(FormatText, []byte("\xef\xbb\xbf  Café requirements \n"))
	if err != nil || got != "Café requirements" {
		t.Errorf("utf-8 text = %q, %v", got, err)
	}

	got, err = r.Extract(FormatText, []byte("Caf\xe9 r\xe9sum\xe9"))
	if err != nil {
		t.Fatalf("latin-1 text failed: %v", err)
	}
	if got != "Café résumé" {
		t.Errorf("latin-1 text = %q", got)
	}
}

func TestExtract_JSONFlatten(t *testing.T) {
	data := `{
		"title": "Payments FRD",
		"sections": [
			{"id": "1", "body": "Users shall pay."},
			{"id": "2", "body": "Refunds within 5 days.", "draft": true}
		],
		"owner": null,
		"version": 3
	}`
	got, err := NewRegistry().Extract(FormatJSON, []byte(data))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := "title: Payments FRD\n" +
		"sections[0].id: 1\n" +
		"sections[0].body: Users shall pay.\n" +
		"sections[1].id: 2\n" +
		"sections[1].body: Refunds within 5 days.\n" +
		"sections[1].draft: true\n" +
		"version: 3"
	if got != want {
		t.Errorf("flattened JSON:\n%s\nwant:\n%s", got, want)
	}

	if _, err := NewRegistry().Extract(FormatJSON, []byte(`{"a": 1} {"b": 2}`)); err == nil {
		t.Error("Expected error for trailing JSON value")
	}
	if _, err := NewRegistry().Extract(FormatJSON, []byte(`{"a": `)); err == nil {
		t.Error("Expected error for truncated JSON")
	}
}

func TestExtract_HTML(t *testing.T) {
	page := `<html><head><title>ignored</title><style>p{}</style></head>
<body><h1>1 Scope</h1><p>The system   shall
authenticate users.</p><script>alert(1)</script><ul><li>SSO</li><li>MFA</li></ul></body></html>`

	got, err := NewRegistry().Extract(FormatHTML, []byte(page))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := "1 Scope\nThe system shall authenticate users.\nSSO\nMFA"
	if got != want {
		t.Errorf("html text = %q, want %q", got, want)
	}
}

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtract_DOCX(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>1 Scope</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">The system </w:t></w:r><w:r><w:t>shall log in users.</w:t></w:r></w:p>
<w:p></w:p>
<w:p><w:r><w:t>2 Roles</w:t></w:r></w:p>
</w:body></w:document>`

	got, err := NewRegistry().Extract(FormatDOCX, buildDocx(t, doc))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := "1 Scope\nThe system shall log in users.\n2 Roles"
	if got != want {
		t.Errorf("docx text = %q, want %q", got, want)
	}

	if _, err := NewRegistry().Extract(FormatDOCX, []byte("not a zip")); err == nil {
		t.Error("Expected error for invalid docx")
	}
}

func TestExtract_Unsupported(t *testing.T) {
	_, err := NewRegistry().Extract(Format("rtf"), []byte("{\\rtf1 hi}"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExtract_PDFRejectsGarbage(t *testing.T) {
	_, err := NewRegistry().Extract(FormatPDF, []byte("%PDF-1.4 truncated"))
	if err == nil {
		t.Error("Expected error for truncated pdf")
	}
	if errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("pdf should have an extractor, got %v", err)
	}
}
