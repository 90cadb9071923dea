package source

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/text/encoding/charmap"
)

// Format is a document encoding the extractors understand
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatDOCX     Format = "docx"
	FormatPDF      Format = "pdf"
)

// ErrUnsupportedFormat is returned for formats with no extractor
var ErrUnsupportedFormat = errors.New("unsupported format")

// Extractor turns raw document bytes into plain text
type Extractor interface {
	Format() Format
	Extract(data []byte) (string, error)
}

// Registry maps formats to extractors
type Registry struct {
	extractors map[Format]Extractor
}

// NewRegistry returns a registry with the built-in extractors
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[Format]Extractor)}
	r.Register(textExtractor{format: FormatText})
	r.Register(textExtractor{format: FormatMarkdown})
	r.Register(jsonExtractor{})
	r.Register(htmlExtractor{})
	r.Register(docxExtractor{})
	r.Register(pdfExtractor{})
	return r
}

// Register adds or replaces the extractor for its format
func (r *Registry) Register(e Extractor) {
	r.extractors[e.Format()] = e
}

// Extract runs the extractor for format
func (r *Registry) Extract(format Format, data []byte) (string, error) {
	e, ok := r.extractors[format]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	text, err := e.Extract(data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}
	return strings.TrimSpace(text), nil
}

// DetectFormat picks a format from the file extension, then the content
// type, then the bytes themselves
func DetectFormat(location, contentType string, data []byte) Format {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(stripQuery(location)), "."))
	switch ext {
	case "txt", "text":
		return FormatText
	case "md", "markdown":
		return FormatMarkdown
	case "json":
		return FormatJSON
	case "html", "htm", "xhtml":
		return FormatHTML
	case "docx", "doc":
		return FormatDOCX
	case "pdf":
		return FormatPDF
	}

	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch {
		case mt == "text/html" || mt == "application/xhtml+xml":
			return FormatHTML
		case mt == "application/json" || strings.HasSuffix(mt, "+json"):
			return FormatJSON
		case mt == "text/markdown":
			return FormatMarkdown
		case mt == "application/pdf":
			return FormatPDF
		case strings.Contains(mt, "wordprocessingml"):
			return FormatDOCX
		case strings.HasPrefix(mt, "text/"):
			return FormatText
		}
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return FormatPDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return FormatDOCX
	}
	head := bytes.ToLower(bytes.TrimSpace(data[:min(len(data), 512)]))
	switch {
	case bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html")):
		return FormatHTML
	case bytes.HasPrefix(head, []byte("{")) || bytes.HasPrefix(head, []byte("[")):
		if json.Valid(data) {
			return FormatJSON
		}
	}
	return FormatText
}

func stripQuery(location string) string {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		return location[:i]
	}
	return location
}

type textExtractor struct{ format Format }

func (e textExtractor) Format() Format { return e.format }

// Extract decodes UTF-8, falling back to ISO-8859-1
func (e textExtractor) Extract(data []byte) (string, error) {
	return decodeText(data)
}

func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode latin-1: %w", err)
	}
	return string(out), nil
}

type jsonExtractor struct{}

func (jsonExtractor) Format() Format { return FormatJSON }

// Extract flattens a JSON document into "path: value" lines, keeping
// object key order
func (jsonExtractor) Extract(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var lines []string
	if err := flattenJSON(dec, "", &lines); err != nil {
		return "", err
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", errors.New("trailing data after JSON value")
	}
	return strings.Join(lines, "\n"), nil
}

func flattenJSON(dec *json.Decoder, prefix string, lines *[]string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return err
				}
				key, _ := keyTok.(string)
				if err := flattenJSON(dec, joinPath(prefix, key), lines); err != nil {
					return err
				}
			}
		case '[':
			for i := 0; dec.More(); i++ {
				if err := flattenJSON(dec, prefix+"["+strconv.Itoa(i)+"]", lines); err != nil {
					return err
				}
			}
		}
		_, err := dec.Token() // closing delimiter
		return err
	case nil:
		return nil
	default:
		value := strings.TrimSpace(fmt.Sprint(t))
		if value == "" {
			return nil
		}
		if prefix == "" {
			*lines = append(*lines, value)
		} else {
			*lines = append(*lines, prefix+": "+value)
		}
		return nil
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

type htmlExtractor struct{}

func (htmlExtractor) Format() Format { return FormatHTML }

// Extract returns visible text with block elements on their own lines
func (htmlExtractor) Extract(data []byte) (string, error) {
	text, err := decodeText(data)
	if err != nil {
		return "", err
	}
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "template", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				if buf.Len() > 0 && !endsWithSpace(&buf) {
					buf.WriteByte(' ')
				}
				buf.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.Data) {
			buf.WriteByte('\n')
		}
	}
	walk(doc)

	return collapseBlankLines(buf.String()), nil
}

func endsWithSpace(b *strings.Builder) bool {
	s := b.String()
	return strings.HasSuffix(s, " ") || strings.HasSuffix(s, "\n")
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "tr", "table", "section", "article", "header", "footer",
		"h1", "h2", "h3", "h4", "h5", "h6", "pre", "blockquote", "ul", "ol", "dt", "dd":
		return true
	}
	return false
}

func collapseBlankLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

type docxExtractor struct{}

func (docxExtractor) Format() Format { return FormatDOCX }

// Extract reads the paragraphs of word/document.xml
func (docxExtractor) Extract(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("word/document.xml not found")
	}

	rc, err := body.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	var (
		paras []string
		cur   strings.Builder
		inT   bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inT = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				if p := strings.TrimSpace(cur.String()); p != "" {
					paras = append(paras, p)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inT {
				cur.Write(t)
			}
		}
	}
	if p := strings.TrimSpace(cur.String()); p != "" {
		paras = append(paras, p)
	}
	return strings.Join(paras, "\n"), nil
}

type pdfExtractor struct{}

func (pdfExtractor) Format() Format { return FormatPDF }

// Extract returns the plain text of each page, pages separated by a blank
// line. Image-only PDFs yield no text.
func (pdfExtractor) Extract(data []byte) (text string, err error) {
	// The reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		t, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if t = strings.TrimSpace(t); t != "" {
			pages = append(pages, t)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
