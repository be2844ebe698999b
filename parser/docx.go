package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DOCXParser reads word/document.xml in document order. Heading paragraphs
// become markdown headings and tables become pipe-delimited rows.
type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

func (p *DOCXParser) Parse(ctx context.Context, path string) (*Document, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	data, err := readZipEntry(&r.Reader, "word/document.xml")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := parseDocxXML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}

	return &Document{
		Text:   strings.Join(body.blocks, "\n\n"),
		Method: "native",
		Metadata: map[string]string{
			"paragraphs": strconv.Itoa(body.paragraphs),
			"headings":   strconv.Itoa(body.headings),
			"tables":     strconv.Itoa(body.tables),
		},
	}, nil
}

// readZipEntry returns the contents of the named archive member.
func readZipEntry(r *zip.Reader, name string) ([]byte, error) {
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

type docxBody struct {
	blocks     []string
	paragraphs int
	headings   int
	tables     int
}

// docxWalker tracks where the decoder is inside the body.
type docxWalker struct {
	out docxBody

	para   strings.Builder
	style  string
	inText bool
	inPPr  bool
	depth  int // table nesting
	cell   strings.Builder
	row    []string
	rows   []string
}

func parseDocxXML(data []byte) (docxBody, error) {
	var w docxWalker
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return docxBody{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			w.start(t)
		case xml.EndElement:
			w.end(t)
		case xml.CharData:
			if w.inText {
				w.para.Write(t)
			}
		}
	}
	return w.out, nil
}

func (w *docxWalker) start(t xml.StartElement) {
	switch t.Name.Local {
	case "p":
		w.para.Reset()
		w.style = ""
	case "pPr":
		w.inPPr = true
	case "pStyle":
		if w.inPPr {
			for _, a := range t.Attr {
				if a.Name.Local == "val" {
					w.style = a.Value
				}
			}
		}
	case "t":
		w.inText = true
	case "tab":
		if !w.inPPr {
			w.para.WriteString(" ")
		}
	case "tbl":
		if w.depth == 0 {
			w.rows = nil
		}
		w.depth++
	case "tr":
		if w.depth == 1 {
			w.row = nil
		}
	case "tc":
		if w.depth == 1 {
			w.cell.Reset()
		}
	}
}

func (w *docxWalker) end(t xml.EndElement) {
	switch t.Name.Local {
	case "t":
		w.inText = false
	case "pPr":
		w.inPPr = false
	case "p":
		text := strings.TrimSpace(w.para.String())
		w.para.Reset()
		if text == "" {
			return
		}
		if w.depth > 0 {
			if w.cell.Len() > 0 {
				w.cell.WriteString(" ")
			}
			w.cell.WriteString(text)
			return
		}
		w.out.paragraphs++
		if isHeadingStyle(w.style) {
			w.out.headings++
			text = strings.Repeat("#", headingStyleLevel(w.style)) + " " + text
		}
		w.out.blocks = append(w.out.blocks, text)
	case "tc":
		if w.depth == 1 {
			w.row = append(w.row, w.cell.String())
		}
	case "tr":
		if w.depth == 1 && len(w.row) > 0 {
			w.rows = append(w.rows, "| "+strings.Join(w.row, " | ")+" |")
		}
	case "tbl":
		w.depth--
		if w.depth == 0 && len(w.rows) > 0 {
			w.out.tables++
			w.out.blocks = append(w.out.blocks, strings.Join(w.rows, "\n"))
		}
	}
}

func isHeadingStyle(style string) bool {
	lower := strings.ToLower(style)
	return strings.HasPrefix(lower, "heading") || strings.HasPrefix(lower, "title")
}

// headingStyleLevel maps Title to 1 and HeadingN to N.
func headingStyleLevel(style string) int {
	lower := strings.ToLower(style)
	if strings.HasPrefix(lower, "title") {
		return 1
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(lower, "heading")); err == nil && n >= 1 && n <= 9 {
		return n
	}
	return 1
}
