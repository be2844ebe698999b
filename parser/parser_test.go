package parser

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry()

	formats := []struct {
		format     string
		wantParser string
	}{
		{"txt", "*parser.TextParser"},
		{"md", "*parser.TextParser"},
		{"MD", "*parser.TextParser"},
		{"pdf", "*parser.PDFParser"},
		{"xlsx", "*parser.XLSXParser"},
		{"docx", "*parser.DOCXParser"},
		{"pptx", "*parser.PPTXParser"},
	}
	for _, tt := range formats {
		t.Run(tt.format, func(t *testing.T) {
			p, err := reg.Get(tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.wantParser, fmt.Sprintf("%T", p))
		})
	}
	assert.Equal(t, []string{"docx", "markdown", "md", "pdf", "pptx", "txt", "xlsx"}, reg.Formats())
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry()
	for _, f := range []string{"rtf", "csv", "json", ""} {
		_, err := reg.Get(f)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, "format %q", f)
	}

	_, err := reg.Parse(context.Background(), "/tmp/file.odt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRegistryRegisterOverrides(t *testing.T) {
	reg := NewRegistry()
	reg.Register("CSV", &TextParser{})
	p, err := reg.Get("csv")
	require.NoError(t, err)
	assert.IsType(t, &TextParser{}, p)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, "pdf", FormatOf("/a/b/Report.PDF"))
	assert.Equal(t, "md", FormatOf("notes.md"))
	assert.Equal(t, "", FormatOf("README"))
}

func TestTextParser(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title\n\nAda Lovelace wrote notes."), 0o644))

	doc, err := NewRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nAda Lovelace wrote notes.", doc.Text)
	assert.Equal(t, "native", doc.Method)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte{0xff, 0xfe, 0x00}, 0o644))
	_, err = (&TextParser{}).Parse(context.Background(), bad)
	assert.Error(t, err)

	_, err = (&TextParser{}).Parse(context.Background(), filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestXLSXParser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Name", "City"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Ada", "London"}))
	_, err := f.NewSheet("Empty")
	require.NoError(t, err)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	doc, err := (&XLSXParser{}).Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Sheet: Sheet1\n| Name | City |\n| Ada | London |\n", doc.Text)
	assert.Equal(t, "1", doc.Metadata["sheets"])
	assert.Equal(t, "2", doc.Metadata["rows"])
}

func TestPDFParserRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))
	_, err := (&PDFParser{}).Parse(context.Background(), path)
	assert.Error(t, err)
}

func TestCleanPageText(t *testing.T) {
	in := "  Title  \n\n\n\n  body line one\nbody line two  \n\n"
	assert.Equal(t, "Title\n\nbody line one\nbody line two", cleanPageText(in))
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

const docxBodyXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Founders</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Ada Lovelace </w:t></w:r><w:r><w:t>wrote notes.</w:t></w:r></w:p>
<w:p><w:r><w:t></w:t></w:r></w:p>
<w:tbl>
<w:tr><w:tc><w:p><w:r><w:t>Name</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>City</w:t></w:r></w:p></w:tc></w:tr>
<w:tr><w:tc><w:p><w:r><w:t>Ada</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>London</w:t></w:r></w:p></w:tc></w:tr>
</w:tbl>
<w:p><w:r><w:t>Closing line.</w:t></w:r></w:p>
</w:body>
</w:document>`

func TestDOCXParser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.docx")
	writeZip(t, path, map[string]string{"word/document.xml": docxBodyXML})

	doc, err := NewRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "## Founders\n\nAda Lovelace wrote notes.\n\n| Name | City |\n| Ada | London |\n\nClosing line.", doc.Text)
	assert.Equal(t, "native", doc.Method)
	assert.Equal(t, "3", doc.Metadata["paragraphs"])
	assert.Equal(t, "1", doc.Metadata["headings"])
	assert.Equal(t, "1", doc.Metadata["tables"])
}

func TestDOCXParserErrors(t *testing.T) {
	dir := t.TempDir()

	notZip := filepath.Join(dir, "fake.docx")
	require.NoError(t, os.WriteFile(notZip, []byte("x"), 0o644))
	_, err := (&DOCXParser{}).Parse(context.Background(), notZip)
	assert.Error(t, err)

	noBody := filepath.Join(dir, "empty.docx")
	writeZip(t, noBody, map[string]string{"word/styles.xml": "<w:styles/>"})
	_, err = (&DOCXParser{}).Parse(context.Background(), noBody)
	assert.ErrorContains(t, err, "word/document.xml not found")
}

func TestHeadingStyleLevel(t *testing.T) {
	assert.Equal(t, 1, headingStyleLevel("Title"))
	assert.Equal(t, 3, headingStyleLevel("Heading3"))
	assert.Equal(t, 1, headingStyleLevel("HeadingX"))
}

func pptxSlideXML(lines ...string) string {
	var b strings.Builder
	b.WriteString(`<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree><p:sp><p:txBody>`)
	for _, l := range lines {
		b.WriteString("<a:p><a:r><a:t>" + l + "</a:t></a:r></a:p>")
	}
	b.WriteString(`</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`)
	return b.String()
}

func TestPPTXParser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	writeZip(t, path, map[string]string{
		"ppt/slides/slide10.xml":           pptxSlideXML("Roadmap"),
		"ppt/slides/slide2.xml":            pptxSlideXML("Polar Tram AG", "builds trams"),
		"ppt/slides/slide1.xml":            pptxSlideXML(),
		"ppt/slides/_rels/slide1.xml.rels": "<Relationships/>",
	})

	doc, err := NewRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Slide 2\nPolar Tram AG\nbuilds trams\n\nSlide 10\nRoadmap", doc.Text)
	assert.Equal(t, 3, doc.Pages)
	assert.Equal(t, "2", doc.Metadata["slides_with_text"])
}

func TestSlideNumber(t *testing.T) {
	assert.Equal(t, 12, slideNumber("ppt/slides/slide12.xml"))
	assert.Equal(t, 0, slideNumber("ppt/slides/_rels/slide1.xml.rels"))
	assert.Equal(t, 0, slideNumber("ppt/slideLayouts/slideLayout1.xml"))
}
