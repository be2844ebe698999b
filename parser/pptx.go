package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PPTXParser reads the text frames of every slide in slide order. Each
// slide becomes one block under a "Slide N" line.
type PPTXParser struct{}

func (p *PPTXParser) SupportedFormats() []string { return []string{"pptx"} }

func (p *PPTXParser) Parse(ctx context.Context, path string) (*Document, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening PPTX: %w", err)
	}
	defer r.Close()

	// ppt/slides/slide1.xml, slide2.xml, ...
	slides := make(map[int]string)
	for _, f := range r.File {
		if num := slideNumber(f.Name); num > 0 {
			slides[num] = f.Name
		}
	}
	nums := make([]int, 0, len(slides))
	for n := range slides {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var blocks []string
	for _, num := range nums {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := readZipEntry(&r.Reader, slides[num])
		if err != nil {
			return nil, err
		}
		text, err := slideText(data)
		if err != nil {
			return nil, fmt.Errorf("parsing slide %d: %w", num, err)
		}
		if text == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Slide %d\n%s", num, text))
	}

	return &Document{
		Text:   strings.Join(blocks, "\n\n"),
		Pages:  len(nums),
		Method: "native",
		Metadata: map[string]string{
			"slides_with_text": strconv.Itoa(len(blocks)),
		},
	}, nil
}

type pptxSlide struct {
	CSld struct {
		SpTree struct {
			SPs []pptxSP `xml:"sp"`
		} `xml:"spTree"`
	} `xml:"cSld"`
}

type pptxSP struct {
	TxBody *pptxTxBody `xml:"txBody"`
}

type pptxTxBody struct {
	Paras []pptxAPara `xml:"p"`
}

type pptxAPara struct {
	Runs []pptxARun `xml:"r"`
}

type pptxARun struct {
	Text string `xml:"t"`
}

func slideText(data []byte) (string, error) {
	var slide pptxSlide
	if err := xml.Unmarshal(data, &slide); err != nil {
		return "", err
	}

	var lines []string
	for _, sp := range slide.CSld.SpTree.SPs {
		if sp.TxBody == nil {
			continue
		}
		for _, para := range sp.TxBody.Paras {
			var line strings.Builder
			for _, run := range para.Runs {
				line.WriteString(run.Text)
			}
			if t := strings.TrimSpace(line.String()); t != "" {
				lines = append(lines, t)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

// slideNumber returns N for "ppt/slides/slideN.xml" and 0 for anything else.
func slideNumber(name string) int {
	if !strings.HasPrefix(name, "ppt/slides/slide") || !strings.HasSuffix(name, ".xml") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
	if err != nil {
		return 0
	}
	return n
}
