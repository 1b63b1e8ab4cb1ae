package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const (
	docxBodyPart = "word/document.xml"
	docxCorePart = "docProps/core.xml"
)

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []struct {
		Content string `xml:",chardata"`
	} `xml:"t"`
	Tabs []struct{} `xml:"tab"`
}

type docxCore struct {
	Title string `xml:"title"`
}

// extractDOCX returns one line per paragraph plus the title from the core
// properties part, when present.
func extractDOCX(data []byte) (string, string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", "", fmt.Errorf("%w: docx: %v", ErrParse, err)
	}

	body, err := readZipPart(zr, docxBodyPart)
	if err != nil {
		return "", "", err
	}
	if body == nil {
		return "", "", fmt.Errorf("%w: docx: missing %s", ErrParse, docxBodyPart)
	}

	var doc docxDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", "", fmt.Errorf("%w: docx: %v", ErrParse, err)
	}

	var b strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			b.WriteByte('\n')
		}
		for _, run := range para.Runs {
			if len(run.Tabs) > 0 {
				b.WriteByte(' ')
			}
			for _, t := range run.Text {
				b.WriteString(t.Content)
			}
		}
	}

	var title string
	if core, err := readZipPart(zr, docxCorePart); err == nil && core != nil {
		var props docxCore
		if xml.Unmarshal(core, &props) == nil {
			title = props.Title
		}
	}

	return b.String(), title, nil
}

// readZipPart returns nil, nil when the part does not exist.
func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: docx: %v", ErrParse, err)
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: docx: %v", ErrParse, err)
		}
		return content, nil
	}
	return nil, nil
}
