package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF joins the text runs of each page with single spaces and ends
// every page with a newline. A run is one text-showing operation, read top
// to bottom and left to right. The reader panics on some malformed streams,
// so panics surface as ErrParse.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: pdf: %v", ErrParse, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: pdf: %v", ErrParse, err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("%w: pdf: page %d: %v", ErrParse, i, err)
		}
		prev := ""
		for _, row := range rows {
			for _, run := range row.Content {
				if run.S == "" {
					continue
				}
				if needsSpace(prev, run.S) {
					b.WriteByte(' ')
				}
				b.WriteString(run.S)
				prev = run.S
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// needsSpace reports whether two adjacent runs would otherwise fuse words.
func needsSpace(prev, next string) bool {
	if prev == "" || next == "" {
		return false
	}
	return !strings.HasSuffix(prev, " ") && !strings.HasPrefix(next, " ")
}
