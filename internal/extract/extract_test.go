package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDOCX(t *testing.T, body, core string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if body != "" {
		w, err := zw.Create(docxBodyPart)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	if core != "" {
		w, err := zw.Create(docxCorePart)
		require.NoError(t, err)
		_, err = w.Write([]byte(core))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const sampleDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Guía de</w:t></w:r><w:r><w:t xml:space="preserve"> Lectura</w:t></w:r></w:p>
    <w:p><w:r><w:t>La lectura compartida   fortalece el vocabulario.</w:t></w:r></w:p>
  </w:body>
</w:document>`

const sampleCoreXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <dc:title>Guía de Lectura</dc:title>
</cp:coreProperties>`

func TestFormatFromFilename(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"guia.pdf", FormatPDF, false},
		{"Manual.DOCX", FormatDOCX, false},
		{"notas.txt", FormatText, false},
		{"README.md", FormatText, false},
		{"viejo.doc", "", true},
		{"imagen.png", "", true},
		{"sin-extension", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatFromFilename(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractText(t *testing.T) {
	res, err := Extract([]byte("Hola   mundo.\r\n\r\n\r\n\r\nSegundo  párrafo."), "nota.txt")
	require.NoError(t, err)
	assert.Equal(t, FormatText, res.Format)
	assert.Equal(t, "Hola mundo.\n\nSegundo párrafo.", res.Text)
}

func TestExtractTextInvalidUTF8(t *testing.T) {
	_, err := Extract([]byte{0xff, 0xfe, 0xfd}, "roto.txt")
	assert.ErrorIs(t, err, ErrParse)
}

func TestExtractEmpty(t *testing.T) {
	_, err := Extract([]byte(" \n\t \n"), "vacio.txt")
	assert.ErrorIs(t, err, ErrEmptyExtraction)
}

func TestExtractUnsupported(t *testing.T) {
	_, err := Extract([]byte("data"), "hoja.xlsx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractDOCX(t *testing.T) {
	data := buildDOCX(t, sampleDocumentXML, sampleCoreXML)

	res, err := Extract(data, "guia.docx")
	require.NoError(t, err)
	assert.Equal(t, FormatDOCX, res.Format)
	assert.Equal(t, "Guía de Lectura\nLa lectura compartida fortalece el vocabulario.", res.Text)
	assert.Equal(t, "Guía de Lectura", res.DeclaredTitle)
}

func TestExtractDOCXWithoutCoreProperties(t *testing.T) {
	res, err := Extract(buildDOCX(t, sampleDocumentXML, ""), "guia.docx")
	require.NoError(t, err)
	assert.Empty(t, res.DeclaredTitle)
}

func TestExtractDOCXErrors(t *testing.T) {
	t.Run("not a zip", func(t *testing.T) {
		_, err := Extract([]byte("plain bytes"), "falso.docx")
		assert.ErrorIs(t, err, ErrParse)
	})
	t.Run("missing body part", func(t *testing.T) {
		_, err := Extract(buildDOCX(t, "", sampleCoreXML), "incompleto.docx")
		assert.ErrorIs(t, err, ErrParse)
	})
	t.Run("bad xml", func(t *testing.T) {
		_, err := Extract(buildDOCX(t, "<w:document><w:body>", ""), "malo.docx")
		assert.ErrorIs(t, err, ErrParse)
	})
	t.Run("no text", func(t *testing.T) {
		empty := `<w:document xmlns:w="x"><w:body><w:p></w:p></w:body></w:document>`
		_, err := Extract(buildDOCX(t, empty, ""), "vacio.docx")
		assert.ErrorIs(t, err, ErrEmptyExtraction)
	})
}

func TestExtractPDFGarbage(t *testing.T) {
	_, err := Extract([]byte("%PDF-1.4 this is not really a pdf"), "roto.pdf")
	assert.ErrorIs(t, err, ErrParse)
}

// buildPDF assembles an uncompressed PDF with one Helvetica page per content
// stream.
func buildPDF(pages ...string) []byte {
	const fontObj = 3
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"", // page tree, filled in below
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	var kids []string
	for _, content := range pages {
		pageObj := len(objs) + 1
		kids = append(kids, fmt.Sprintf("%d 0 R", pageObj))
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontObj, pageObj+1),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}
	objs[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestExtractPDF(t *testing.T) {
	first := "BT /F1 12 Tf " +
		"1 0 0 1 72 720 Tm (Hola) Tj " +
		"1 0 0 1 110 720 Tm (mundo) Tj " +
		"1 0 0 1 72 700 Tm (lectora) Tj ET"
	second := "BT /F1 12 Tf 1 0 0 1 72 720 Tm (Segunda) Tj 1 0 0 1 140 720 Tm (pagina) Tj ET"

	res, err := Extract(buildPDF(first, second), "guia.pdf")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, res.Format)
	assert.Equal(t, "Hola mundo lectora\nSegunda pagina", res.Text)
}

func TestExtractPDFEmptyContent(t *testing.T) {
	_, err := Extract(buildPDF(""), "vacio.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyExtraction)
	assert.NotErrorIs(t, err, ErrParse)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses spaces", "a  \t b", "a b"},
		{"caps blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"keeps one blank line", "a\n\nb", "a\n\nb"},
		{"trims around breaks", "a   \n   b", "a\nb"},
		{"crlf", "a\r\nb\rc", "a\nb\nc"},
		{"nbsp", "a\u00a0\u00a0b", "a b"},
		{"composes accents", "Gu\u0069\u0301a", "Gu\u00eda"},
		{"trims", "  \n hola \n ", "hola"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
