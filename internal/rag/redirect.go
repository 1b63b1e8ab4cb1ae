package rag

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RedirectMessage answers library questions about a specific child.
const RedirectMessage = "Parece que tu consulta es sobre un niño o niña en particular. " +
	"La biblioteca solo responde preguntas sobre los documentos de referencia: " +
	"para analizar el progreso de alguien, usa el modo de análisis y elige su perfil."

// childKeywords are matched as whole words after folding accents.
var childKeywords = map[string]bool{
	"nino": true, "nina": true, "ninos": true, "ninas": true,
	"chico": true, "chica": true,
	"alumno": true, "alumna": true, "alumnos": true, "alumnas": true,
	"estudiante": true, "estudiantes": true,
	"informe": true, "informes": true,
	"reporte": true, "reportes": true,
	"caso": true, "casos": true,
	"sesion": true, "sesiones": true,
}

// mentionsChild reports whether question looks like it is about an
// individual child rather than the library.
func mentionsChild(question string) bool {
	folded := foldAccents(strings.ToLower(question))
	for _, w := range strings.FieldsFunc(folded, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if childKeywords[w] {
			return true
		}
	}
	return false
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
