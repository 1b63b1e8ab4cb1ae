package rag

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ziadkadry99/biblioteca/internal/library"
	"github.com/ziadkadry99/biblioteca/internal/records"
	"github.com/ziadkadry99/biblioteca/internal/vectordb"
)

const (
	maxNoteRunes    = 500
	maxExcerptRunes = 600

	// DefaultAnalysisQuestion is used when analysis mode gets no question.
	DefaultAnalysisQuestion = "Análisis general del progreso"

	noFragmentsNotice    = "No se encontraron fragmentos relevantes para esta pregunta en la biblioteca."
	noBibliographyNotice = "No hay bibliografía disponible."
)

// LibrarySystemPrompt is the system message of library mode.
const LibrarySystemPrompt = `Eres el asistente bibliotecario de un programa de alfabetización infantil con voluntarios.
Respondes en español, con claridad y sin inventar información.
Regla obligatoria: nunca uses el contenido de un documento sin citar su título y su autor.`

// AnalysisSystemPrompt is the system message of analysis mode.
const AnalysisSystemPrompt = `Eres un psicopedagogo que acompaña a voluntarios de un programa de alfabetización infantil.
Analizas registros de sesiones con prudencia profesional, sin diagnosticar, y respondes siempre con un
único objeto JSON válido. Cuando uses bibliografía, cita su título.`

const libraryInstructions = `INSTRUCCIONES:
1. Si la pregunta pide qué documentos existen, enumera los documentos del catálogo con su título y autor.
2. Si la pregunta es temática, responde a partir de los fragmentos relevantes.
3. Siempre que uses el contenido de un fragmento, cita el título y el autor del documento.
4. Si ningún fragmento es relevante, no inventes una respuesta: sugiere los documentos del catálogo que podrían servir.`

// AssembleLibraryPrompt builds the user prompt of library mode: the catalog,
// the retrieved fragments, the question and the fixed instructions, in that
// order.
func AssembleLibraryPrompt(question string, catalog []library.Document, results []vectordb.Result) string {
	var sb strings.Builder

	sb.WriteString("CATÁLOGO DE DOCUMENTOS DISPONIBLES:\n")
	if len(catalog) == 0 {
		sb.WriteString("(La biblioteca todavía no tiene documentos.)\n")
	}
	for i, d := range catalog {
		fmt.Fprintf(&sb, "%d. «%s» — %s (%s)\n", i+1, d.Title, d.Author, d.Kind)
	}

	sb.WriteString("\nFRAGMENTOS RELEVANTES:\n")
	if len(results) == 0 {
		sb.WriteString(noFragmentsNotice + "\n")
	}
	for i, r := range results {
		fmt.Fprintf(&sb, "\n[Fragmento %d] «%s» — %s\n%s\n", i+1, r.Chunk.Title, r.Chunk.Author, r.Chunk.Text)
	}

	sb.WriteString("\nPREGUNTA:\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString(libraryInstructions)
	return sb.String()
}

const analysisTemplate = `Analiza el progreso de un niño o niña del programa a partir de su perfil y sus registros de sesión.

PERFIL:
{{perfil}}

REGISTROS RECIENTES (del más reciente al más antiguo):
{{registros}}

BIBLIOGRAFÍA DE REFERENCIA:
{{bibliografia}}

PREGUNTA ESPECÍFICA:
{{pregunta}}

Responde ÚNICAMENTE con un objeto JSON con exactamente estas claves:
{
  "resumen": "síntesis del progreso observado",
  "fortalezas": ["..."],
  "dificultades": ["..."],
  "recomendaciones": [{"accion": "qué hacer en las próximas sesiones", "fundamento": "por qué, citando la bibliografía si corresponde"}],
  "fuentes_citadas": ["títulos de la bibliografía usados"]
}
Incluye al menos una recomendación. Usa listas vacías cuando no haya elementos.`

type profileView struct {
	Alias               string `json:"alias"`
	FranjaEtaria        string `json:"franjaEtaria"`
	NivelAlfabetizacion string `json:"nivelAlfabetizacion"`
	Escolarizacion      string `json:"escolarizacion"`
}

type sessionView struct {
	Fecha           string         `json:"fecha"`
	DuracionMinutos int            `json:"duracionMinutos"`
	Puntajes        map[string]int `json:"puntajes"`
	Notas           string         `json:"notas"`
}

// AssembleAnalysisPrompt fills the analysis template. The records section is
// always a JSON list, empty when there are no sessions.
func AssembleAnalysisPrompt(profile records.Profile, sessions []records.Session, bibliography []vectordb.Result, question string) (string, error) {
	profileJSON, err := json.MarshalIndent(profileView{
		Alias:               profile.Alias,
		FranjaEtaria:        profile.AgeBracket,
		NivelAlfabetizacion: profile.LiteracyLevel,
		Escolarizacion:      profile.SchoolingStatus,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding profile: %w", err)
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		scores := s.Scores
		if scores == nil {
			scores = map[string]int{}
		}
		views = append(views, sessionView{
			Fecha:           s.Date.Format("2006-01-02"),
			DuracionMinutos: s.DurationMinutes,
			Puntajes:        scores,
			Notas:           truncate(s.Notes, maxNoteRunes),
		})
	}
	recordsJSON, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding records: %w", err)
	}

	bib := noBibliographyNotice
	if len(bibliography) > 0 {
		lines := make([]string, len(bibliography))
		for i, r := range bibliography {
			lines[i] = fmt.Sprintf("- «%s» — %s", r.Chunk.Title, truncate(r.Chunk.Text, maxExcerptRunes))
		}
		bib = strings.Join(lines, "\n")
	}

	if strings.TrimSpace(question) == "" {
		question = DefaultAnalysisQuestion
	}

	// A single-pass replacer never rescans substituted text.
	r := strings.NewReplacer(
		"{{perfil}}", string(profileJSON),
		"{{registros}}", string(recordsJSON),
		"{{bibliografia}}", bib,
		"{{pregunta}}", question,
	)
	return r.Replace(analysisTemplate), nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
