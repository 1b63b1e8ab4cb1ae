package rag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ziadkadry99/biblioteca/internal/llm"
)

// Recommendation is one suggested action for the next sessions.
type Recommendation struct {
	Accion     string `json:"accion"`
	Fundamento string `json:"fundamento"`
}

// AnalysisReport is the structured answer of analysis mode.
type AnalysisReport struct {
	Resumen         string           `json:"resumen"`
	Fortalezas      []string         `json:"fortalezas"`
	Dificultades    []string         `json:"dificultades"`
	Recomendaciones []Recommendation `json:"recomendaciones"`
	FuentesCitadas  []string         `json:"fuentes_citadas"`
}

// ParseAnalysisReport decodes a model response into an AnalysisReport. Every
// key must be present, resumen must be non-empty and there must be at least
// one recommendation with an action.
func ParseAnalysisReport(raw string) (*AnalysisReport, error) {
	obj, err := llm.ExtractJSONObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnswerParse, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnswerParse, err)
	}
	for _, key := range []string{"resumen", "fortalezas", "dificultades", "recomendaciones", "fuentes_citadas"} {
		v, ok := fields[key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, fmt.Errorf("%w: missing %q", ErrAnswerParse, key)
		}
	}

	var report AnalysisReport
	if err := json.Unmarshal([]byte(obj), &report); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnswerParse, err)
	}

	report.Resumen = strings.TrimSpace(report.Resumen)
	if report.Resumen == "" {
		return nil, fmt.Errorf("%w: empty resumen", ErrAnswerParse)
	}
	if len(report.Recomendaciones) == 0 {
		return nil, fmt.Errorf("%w: no recomendaciones", ErrAnswerParse)
	}
	for i, rec := range report.Recomendaciones {
		if strings.TrimSpace(rec.Accion) == "" {
			return nil, fmt.Errorf("%w: recomendación %d without accion", ErrAnswerParse, i+1)
		}
	}
	return &report, nil
}

// Markdown renders the report for clients that only show text.
func (r *AnalysisReport) Markdown() string {
	var sb strings.Builder
	sb.WriteString("## Resumen\n\n")
	sb.WriteString(r.Resumen)
	sb.WriteString("\n")

	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&sb, "\n## %s\n\n", title)
		for _, it := range items {
			fmt.Fprintf(&sb, "- %s\n", it)
		}
	}
	writeList("Fortalezas", r.Fortalezas)
	writeList("Dificultades", r.Dificultades)

	sb.WriteString("\n## Recomendaciones\n\n")
	for i, rec := range r.Recomendaciones {
		fmt.Fprintf(&sb, "%d. %s", i+1, rec.Accion)
		if rec.Fundamento != "" {
			fmt.Fprintf(&sb, " (%s)", rec.Fundamento)
		}
		sb.WriteString("\n")
	}

	writeList("Fuentes citadas", r.FuentesCitadas)
	return sb.String()
}
