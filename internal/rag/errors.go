package rag

import (
	"context"
	"errors"
	"net/http"

	"github.com/ziadkadry99/biblioteca/internal/embeddings"
	"github.com/ziadkadry99/biblioteca/internal/llm"
	"github.com/ziadkadry99/biblioteca/internal/records"
)

var (
	// ErrAnswerParse is returned when an analysis response breaks the report schema.
	ErrAnswerParse = errors.New("model response does not match the analysis schema")
	// ErrEntityRequired is returned for analysis requests without an entity.
	ErrEntityRequired = errors.New("analysis mode requires an entity id")
	// ErrInvalidMode is returned for an unknown mode.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrEmptyQuestion is returned for library requests without a question.
	ErrEmptyQuestion = errors.New("question is required")
	// ErrForbidden is returned when the caller's role may not use analysis mode.
	ErrForbidden = errors.New("analysis mode requires an authorised role")
)

// GenerationError marks a failed language model call.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return "generating answer: " + e.Err.Error() }

func (e *GenerationError) Unwrap() error { return e.Err }

const (
	msgOverloaded    = "El servicio de IA está saturado en este momento. Intenta de nuevo en unos minutos."
	msgQuota         = "Se alcanzó el límite de uso del servicio de IA. Intenta de nuevo más tarde."
	msgMisconfigured = "El servicio de IA no está configurado correctamente. Contacta a la coordinación."
	msgEmbeddings    = "El servicio de búsqueda semántica no está disponible. Intenta de nuevo en unos minutos."
	msgTimeout       = "La respuesta tardó demasiado. Intenta con una pregunta más concreta."
	msgAnswerParse   = "La respuesta del modelo no tuvo el formato esperado. Intenta de nuevo."
)

// HTTPError maps an Answer error to a status code and a user-facing message.
// Language model failures of known categories get normalised messages; other
// failures pass through verbatim.
func HTTPError(err error) (int, string) {
	var genErr *GenerationError
	switch {
	case errors.Is(err, ErrEntityRequired), errors.Is(err, ErrInvalidMode), errors.Is(err, ErrEmptyQuestion):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, embeddings.ErrUnavailable):
		return http.StatusBadGateway, msgEmbeddings
	case errors.Is(err, ErrAnswerParse):
		return http.StatusBadGateway, msgAnswerParse
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, msgTimeout
	case errors.As(err, &genErr):
		switch llm.Classify(genErr.Err) {
		case llm.CategoryOverloaded:
			return http.StatusServiceUnavailable, msgOverloaded
		case llm.CategoryQuota:
			return http.StatusTooManyRequests, msgQuota
		case llm.CategoryMisconfigured:
			return http.StatusInternalServerError, msgMisconfigured
		}
		return http.StatusInternalServerError, genErr.Err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}
