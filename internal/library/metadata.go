package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ziadkadry99/biblioteca/internal/llm"
	"github.com/ziadkadry99/biblioteca/internal/logging"
	"github.com/ziadkadry99/biblioteca/internal/vectordb"
)

const (
	// inferencePrefixRunes bounds how much of a document is sent to the model.
	inferencePrefixRunes = 3000
	// minInferenceRunes is the shortest text worth a model call.
	minInferenceRunes = 50
	maxSuggestedTags  = 5
)

var (
	// ErrInferenceDeclined means the text was too short to attempt inference.
	ErrInferenceDeclined = errors.New("metadata inference declined")
	// ErrInferenceFailed means the model call or its response was unusable.
	ErrInferenceFailed = errors.New("metadata inference failed")
)

// Inferred holds model-guessed metadata. Empty fields are unknown.
type Inferred struct {
	Title  string
	Author string
}

// Inferencer guesses document metadata from its opening text.
type Inferencer struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewInferencer creates an inferencer over provider.
func NewInferencer(provider llm.Provider, logger *zap.Logger) *Inferencer {
	return &Inferencer{provider: provider, logger: logging.OrNop(logger)}
}

const metadataPrompt = `Analiza el comienzo de un documento de referencia y deduce su título y su autor.
Responde ÚNICAMENTE con un objeto JSON con esta forma exacta:
{"titulo": "...", "autor": "..."}
Usa null en cualquier campo que no puedas determinar con confianza. No agregues texto fuera del JSON.

Texto del documento:
%s`

// Infer asks the model for the title and author of text.
func (i *Inferencer) Infer(ctx context.Context, text string) (Inferred, error) {
	prefix, ok := inferencePrefix(text)
	if !ok {
		return Inferred{}, ErrInferenceDeclined
	}

	raw, err := i.complete(ctx, fmt.Sprintf(metadataPrompt, prefix), 300)
	if err != nil {
		return Inferred{}, err
	}

	var parsed struct {
		Titulo *string `json:"titulo"`
		Autor  *string `json:"autor"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Inferred{}, fmt.Errorf("%w: decoding response: %w", ErrInferenceFailed, err)
	}

	var out Inferred
	if parsed.Titulo != nil {
		out.Title = strings.TrimSpace(*parsed.Titulo)
	}
	if parsed.Autor != nil {
		out.Author = strings.TrimSpace(*parsed.Autor)
	}
	return out, nil
}

// InferOrNull never fails: any error becomes an empty result and is logged.
// Declined calls log at debug level and failures at warn level.
func (i *Inferencer) InferOrNull(ctx context.Context, text string) Inferred {
	out, err := i.Infer(ctx, text)
	if err != nil {
		i.logSoftFailure("metadata", err)
		return Inferred{}
	}
	return out
}

const tagsPrompt = `Sugiere hasta %d etiquetas temáticas para clasificar este documento en una biblioteca
de alfabetización infantil (por ejemplo: lectura, escritura, evaluación, fonología, motivación).
Responde ÚNICAMENTE con un objeto JSON: {"etiquetas": ["...", "..."]}
Cada etiqueta debe ser una o dos palabras en minúsculas.

Texto del documento:
%s`

// SuggestTags asks the model for up to five lowercase topic tags.
func (i *Inferencer) SuggestTags(ctx context.Context, text string) ([]string, error) {
	prefix, ok := inferencePrefix(text)
	if !ok {
		return nil, ErrInferenceDeclined
	}

	raw, err := i.complete(ctx, fmt.Sprintf(tagsPrompt, maxSuggestedTags, prefix), 200)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Etiquetas []string `json:"etiquetas"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding tags: %w", ErrInferenceFailed, err)
	}

	tags := vectordb.NormalizeTags(parsed.Etiquetas)
	if len(tags) > maxSuggestedTags {
		tags = tags[:maxSuggestedTags]
	}
	return tags, nil
}

// SuggestTagsOrNil applies the InferOrNull policy to SuggestTags.
func (i *Inferencer) SuggestTagsOrNil(ctx context.Context, text string) []string {
	tags, err := i.SuggestTags(ctx, text)
	if err != nil {
		i.logSoftFailure("tags", err)
		return nil
	}
	return tags
}

func (i *Inferencer) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := i.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    llm.Conversation("", prompt),
		MaxTokens:   maxTokens,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInferenceFailed, err)
	}
	if resp.Truncated() {
		return "", fmt.Errorf("%w: reply cut off at %d tokens", ErrInferenceFailed, maxTokens)
	}

	obj, err := llm.ExtractJSONObject(resp.Content)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInferenceFailed, err)
	}
	return obj, nil
}

func (i *Inferencer) logSoftFailure(what string, err error) {
	if errors.Is(err, ErrInferenceDeclined) {
		i.logger.Debug("inference declined", zap.String("what", what), zap.Error(err))
		return
	}
	i.logger.Warn("inference failed", zap.String("what", what), zap.Error(err))
}

// inferencePrefix returns the first inferencePrefixRunes runes of text, or
// false when text is too short to infer anything from.
func inferencePrefix(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minInferenceRunes {
		return "", false
	}
	return truncateRunes(text, inferencePrefixRunes), true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
