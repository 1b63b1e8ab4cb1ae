package extract

import (
	"fmt"
	"unicode/utf8"
)

func extractText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrParse)
	}
	return string(data), nil
}
