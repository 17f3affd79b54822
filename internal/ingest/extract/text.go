package extract

import "unicode/utf8"

func extractText(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", ErrNotText
	}
	return string(content), nil
}
