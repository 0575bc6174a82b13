package domain

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// ModeratedMarker reemplaza el contenido de una respuesta moderada en el historial.
const ModeratedMarker = "[moderated]"

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText elimina cualquier markup y espacios sobrantes de un texto libre.
func SanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// CleanText sanea s y valida su longitud en runas.
func CleanText(field, s string, maxLen int, required bool) (string, error) {
	clean := SanitizeText(s)
	if required && clean == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidText, field)
	}
	if n := utf8.RuneCountInString(clean); maxLen > 0 && n > maxLen {
		return "", fmt.Errorf("%w: %s has %d characters, max %d", ErrInvalidText, field, n, maxLen)
	}
	return clean, nil
}
