package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString trims input, drops control characters and cuts it to at
// most maxLen runes so accented payer names are never split mid-character.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	if maxLen <= 0 || utf8.RuneCountInString(cleaned) <= maxLen {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:maxLen]))
}

// SanitizeMetadata cleans keys and values, dropping blank keys.
func SanitizeMetadata(input map[string]string, maxLen int) map[string]string {
	out := make(map[string]string, len(input))
	for k, v := range input {
		key := SanitizeString(k, maxLen)
		if key == "" {
			continue
		}
		out[key] = SanitizeString(v, maxLen)
	}
	return out
}

// DigitsOnly strips everything but ASCII digits, as used for CPF/CNPJ input.
func DigitsOnly(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
