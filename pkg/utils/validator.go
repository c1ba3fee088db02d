package utils

import (
	"regexp"
	"strings"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// ValidateSymbol проверяет формат торгового символа (например BTCUSDT).
// Символы нормализуются к верхнему регистру на входе в систему.
func ValidateSymbol(symbol string) bool {
	return symbolPattern.MatchString(symbol)
}

// NormalizeSymbol приводит символ к каноническому виду
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
