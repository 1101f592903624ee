package models

import "strings"

// NormalizeCode приводит реферальный код или промокод к каноническому виду
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
