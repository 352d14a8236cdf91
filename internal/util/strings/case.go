package strings

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts CamelCase to snake_case
// Handles acronyms properly (HTTPRequest -> http_request)
func ToSnakeCase(s string) string {
	return joinWords(s, '_')
}

// ToKebabCase converts CamelCase to kebab-case (ProductName -> product-name)
func ToKebabCase(s string) string {
	return joinWords(s, '-')
}

func joinWords(s string, sep rune) string {
	var result strings.Builder
	runes := []rune(s)

	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ':
			if result.Len() > 0 {
				result.WriteRune(sep)
			}
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				// Break before an uppercase rune after a lowercase/digit one, or at
				// the last capital of an acronym (HTTPRequest -> http_request)
				if unicode.IsLower(prev) || unicode.IsDigit(prev) {
					result.WriteRune(sep)
				} else if unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
					result.WriteRune(sep)
				}
			}
			result.WriteRune(unicode.ToLower(r))
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ToPascalCase converts snake_case, kebab-case or camelCase to PascalCase
func ToPascalCase(s string) string {
	var result strings.Builder
	upperNext := true
	for _, r := range s {
		if r == '_' || r == '-' || r == ' ' {
			upperNext = true
			continue
		}
		if upperNext {
			result.WriteRune(unicode.ToUpper(r))
			upperNext = false
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ToCamelCase converts a name to camelCase (Inventory -> inventory, product_name -> productName)
func ToCamelCase(s string) string {
	p := ToPascalCase(s)
	if p == "" {
		return p
	}
	runes := []rune(p)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

// Pluralize returns a naive English plural used for REST collection paths
func Pluralize(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return s + "es"
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !strings.ContainsRune("aeiou", rune(lower[len(lower)-2])):
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}
