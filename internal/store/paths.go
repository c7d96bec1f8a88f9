package store

import (
	"strings"
)

// Paths alternate collection and document segments:
// "users" is a collection, "users/u1" a document,
// "users/u1/transactions" a collection again.

func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func segments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil
		}
	}
	return parts
}

func IsCollection(path string) bool {
	n := len(segments(path))
	return n > 0 && n%2 == 1
}

func IsDocument(path string) bool {
	n := len(segments(path))
	return n > 0 && n%2 == 0
}

// Split separates a document path into its collection path and ID.
func Split(docPath string) (collection, id string, err error) {
	parts := segments(docPath)
	if len(parts) == 0 || len(parts)%2 != 0 {
		return "", "", ErrInvalidPath
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
}

// Clean strips surrounding slashes and validates the path shape.
func Clean(path string) (string, error) {
	parts := segments(path)
	if len(parts) == 0 {
		return "", ErrInvalidPath
	}
	return strings.Join(parts, "/"), nil
}

// ValidSegment reports whether s can be used as a single path segment.
func ValidSegment(s string) bool {
	return strings.TrimSpace(s) != "" && !strings.Contains(s, "/")
}

// Per-account layout.

func TransactionsPath(account string) string {
	return Join("users", account, "transactions")
}

func RecurringPath(account string) string {
	return Join("users", account, "recurring")
}

func CategoriesPath(account string) string {
	return Join("users", account, "settings", "categories")
}

func BudgetPath(account string) string {
	return Join("users", account, "settings", "budget")
}
