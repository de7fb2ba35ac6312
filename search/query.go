package search

import (
	"strconv"
	"strings"
)

const DefaultLimit = 20

// Query is a parsed search request.
type Query struct {
	Terms  string
	PeerID string
	Limit  int
}

// ParseQuery reads a command-line style search input.
// Example: /find invoice --with 5f0c... --limit 5
// Flags without a value and unknown flags are ignored.
func ParseQuery(input string) Query {
	query := Query{Limit: DefaultLimit}

	parts := strings.Fields(input)
	var textTerms []string

	for i := 0; i < len(parts); i++ {
		part := parts[i]

		if strings.HasPrefix(part, "--") {
			if i+1 >= len(parts) {
				continue
			}
			value := parts[i+1]
			switch strings.TrimPrefix(part, "--") {
			case "with":
				query.PeerID = value
			case "limit":
				if n, err := strconv.Atoi(value); err == nil && n > 0 {
					query.Limit = n
				}
			}
			i++
			continue
		}

		if !strings.HasPrefix(part, "/") {
			textTerms = append(textTerms, part)
		}
	}

	query.Terms = strings.Join(textTerms, " ")
	return query
}
