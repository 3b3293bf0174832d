package tokens

import (
	"fmt"
	"strings"
)

// Suggestion is one "did you mean" candidate.
type Suggestion struct {
	Symbol  string
	Address string
}

// NotFoundError is returned when a reference resolves to nothing. It carries
// up to 5 similarity-ranked suggestions for the caller's prompt.
type NotFoundError struct {
	Reference   string
	Suggestions []Suggestion
}

func (e *NotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("token %q not found", e.Reference)
	}
	symbols := make([]string, len(e.Suggestions))
	for i, s := range e.Suggestions {
		symbols[i] = s.Symbol
	}
	return fmt.Sprintf("token %q not found, did you mean %s?", e.Reference, strings.Join(symbols, ", "))
}
