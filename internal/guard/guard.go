// Package guard decides whether a generated or typed statement may run.
// It never rewrites SQL.
package guard

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/schemaforge/schemaforge/internal/observability"
)

var ErrRejected = errors.New("guard: statement rejected")

var DefaultDestructiveVerbs = []string{"DROP", "TRUNCATE", "DELETE", "UPDATE", "ALTER"}

type RejectedError struct {
	SQL    string
	Reason string
	Verbs  []string
}

func (e *RejectedError) Error() string {
	return "statement rejected: " + e.Reason
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

type Decision struct {
	SQL      string
	Accepted bool
	Reason   string
	// Verbs lists the destructive verbs found, in order of first appearance.
	Verbs []string
}

func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return &RejectedError{SQL: d.SQL, Reason: d.Reason, Verbs: d.Verbs}
}

type Policy struct {
	DestructiveVerbs []string
}

func DefaultPolicy() Policy {
	return NewPolicy(DefaultDestructiveVerbs)
}

func NewPolicy(verbs []string) Policy {
	normalized := make([]string, 0, len(verbs))
	for _, verb := range verbs {
		if verb = strings.ToUpper(strings.TrimSpace(verb)); verb != "" {
			normalized = append(normalized, verb)
		}
	}
	return Policy{DestructiveVerbs: normalized}
}

// Validate accepts a statement unless it is empty, or contains a destructive
// verb and was not confirmed.
func (p Policy) Validate(sqlText string, confirmed bool) Decision {
	words := words(stripCommentsAndLiterals(sqlText))
	if len(words) == 0 {
		return reject(Decision{SQL: sqlText, Reason: "empty statement"})
	}

	destructive := make(map[string]struct{}, len(p.DestructiveVerbs))
	for _, verb := range p.DestructiveVerbs {
		destructive[strings.ToUpper(verb)] = struct{}{}
	}
	var found []string
	seen := map[string]struct{}{}
	for _, word := range words {
		upper := strings.ToUpper(word)
		if _, ok := destructive[upper]; !ok {
			continue
		}
		if _, dup := seen[upper]; dup {
			continue
		}
		seen[upper] = struct{}{}
		found = append(found, upper)
	}

	if len(found) > 0 && !confirmed {
		return reject(Decision{
			SQL:    sqlText,
			Reason: fmt.Sprintf("destructive verb %s requires confirmation", strings.Join(found, ", ")),
			Verbs:  found,
		})
	}
	return Decision{SQL: sqlText, Accepted: true, Verbs: found}
}

func reject(d Decision) Decision {
	observability.IncrementGuardRejection()
	return d
}

// stripCommentsAndLiterals blanks out -- and /* */ comments, quoted strings
// and quoted identifiers so their contents are never read as keywords.
func stripCommentsAndLiterals(sqlText string) string {
	var b strings.Builder
	b.Grow(len(sqlText))
	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			b.WriteRune('\n')
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				i++
			}
			i++
			b.WriteRune(' ')
		case r == '\'' || r == '"' || r == '`':
			quote := r
			i++
			for i < len(runes) {
				if runes[i] == quote {
					if i+1 < len(runes) && runes[i+1] == quote {
						i += 2
						continue
					}
					break
				}
				i++
			}
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$')
	})
}
