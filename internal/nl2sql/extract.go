package nl2sql

import (
	"regexp"
	"strings"
)

var (
	fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_-]*)[ \t]*\r?\n?(.*?)```")

	// statementShapes holds, per leading keyword, the shape a real statement
	// has. Prose that merely starts with the same word does not match.
	statementShapes = map[string]*regexp.Regexp{
		"SELECT":   shape(`SELECT\s+\S`),
		"WITH":     shape(`WITH\s+(RECURSIVE\s+)?[\w"\x60\[\]]+\s*(\([^)]*\)\s*)?AS\s*((NOT\s+)?MATERIALIZED\s*)?\(`),
		"INSERT":   shape(`INSERT\s+((OR\s+\w+|IGNORE)\s+)?INTO\s`),
		"UPDATE":   shape(`UPDATE\s+[\w."\x60\[\]]+(\s+(AS\s+)?\w+)?\s+SET\s`),
		"DELETE":   shape(`DELETE\s+(TOP\s*\(\d+\)\s+)?FROM\s`),
		"CREATE":   shape(`CREATE\s+(OR\s+REPLACE\s+)?((GLOBAL|LOCAL|TEMP|TEMPORARY|UNIQUE|UNLOGGED|MATERIALIZED|VIRTUAL)\s+)*(TABLE|VIEW|INDEX|SCHEMA|DATABASE|SEQUENCE|FUNCTION|PROCEDURE|TRIGGER|TYPE|EXTENSION)\b`),
		"ALTER":    shape(`ALTER\s+(TABLE|VIEW|INDEX|SCHEMA|DATABASE|SEQUENCE|FUNCTION|PROCEDURE|TYPE|USER|ROLE)\s`),
		"DROP":     shape(`DROP\s+(MATERIALIZED\s+)?(TABLE|VIEW|INDEX|SCHEMA|DATABASE|SEQUENCE|FUNCTION|PROCEDURE|TRIGGER|TYPE|EXTENSION)\s`),
		"TRUNCATE": shape(`TRUNCATE\s+(TABLE\s+)?(ONLY\s+)?[\w."\x60\[\]]+\s*(,|;|\z|CASCADE|RESTRICT|RESTART|CONTINUE)`),
		"EXPLAIN":  shape(`EXPLAIN\s+((\([^)]*\)|ANALYZE|VERBOSE|QUERY\s+PLAN)\s+)*(SELECT|WITH|INSERT|UPDATE|DELETE)\b`),
		"SHOW":     shape(`SHOW\s+((FULL\s+)?(TABLES|DATABASES|SCHEMAS|COLUMNS|INDEX|INDEXES|KEYS|CREATE|GRANTS|VARIABLES|STATUS|PROCESSLIST|ALL)\b|\w+\s*(;|\z))`),
		"PRAGMA":   shape(`PRAGMA\s+[\w.]+\s*(\(|=|;|\z)`),
		"DESCRIBE": shape(`DESCRIBE\s+[\w."\x60\[\]]+\s*(;|\z)`),
		"REPLACE":  shape(`REPLACE\s+INTO\s`),
		"MERGE":    shape(`MERGE\s+INTO\s`),
	}
)

func shape(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)\A` + pattern)
}

// Extract finds the SQL statement in a provider response. It prefers a
// ```sql fence, then any fence holding a statement, then the first run of
// lines that reads as a statement. The remaining text is returned as the
// explanation.
func Extract(raw string) (sql, explanation string, err error) {
	fences := fencePattern.FindAllStringSubmatchIndex(raw, -1)
	for _, match := range fences {
		if strings.EqualFold(raw[match[2]:match[3]], "sql") {
			if body := strings.TrimSpace(raw[match[4]:match[5]]); body != "" {
				return body, remainder(raw, match[0], match[1]), nil
			}
		}
	}
	for _, match := range fences {
		body := strings.TrimSpace(raw[match[4]:match[5]])
		if looksLikeStatement(body) {
			return body, remainder(raw, match[0], match[1]), nil
		}
	}

	lines := strings.SplitAfter(raw, "\n")
	offset := 0
	for i, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" && !sentenceCase(leadingWord(trimmed)) {
			start, end := statementBounds(lines[i:], offset+len(line)-len(strings.TrimLeft(line, " \t")), offset)
			if candidate := strings.TrimSpace(raw[start:end]); looksLikeStatement(candidate) {
				return candidate, remainder(raw, start, end), nil
			}
		}
		offset += len(line)
	}
	return "", "", &NoSQLExtractedError{Raw: raw}
}

// statementBounds returns the byte range of a statement starting at start.
// It ends after the first semicolon or before the first blank line.
func statementBounds(lines []string, start, offset int) (int, int) {
	end := offset
	for _, next := range lines {
		if strings.TrimSpace(next) == "" {
			break
		}
		if idx := strings.Index(next, ";"); idx >= 0 {
			return start, end + idx + 1
		}
		end += len(next)
	}
	return start, end
}

func looksLikeStatement(text string) bool {
	if text == "" {
		return false
	}
	pattern, ok := statementShapes[strings.ToUpper(leadingWord(text))]
	if !ok || !pattern.MatchString(text) {
		return false
	}
	lines := strings.Split(text, "\n")
	if first := strings.TrimSpace(lines[0]); strings.ContainsAny(first[len(first)-1:], ".?!") {
		return false
	}
	for _, line := range lines {
		if strings.HasSuffix(strings.TrimSpace(line), ":") {
			return false
		}
	}
	return true
}

// sentenceCase reports words like "Select" or "With" that open a sentence
// rather than a statement.
func sentenceCase(word string) bool {
	return len(word) > 1 && word[0] >= 'A' && word[0] <= 'Z' && strings.ToLower(word[1:]) == word[1:]
}

func leadingWord(text string) string {
	end := strings.IndexFunc(text, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z')
	})
	if end < 0 {
		return text
	}
	return text[:end]
}

func remainder(raw string, start, end int) string {
	return strings.TrimSpace(strings.TrimSpace(raw[:start]) + "\n" + strings.TrimSpace(raw[end:]))
}
