package nl2sql

import (
	"fmt"
	"strings"

	"github.com/schemaforge/schemaforge/internal/database"
	"github.com/schemaforge/schemaforge/internal/llm"
)

const systemPromptTemplate = `You are a SQL expert. Convert natural language questions into a single %s query using the provided database schema.

Rules:
1. Return only the SQL query, optionally followed by a one-line explanation.
2. Use table and column names exactly as they appear in the schema.
3. Handle NULL values where columns are nullable.
4. Use explicit JOIN syntax following the listed relationships.
5. Add WHERE clauses that match the question.
6. Format the SQL for readability.`

// BuildPrompt assembles the system rules and a single user message holding
// the schema summary, prior turns and the question.
func BuildPrompt(req Request) llm.Prompt {
	kind := req.Kind
	if kind == "" && req.Schema != nil {
		kind = database.Kind(req.Schema.Kind)
	}

	var user strings.Builder
	user.WriteString("Database Schema:\n")
	if req.Schema != nil {
		user.WriteString(req.Schema.Format())
	}

	if turns := req.Conversation.Turns(); len(turns) > 0 {
		user.WriteString("\nPrevious conversation:\n")
		for _, turn := range turns {
			fmt.Fprintf(&user, "Q: %s\nSQL: %s\n", turn.Question, turn.SQL)
		}
	}

	fmt.Fprintf(&user, "\nQuery: %s", strings.TrimSpace(req.Question))

	return llm.Prompt{
		System:   fmt.Sprintf(systemPromptTemplate, kind.Dialect()),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: user.String()}},
	}
}
