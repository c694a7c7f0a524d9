// Package nl2sql turns natural language questions into SQL using the
// indexed schema, the conversation so far and the configured provider.
package nl2sql

import (
	"context"
	"time"

	"github.com/schemaforge/schemaforge/internal/database"
	"github.com/schemaforge/schemaforge/internal/llm"
	"github.com/schemaforge/schemaforge/internal/schema"
)

type Request struct {
	Question     string
	Kind         database.Kind
	Schema       *schema.Model
	Conversation *Conversation
}

type Result struct {
	SQL         string
	Explanation string
	Raw         string
	Provider    llm.ID
	Model       string
	Attempts    int
	Elapsed     time.Duration
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
