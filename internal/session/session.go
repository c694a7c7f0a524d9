// Package session owns one user's connection, indexed schema and
// conversation, and moves them through the Disconnected, Connected,
// Indexed and Translating states.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schemaforge/schemaforge/internal/database"
	"github.com/schemaforge/schemaforge/internal/export"
	"github.com/schemaforge/schemaforge/internal/guard"
	"github.com/schemaforge/schemaforge/internal/nl2sql"
	"github.com/schemaforge/schemaforge/internal/query"
	"github.com/schemaforge/schemaforge/internal/query/sqldb"
	"github.com/schemaforge/schemaforge/internal/schema"
	"github.com/schemaforge/schemaforge/internal/schema/cache"
	"github.com/schemaforge/schemaforge/internal/schema/introspect"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateIndexed      State = "indexed"
	StateTranslating  State = "translating"
)

const DefaultQueryTimeout = 60 * time.Second

var (
	ErrNotConnected   = errors.New("session: not connected to a database")
	ErrBusy           = errors.New("session: another command is in progress")
	ErrNoResult       = errors.New("session: no query result to export")
	ErrExportDisabled = errors.New("session: export is not configured")
)

type OpenFunc func(ctx context.Context, desc database.Descriptor, cfg database.PoolConfig) (*sql.DB, error)

type IntrospectFunc func(ctx context.Context, db *sql.DB, desc database.Descriptor, logger *slog.Logger) (*schema.Model, error)

type Options struct {
	Pool         database.PoolConfig
	MaxTurns     int
	RowLimit     int
	QueryTimeout time.Duration
	Guard        guard.Policy
	Translator   nl2sql.Translator
	// Store persists indexed models across processes. Nil disables it.
	Store    *cache.Store
	Exporter *export.Exporter
	Logger   *slog.Logger

	Open       OpenFunc
	Introspect IntrospectFunc
}

type Session struct {
	id         string
	opts       Options
	logger     *slog.Logger
	translator nl2sql.Translator
	open       OpenFunc
	introspect IntrospectFunc

	mu           sync.Mutex
	state        State
	desc         database.Descriptor
	db           *sql.DB
	engine       query.Engine
	schemaCache  *cache.Cache
	conversation *nl2sql.Conversation
	last         *executed
}

type executed struct {
	sql    string
	result query.Result
}

type IndexOptions struct {
	// Cached loads the model from the persistent store when one is saved
	// for this connection.
	Cached bool
}

type IndexResult struct {
	Model     *schema.Model
	FromCache bool
	Elapsed   time.Duration
}

type Answer struct {
	Translation nl2sql.Result
	Decision    guard.Decision
	Rows        *query.Result
}

type Status struct {
	ID        string
	State     State
	URL       string
	Kind      database.Kind
	Database  string
	Schema    string
	Tables    int
	Views     int
	IndexedAt time.Time
	Turns     int
	MaxTurns  int
	HasResult bool
}

func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Open == nil {
		opts.Open = database.Open
	}
	if opts.Introspect == nil {
		opts.Introspect = introspect.Run
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.Guard.DestructiveVerbs == nil {
		opts.Guard = guard.DefaultPolicy()
	}
	id := uuid.NewString()
	return &Session{
		id:           id,
		opts:         opts,
		logger:       logger.With(slog.String("session_id", id)),
		translator:   opts.Translator,
		open:         opts.Open,
		introspect:   opts.Introspect,
		state:        StateDisconnected,
		schemaCache:  cache.New(),
		conversation: nl2sql.NewConversation(opts.MaxTurns),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens url and replaces the current connection. On failure the
// previous connection, schema and conversation are kept.
func (s *Session) Connect(ctx context.Context, url string) (database.Descriptor, error) {
	if err := s.enter(); err != nil {
		return database.Descriptor{}, err
	}
	desc, err := database.Parse(url)
	if err != nil {
		return database.Descriptor{}, err
	}
	db, err := s.open(ctx, desc, s.opts.Pool)
	if err != nil {
		var connErr *database.ConnectionError
		if !errors.As(err, &connErr) {
			err = &database.ConnectionError{Kind: desc.Kind, Op: "open", Err: err}
		}
		s.logger.WarnContext(ctx, "connect failed", slog.String("url", desc.Masked), slog.Any("error", err))
		return database.Descriptor{}, err
	}

	s.mu.Lock()
	previous := s.db
	s.desc = desc
	s.db = db
	s.engine = sqldb.NewEngine(db, s.opts.QueryTimeout)
	s.schemaCache.Clear()
	s.conversation.Clear()
	s.last = nil
	s.state = StateConnected
	s.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			s.logger.WarnContext(ctx, "close previous connection", slog.Any("error", err))
		}
	}
	s.logger.InfoContext(ctx, "connected", slog.String("url", desc.Masked), slog.String("kind", string(desc.Kind)))
	return desc, nil
}

// Index reads the catalog of the connected database. A failed index leaves
// the previously indexed model in place.
func (s *Session) Index(ctx context.Context, opts IndexOptions) (IndexResult, error) {
	s.mu.Lock()
	if s.state == StateTranslating {
		s.mu.Unlock()
		return IndexResult{}, ErrBusy
	}
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return IndexResult{}, ErrNotConnected
	}
	desc := s.desc
	db := s.db
	s.mu.Unlock()

	start := time.Now()
	key := desc.Masked
	if opts.Cached && s.opts.Store != nil {
		model, ok, err := s.opts.Store.Load(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "load cached schema", slog.Any("error", err))
		} else if ok {
			s.adopt(model)
			s.logger.InfoContext(ctx, "schema loaded from cache", slog.Int("tables", len(model.Tables)))
			return IndexResult{Model: model, FromCache: true, Elapsed: time.Since(start)}, nil
		}
	}

	model, err := s.introspect(ctx, db, desc, s.logger)
	if err != nil {
		return IndexResult{}, err
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.Save(ctx, key, model); err != nil {
			s.logger.WarnContext(ctx, "save schema cache", slog.Any("error", err))
		}
	}
	s.adopt(model)
	return IndexResult{Model: model, Elapsed: time.Since(start)}, nil
}

func (s *Session) adopt(model *schema.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemaCache.Set(model)
	if s.state == StateConnected {
		s.state = StateIndexed
	}
}

// Ask translates question, validates the statement and runs it. A rejected
// statement is returned in the Answer together with a *guard.RejectedError
// and is not executed.
func (s *Session) Ask(ctx context.Context, question string) (Answer, error) {
	s.mu.Lock()
	switch s.state {
	case StateTranslating:
		s.mu.Unlock()
		return Answer{}, ErrBusy
	case StateIndexed:
	default:
		s.mu.Unlock()
		return Answer{}, cache.ErrNoSchemaIndexed
	}
	model, err := s.schemaCache.Get()
	if err != nil {
		s.mu.Unlock()
		return Answer{}, err
	}
	if s.translator == nil {
		s.mu.Unlock()
		return Answer{}, fmt.Errorf("translator is required")
	}
	s.state = StateTranslating
	kind := s.desc.Kind
	engine := s.engine
	s.mu.Unlock()
	defer s.leaveTranslating()

	translation, err := s.translator.Translate(ctx, nl2sql.Request{
		Question:     question,
		Kind:         kind,
		Schema:       model,
		Conversation: s.conversation,
	})
	answer := Answer{Translation: translation}
	if err != nil {
		return answer, err
	}

	answer.Decision = s.opts.Guard.Validate(translation.SQL, false)
	if !answer.Decision.Accepted {
		s.logger.InfoContext(ctx, "statement rejected", slog.String("reason", answer.Decision.Reason))
		return answer, answer.Decision.Err()
	}

	result, err := engine.Execute(ctx, query.Request{SQL: translation.SQL, RowLimit: s.opts.RowLimit})
	if err != nil {
		return answer, err
	}
	answer.Rows = &result
	s.remember(translation.SQL, result)
	return answer, nil
}

func (s *Session) leaveTranslating() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTranslating {
		s.state = StateIndexed
	}
}

// ExecuteSQL runs a statement typed by the user. Destructive statements need
// confirmed set.
func (s *Session) ExecuteSQL(ctx context.Context, sqlText string, confirmed bool) (query.Result, guard.Decision, error) {
	s.mu.Lock()
	if s.state == StateTranslating {
		s.mu.Unlock()
		return query.Result{}, guard.Decision{}, ErrBusy
	}
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return query.Result{}, guard.Decision{}, ErrNotConnected
	}
	engine := s.engine
	s.mu.Unlock()

	decision := s.opts.Guard.Validate(sqlText, confirmed)
	if !decision.Accepted {
		return query.Result{}, decision, decision.Err()
	}
	result, err := engine.Execute(ctx, query.Request{SQL: sqlText, RowLimit: s.opts.RowLimit})
	if err != nil {
		return query.Result{}, decision, err
	}
	s.remember(sqlText, result)
	return result, decision, nil
}

func (s *Session) remember(sqlText string, result query.Result) {
	if !result.HasRows() {
		return
	}
	s.mu.Lock()
	s.last = &executed{sql: sqlText, result: result}
	s.mu.Unlock()
}

// Export writes the most recent row-returning result through the exporter.
func (s *Session) Export(ctx context.Context, name string) (export.Receipt, error) {
	if s.opts.Exporter == nil {
		return export.Receipt{}, ErrExportDisabled
	}
	s.mu.Lock()
	last := s.last
	desc := s.desc
	s.mu.Unlock()
	if last == nil {
		return export.Receipt{}, ErrNoResult
	}
	databaseName := desc.Database
	if databaseName == "" {
		databaseName = string(desc.Kind)
	}
	return s.opts.Exporter.Export(ctx, export.Request{
		Database: databaseName,
		Name:     name,
		SQL:      last.sql,
		Result:   last.result,
	})
}

// Model returns the indexed schema.
func (s *Session) Model() (*schema.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemaCache.Get()
}

func (s *Session) Conversation() []nl2sql.Turn {
	return s.conversation.Turns()
}

// Clear forgets the conversation. The connection and schema stay.
func (s *Session) Clear() {
	s.conversation.Clear()
}

func (s *Session) Disconnect() error {
	if err := s.enter(); err != nil {
		return err
	}
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.engine = nil
	s.desc = database.Descriptor{}
	s.schemaCache.Clear()
	s.conversation.Clear()
	s.last = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	return s.Disconnect()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		ID:        s.id,
		State:     s.state,
		URL:       s.desc.Masked,
		Kind:      s.desc.Kind,
		Database:  s.desc.Database,
		Schema:    s.desc.Schema,
		Turns:     s.conversation.Len(),
		MaxTurns:  s.opts.MaxTurns,
		HasResult: s.last != nil,
	}
	if model, err := s.schemaCache.Get(); err == nil {
		status.Tables, status.Views = model.Counts()
		status.IndexedAt = model.IndexedAt
	}
	return status
}

func (s *Session) enter() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTranslating {
		return ErrBusy
	}
	return nil
}
