package session

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/schemaforge/schemaforge/internal/database"
	"github.com/schemaforge/schemaforge/internal/export"
	"github.com/schemaforge/schemaforge/internal/guard"
	"github.com/schemaforge/schemaforge/internal/llm"
	"github.com/schemaforge/schemaforge/internal/nl2sql"
	"github.com/schemaforge/schemaforge/internal/retry"
	"github.com/schemaforge/schemaforge/internal/schema"
	"github.com/schemaforge/schemaforge/internal/schema/cache"
	"github.com/schemaforge/schemaforge/internal/schema/introspect"
	"github.com/schemaforge/schemaforge/internal/settings"
	"github.com/schemaforge/schemaforge/internal/storage/local"
)

func createShopDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL REFERENCES users(id), total REAL)`,
		`INSERT INTO users (name) VALUES ('alice'), ('bob'), ('carol')`,
		`INSERT INTO orders (user_id, total) VALUES (1, 9.5), (2, 20)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

func openAIServer(t *testing.T, reply string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o","choices":[{"message":{"content":` + reply + `}}]}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func translatorFor(baseURL string, store *settings.Store) *nl2sql.Service {
	return &nl2sql.Service{
		Providers: llm.NewRegistry(llm.Options{BaseURL: baseURL, Temperature: 0.3, MaxTokens: 4096}).Provider,
		Settings:  store,
		Retry: retry.Executor{
			Policy: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
			Sleep:  func(context.Context, time.Duration) error { return nil },
		},
	}
}

func configuredSettings() *settings.Store {
	return settings.NewMemoryStore(&settings.Snapshot{
		Current:   llm.OpenAI,
		Providers: map[llm.ID]settings.ProviderConfig{llm.OpenAI: {Provider: llm.OpenAI, APIKey: "sk-test-123456789"}},
	})
}

func TestEndToEndSQLiteCountUsers(t *testing.T) {
	path := createShopDB(t)
	var hits atomic.Int32
	server := openAIServer(t, `"SELECT COUNT(*) FROM users;"`, &hits)

	sess := New(Options{Translator: translatorFor(server.URL, configuredSettings()), MaxTurns: nl2sql.DefaultMaxTurns})
	defer func() { _ = sess.Close() }()
	ctx := context.Background()

	desc, err := sess.Connect(ctx, "sqlite://"+path)
	require.NoError(t, err)
	assert.Equal(t, database.KindSQLite, desc.Kind)
	assert.Equal(t, StateConnected, sess.State())

	indexed, err := sess.Index(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, indexed.Model.TableNames())
	assert.Equal(t, StateIndexed, sess.State())

	answer, err := sess.Ask(ctx, "how many users?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM users;", answer.Translation.SQL)
	assert.True(t, answer.Decision.Accepted)
	require.NotNil(t, answer.Rows)
	require.Len(t, answer.Rows.Rows, 1)
	assert.EqualValues(t, 3, answer.Rows.Rows[0][0])
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, StateIndexed, sess.State())

	status := sess.Status()
	assert.Equal(t, 1, status.Turns)
	assert.Equal(t, 2, status.Tables)
	assert.True(t, status.HasResult)
}

func TestAskCancelledDuringBackoffReturnsToIndexed(t *testing.T) {
	path := createShopDB(t)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"SELECT COUNT(*) FROM users;"}}]}`))
	}))
	t.Cleanup(server.Close)

	askCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	translator := translatorFor(server.URL, configuredSettings())
	translator.Retry.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	sess := New(Options{Translator: translator, MaxTurns: nl2sql.DefaultMaxTurns})
	defer func() { _ = sess.Close() }()
	ctx := context.Background()

	_, err := sess.Connect(ctx, path)
	require.NoError(t, err)
	_, err = sess.Index(ctx, IndexOptions{})
	require.NoError(t, err)

	_, err = sess.Ask(ctx, "how many users?")
	require.NoError(t, err)
	require.Equal(t, 1, sess.Status().Turns)

	_, err = sess.Ask(askCtx, "and how many orders?")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIndexed, sess.State())
	assert.Equal(t, 1, sess.Status().Turns)
	assert.Equal(t, int32(2), hits.Load())

	answer, err := sess.Ask(ctx, "how many users?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM users;", answer.Translation.SQL)
	assert.Equal(t, 2, sess.Status().Turns)
}

func TestAskWithoutProviderMakesNoHTTPCall(t *testing.T) {
	path := createShopDB(t)
	var hits atomic.Int32
	server := openAIServer(t, `"SELECT 1;"`, &hits)

	sess := New(Options{Translator: translatorFor(server.URL, settings.NewMemoryStore(nil))})
	defer func() { _ = sess.Close() }()
	ctx := context.Background()

	_, err := sess.Connect(ctx, path)
	require.NoError(t, err)
	_, err = sess.Index(ctx, IndexOptions{})
	require.NoError(t, err)

	_, err = sess.Ask(ctx, "how many users?")
	require.ErrorIs(t, err, llm.ErrProviderNotConfigured)
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, StateIndexed, sess.State())
}

func TestAskBeforeIndex(t *testing.T) {
	path := createShopDB(t)
	translator := &countingTranslator{}
	sess := New(Options{Translator: translator})
	defer func() { _ = sess.Close() }()

	_, err := sess.Ask(context.Background(), "anything")
	require.ErrorIs(t, err, cache.ErrNoSchemaIndexed)

	_, err = sess.Connect(context.Background(), path)
	require.NoError(t, err)
	_, err = sess.Ask(context.Background(), "anything")
	require.ErrorIs(t, err, cache.ErrNoSchemaIndexed)
	assert.Zero(t, translator.calls)
}

func TestAskRejectsDestructiveTranslation(t *testing.T) {
	path := createShopDB(t)
	translator := &countingTranslator{result: nl2sql.Result{SQL: "DELETE FROM users;"}}
	sess := New(Options{Translator: translator})
	defer func() { _ = sess.Close() }()
	ctx := context.Background()

	_, err := sess.Connect(ctx, path)
	require.NoError(t, err)
	_, err = sess.Index(ctx, IndexOptions{})
	require.NoError(t, err)

	answer, err := sess.Ask(ctx, "remove everyone")
	require.ErrorIs(t, err, guard.ErrRejected)
	var rejected *guard.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "DELETE FROM users;", rejected.SQL)
	assert.Equal(t, []string{"DELETE"}, rejected.Verbs)
	assert.False(t, answer.Decision.Accepted)
	assert.Nil(t, answer.Rows)

	result, _, err := sess.ExecuteSQL(ctx, "SELECT COUNT(*) FROM users", false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.Rows[0][0])
}

func TestExecuteSQLRequiresConfirmationForDestructive(t *testing.T) {
	path := createShopDB(t)
	sess := New(Options{})
	defer func() { _ = sess.Close() }()
	ctx := context.Background()

	_, _, err := sess.ExecuteSQL(ctx, "SELECT 1", false)
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = sess.Connect(ctx, path)
	require.NoError(t, err)

	_, decision, err := sess.ExecuteSQL(ctx, "DELETE FROM orders WHERE total < 10", false)
	require.ErrorIs(t, err, guard.ErrRejected)
	assert.False(t, decision.Accepted)

	result, decision, err := sess.ExecuteSQL(ctx, "DELETE FROM orders WHERE total < 10", true)
	require.NoError(t, err)
	assert.True(t, decision.Accepted)
	assert.EqualValues(t, 1, result.RowsAffected)
}

func TestConnectFailureKeepsPreviousState(t *testing.T) {
	path := createShopDB(t)
	sess := New(Options{Translator: &countingTranslator{}})
	defer func() { _ = sess.Close() }()
	ctx := context.Background()

	_, err := sess.Connect(ctx, "oracle://nope")
	var connErr *database.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, StateDisconnected, sess.State())

	_, err = sess.Connect(ctx, path)
	require.NoError(t, err)
	_, err = sess.Index(ctx, IndexOptions{})
	require.NoError(t, err)

	_, err = sess.Connect(ctx, filepath.Join(t.TempDir(), "missing.db"))
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, StateIndexed, sess.State())
	model, err := sess.Model()
	require.NoError(t, err)
	assert.Len(t, model.Tables, 2)
}

func TestReconnectClearsSchemaAndConversation(t *testing.T) {
	first := createShopDB(t)
	second := createShopDB(t)
	translator := &countingTranslator{result: nl2sql.Result{SQL: "SELECT name FROM users"}}
	sess := New(Options{Translator: translator})
	defer func() { _ = sess.Close() }()
	ctx := context.Background()

	_, err := sess.Connect(ctx, first)
	require.NoError(t, err)
	_, err = sess.Index(ctx, IndexOptions{})
	require.NoError(t, err)
	_, err = sess.Ask(ctx, "names")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Status().Turns)

	_, err = sess.Connect(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, sess.State())
	assert.Equal(t, 0, sess.Status().Turns)
	_, err = sess.Model()
	require.ErrorIs(t, err, cache.ErrNoSchemaIndexed)
}

func TestIndexFailureKeepsPreviousModel(t *testing.T) {
	path := createShopDB(t)
	boom := &schema.IntrospectionError{Kind: "sqlite", Op: "list tables", Err: errors.New("disk I/O error")}
	calls := 0
	sess := New(Options{
		Introspect: func(ctx context.Context, db *sql.DB, desc database.Descriptor, logger *slog.Logger) (*schema.Model, error) {
			calls++
			if calls > 1 {
				return nil, boom
			}
			return introspect.Run(ctx, db, desc, logger)
		},
	})
	defer func() { _ = sess.Close() }()
	ctx := context.Background()

	_, err := sess.Index(ctx, IndexOptions{})
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = sess.Connect(ctx, path)
	require.NoError(t, err)
	_, err = sess.Index(ctx, IndexOptions{})
	require.NoError(t, err)

	_, err = sess.Index(ctx, IndexOptions{})
	var introspectionErr *schema.IntrospectionError
	require.ErrorAs(t, err, &introspectionErr)
	assert.Equal(t, StateIndexed, sess.State())
	model, err := sess.Model()
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, model.TableNames())
}

func TestIndexUsesPersistentStore(t *testing.T) {
	path := createShopDB(t)
	store, err := cache.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	sess := New(Options{Store: store})
	defer func() { _ = sess.Close() }()
	_, err = sess.Connect(ctx, path)
	require.NoError(t, err)

	first, err := sess.Index(ctx, IndexOptions{Cached: true})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := sess.Index(ctx, IndexOptions{Cached: true})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Model.TableNames(), second.Model.TableNames())
}

func TestExportLastResult(t *testing.T) {
	path := createShopDB(t)
	store, err := local.New(t.TempDir())
	require.NoError(t, err)
	exporter := export.New(store, nil)
	exporter.Now = func() time.Time { return time.Date(2026, time.February, 19, 9, 5, 6, 0, time.UTC) }

	sess := New(Options{Exporter: exporter})
	defer func() { _ = sess.Close() }()
	ctx := context.Background()

	_, err = sess.Connect(ctx, path)
	require.NoError(t, err)
	_, err = sess.Export(ctx, "users")
	require.ErrorIs(t, err, ErrNoResult)

	_, _, err = sess.ExecuteSQL(ctx, "SELECT id, name FROM users ORDER BY id", false)
	require.NoError(t, err)
	receipt, err := sess.Export(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "shop/date=2026-02-19/users-090506.parquet", receipt.Key)
	assert.EqualValues(t, 3, receipt.Rows)
	assert.FileExists(t, receipt.Location)
}

func TestClearKeepsConnection(t *testing.T) {
	path := createShopDB(t)
	sess := New(Options{Translator: &countingTranslator{result: nl2sql.Result{SQL: "SELECT 1"}}})
	defer func() { _ = sess.Close() }()
	ctx := context.Background()

	_, err := sess.Connect(ctx, path)
	require.NoError(t, err)
	_, err = sess.Index(ctx, IndexOptions{})
	require.NoError(t, err)
	_, err = sess.Ask(ctx, "one")
	require.NoError(t, err)

	sess.Clear()
	assert.Empty(t, sess.Conversation())
	assert.Equal(t, StateIndexed, sess.State())

	require.NoError(t, sess.Disconnect())
	assert.Equal(t, StateDisconnected, sess.State())
}

// countingTranslator records calls and appends a turn the way the real
// translator does after a successful extraction.
type countingTranslator struct {
	calls  int
	result nl2sql.Result
	err    error
}

func (c *countingTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	c.calls++
	if c.err != nil {
		return nl2sql.Result{}, c.err
	}
	if req.Conversation != nil && c.result.SQL != "" {
		req.Conversation.Append(nl2sql.Turn{Question: req.Question, SQL: c.result.SQL})
	}
	return c.result, nil
}
