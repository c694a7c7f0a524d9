package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/schemaforge/schemaforge/internal/query"
	"github.com/schemaforge/schemaforge/internal/storage"
	"github.com/schemaforge/schemaforge/internal/storage/local"
)

func TestEncodeResult(t *testing.T) {
	result := query.Result{
		Columns: []string{"id", "name", "id"},
		Rows: [][]any{
			{int64(1), "alice", int64(10)},
			{int64(2), nil, int64(20)},
		},
	}

	encoded, err := EncodeResult("SELECT u.id, u.name, o.id FROM users u JOIN orders o ON o.user_id = u.id", result)
	if err != nil {
		t.Fatalf("EncodeResult() error = %v", err)
	}
	if encoded.RecordCount != 2 {
		t.Fatalf("RecordCount = %d", encoded.RecordCount)
	}
	if !reflect.DeepEqual(encoded.Columns, []string{"id", "name", "id_2"}) {
		t.Fatalf("Columns = %v", encoded.Columns)
	}

	reader := parquet.NewGenericReader[exportRow](bytes.NewReader(encoded.Data))
	defer func() { _ = reader.Close() }()
	rows := make([]exportRow, 2)
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("read rows = %d", count)
	}
	if rows[0].RowIndex != 0 || rows[1].RowIndex != 1 {
		t.Fatalf("unexpected row indexes: %+v", rows)
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(rows[0].RowJSON), &first); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if first["name"] != "alice" || first["id_2"] != float64(10) {
		t.Fatalf("first row = %v", first)
	}
	var second map[string]any
	if err := json.Unmarshal([]byte(rows[1].RowJSON), &second); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if value, ok := second["name"]; !ok || value != nil {
		t.Fatalf("second row name = %v (present %v)", value, ok)
	}
}

func TestEncodeResultStoresColumnMetadata(t *testing.T) {
	result := query.Result{Columns: []string{"total"}, Rows: [][]any{{int64(3)}}}
	encoded, err := EncodeResult("SELECT COUNT(*) AS total FROM users", result)
	if err != nil {
		t.Fatalf("EncodeResult() error = %v", err)
	}

	file, err := parquet.OpenFile(bytes.NewReader(encoded.Data), int64(len(encoded.Data)))
	if err != nil {
		t.Fatalf("parquet.OpenFile() error = %v", err)
	}
	columns, ok := file.Lookup(metadataColumns)
	if !ok || columns != `["total"]` {
		t.Fatalf("columns metadata = %q (present %v)", columns, ok)
	}
	sqlText, ok := file.Lookup(metadataSQL)
	if !ok || sqlText != "SELECT COUNT(*) AS total FROM users" {
		t.Fatalf("sql metadata = %q (present %v)", sqlText, ok)
	}
}

func TestEncodeResultRejectsStatementsWithoutRows(t *testing.T) {
	_, err := EncodeResult("DELETE FROM users", query.Result{RowsAffected: 3})
	if !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("EncodeResult() error = %v, want ErrNothingToExport", err)
	}
}

func TestEncodeResultRejectsRaggedRows(t *testing.T) {
	_, err := EncodeResult("SELECT 1", query.Result{Columns: []string{"a", "b"}, Rows: [][]any{{1}}})
	if err == nil {
		t.Fatal("expected ragged row error")
	}
}

func TestExportWritesToLocalStore(t *testing.T) {
	store, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("local.New() error = %v", err)
	}
	exporter := New(store, nil)
	exporter.Now = func() time.Time { return time.Date(2026, time.February, 19, 9, 5, 6, 0, time.UTC) }

	receipt, err := exporter.Export(context.Background(), Request{
		Database: "/data/shop.db",
		Name:     "users",
		SQL:      "SELECT id FROM users",
		Result:   query.Result{Columns: []string{"id"}, Rows: [][]any{{int64(1)}, {int64(2)}}},
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if receipt.Key != "shop.db/date=2026-02-19/users-090506.parquet" {
		t.Fatalf("Key = %q", receipt.Key)
	}
	if receipt.Rows != 2 || receipt.Size == 0 {
		t.Fatalf("receipt = %+v", receipt)
	}

	info, err := store.Stat(context.Background(), receipt.Key)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Location != receipt.Location || info.Size != receipt.Size {
		t.Fatalf("info = %+v, receipt = %+v", info, receipt)
	}
}

func TestExportRejectsInvalidName(t *testing.T) {
	exporter := New(&recordingStore{}, nil)
	_, err := exporter.Export(context.Background(), Request{
		Database: "shop",
		Name:     "../users",
		Result:   query.Result{Columns: []string{"id"}, Rows: [][]any{{1}}},
	})
	if err == nil {
		t.Fatal("expected invalid export name error")
	}
}

func TestExportWrapsStoreFailure(t *testing.T) {
	boom := errors.New("bucket unavailable")
	exporter := New(&recordingStore{putErr: boom}, nil)
	_, err := exporter.Export(context.Background(), Request{
		Database: "shop",
		Name:     "users",
		Result:   query.Result{Columns: []string{"id"}, Rows: [][]any{{1}}},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Export() error = %v, want wrapped store error", err)
	}
}

func TestExportSendsContentTypeAndMetadata(t *testing.T) {
	store := &recordingStore{}
	exporter := New(store, nil)
	exporter.Now = func() time.Time { return time.Date(2026, 2, 19, 9, 5, 6, 0, time.UTC) }

	_, err := exporter.Export(context.Background(), Request{
		Database: "/var/data/shop.db",
		SQL:      "SELECT id, name FROM users",
		Result:   query.Result{Columns: []string{"id", "name"}, Rows: [][]any{{1, "alice"}, {2, "bob"}}},
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if store.lastKey != "shop.db/date=2026-02-19/result-090506.parquet" {
		t.Fatalf("key = %q", store.lastKey)
	}
	if store.lastPut.ContentType != ContentType {
		t.Fatalf("ContentType = %q", store.lastPut.ContentType)
	}
	want := map[string]string{"database": "shop.db", "rows": "2", "columns": "2"}
	if !reflect.DeepEqual(store.lastPut.Metadata, want) {
		t.Fatalf("Metadata = %v, want %v", store.lastPut.Metadata, want)
	}
}

type recordingStore struct {
	putErr  error
	lastKey string
	lastPut storage.PutOptions
}

func (s *recordingStore) Put(_ context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	s.lastKey = key
	s.lastPut = opts
	if s.putErr != nil {
		return storage.ObjectInfo{}, s.putErr
	}
	_, _ = io.Copy(io.Discard, body)
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (s *recordingStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotFound
}

func (s *recordingStore) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, storage.ErrObjectNotFound
}

func (s *recordingStore) Delete(context.Context, string) error {
	return nil
}
