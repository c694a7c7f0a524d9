// Package export writes query results as Parquet files to an object store.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/schemaforge/schemaforge/internal/query"
	"github.com/schemaforge/schemaforge/internal/storage"
)

const ContentType = "application/vnd.apache.parquet"

var ErrNothingToExport = errors.New("export: no result rows to export")

type Request struct {
	Database string
	Name     string
	SQL      string
	Result   query.Result
}

type Receipt struct {
	Key      string
	Location string
	Rows     int64
	Size     int64
	Columns  []string
}

type Exporter struct {
	Store  storage.ObjectStore
	Now    func() time.Time
	Logger *slog.Logger
}

func New(store storage.ObjectStore, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exporter{Store: store, Now: time.Now, Logger: logger}
}

func (e *Exporter) Export(ctx context.Context, request Request) (Receipt, error) {
	if e.Store == nil {
		return Receipt{}, fmt.Errorf("export store is required")
	}
	name := strings.TrimSpace(request.Name)
	if name == "" {
		name = "result"
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	key, err := storage.BuildExportPath(request.Database, name, now())
	if err != nil {
		return Receipt{}, err
	}

	encoded, err := EncodeResult(request.SQL, request.Result)
	if err != nil {
		return Receipt{}, err
	}
	info, err := e.Store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: ContentType,
		Metadata: map[string]string{
			"database": storage.SanitizeComponent(request.Database),
			"rows":     strconv.FormatInt(encoded.RecordCount, 10),
			"columns":  strconv.Itoa(len(encoded.Columns)),
		},
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("store export %q: %w", key, err)
	}

	receipt := Receipt{
		Key:      key,
		Location: info.Location,
		Rows:     encoded.RecordCount,
		Size:     int64(len(encoded.Data)),
		Columns:  encoded.Columns,
	}
	if e.Logger != nil {
		e.Logger.InfoContext(ctx, "result exported", "key", key, "location", receipt.Location, "rows", receipt.Rows, "bytes", receipt.Size)
	}
	return receipt, nil
}
