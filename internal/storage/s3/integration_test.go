//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/schemaforge/schemaforge/internal/export"
	"github.com/schemaforge/schemaforge/internal/query"
	"github.com/schemaforge/schemaforge/internal/storage"
)

// Run against a local MinIO, for example:
//
//	SCHEMAFORGE_TEST_S3_ENDPOINT=localhost:9000 go test -tags integration ./internal/storage/s3/
func TestExportRoundTripAgainstMinIO(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("SCHEMAFORGE_TEST_S3_ENDPOINT"))
	if endpoint == "" {
		t.Skip("SCHEMAFORGE_TEST_S3_ENDPOINT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := New(ctx, Config{
		Endpoint:         endpoint,
		Region:           envOr("SCHEMAFORGE_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("SCHEMAFORGE_TEST_S3_BUCKET", "schemaforge-it"),
		AccessKeyID:      envOr("SCHEMAFORGE_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("SCHEMAFORGE_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration",
		AutoCreateBucket: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	receipt, err := export.New(store, nil).Export(ctx, export.Request{
		Database: "shop",
		Name:     "users",
		SQL:      "SELECT id, name FROM users",
		Result: query.Result{
			Columns: []string{"id", "name"},
			Rows:    [][]any{{int64(1), "alice"}, {int64(2), "bob"}},
		},
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.HasPrefix(receipt.Location, "s3://") {
		t.Fatalf("Location = %q", receipt.Location)
	}

	info, err := store.Stat(ctx, receipt.Key)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size != receipt.Size {
		t.Fatalf("Stat().Size = %d, want %d", info.Size, receipt.Size)
	}

	reader, err := store.Get(ctx, receipt.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	body, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	if !bytes.HasPrefix(body, []byte("PAR1")) {
		t.Fatalf("object does not look like parquet: % x", body[:min(len(body), 8)])
	}

	if err := store.Delete(ctx, receipt.Key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Stat(ctx, receipt.Key); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() after delete error = %v, want ErrObjectNotFound", err)
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
