package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/schemaforge/schemaforge/internal/query"
)

const (
	metadataColumns = "schemaforge.columns"
	metadataSQL     = "schemaforge.sql"
)

type EncodeResult struct {
	Data        []byte
	RecordCount int64
	Columns     []string
}

// exportRow keeps result sets of any shape in one fixed parquet schema.
// The column order is stored in the file metadata.
type exportRow struct {
	RowIndex int64  `parquet:"row_index"`
	RowJSON  string `parquet:"row_json"`
}

func EncodeResult(sqlText string, result query.Result) (EncodeResult, error) {
	if !result.HasRows() {
		return EncodeResult{}, ErrNothingToExport
	}

	columns := uniqueColumns(result.Columns)
	rows := make([]exportRow, 0, len(result.Rows))
	for i, values := range result.Rows {
		if len(values) != len(columns) {
			return EncodeResult{}, fmt.Errorf("row %d has %d values, expected %d", i, len(values), len(columns))
		}
		record := make(map[string]any, len(columns))
		for j, column := range columns {
			record[column] = jsonValue(values[j])
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return EncodeResult{}, fmt.Errorf("encode row %d: %w", i, err)
		}
		rows = append(rows, exportRow{RowIndex: int64(i), RowJSON: string(payload)})
	}

	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return EncodeResult{}, fmt.Errorf("encode column list: %w", err)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[exportRow](buf,
		parquet.KeyValueMetadata(metadataColumns, string(columnsJSON)),
		parquet.KeyValueMetadata(metadataSQL, sqlText),
	)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return EncodeResult{
		Data:        buf.Bytes(),
		RecordCount: int64(len(rows)),
		Columns:     columns,
	}, nil
}

// uniqueColumns suffixes repeated names, as joins often return two "id"s.
func uniqueColumns(columns []string) []string {
	out := make([]string, len(columns))
	seen := make(map[string]int, len(columns))
	for i, column := range columns {
		base := column
		if base == "" {
			base = "column_" + strconv.Itoa(i+1)
		}
		name := base
		for seen[name] > 0 {
			seen[base]++
			name = base + "_" + strconv.Itoa(seen[base])
		}
		seen[name]++
		out[i] = name
	}
	return out
}

func jsonValue(value any) any {
	switch typed := value.(type) {
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(typed)
	default:
		return typed
	}
}
