package introspect

import "github.com/schemaforge/schemaforge/internal/database"

var postgresQueries = catalogQueries{
	kind: database.KindPostgres,
	tables: `
SELECT table_name, CASE WHEN table_type = 'VIEW' THEN 'VIEW' ELSE 'TABLE' END
FROM information_schema.tables
WHERE table_schema = $1 AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_name`,
	columns: `
SELECT table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`,
	// Key columns are read from pg_constraint, one row per column pair in
	// key order.
	primaryKeys: `
SELECT rel.relname, att.attname
FROM pg_constraint con
JOIN pg_class rel ON rel.oid = con.conrelid
JOIN pg_namespace ns ON ns.oid = rel.relnamespace
CROSS JOIN LATERAL unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = k.attnum
WHERE con.contype = 'p' AND ns.nspname = $1
ORDER BY rel.relname, k.ord`,
	foreignKeys: `
SELECT src.relname, src_att.attname, dst.relname, dst_att.attname
FROM pg_constraint con
JOIN pg_class src ON src.oid = con.conrelid
JOIN pg_namespace ns ON ns.oid = src.relnamespace
JOIN pg_class dst ON dst.oid = con.confrelid
CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(src_attnum, dst_attnum, ord)
JOIN pg_attribute src_att ON src_att.attrelid = con.conrelid AND src_att.attnum = k.src_attnum
JOIN pg_attribute dst_att ON dst_att.attrelid = con.confrelid AND dst_att.attnum = k.dst_attnum
WHERE con.contype = 'f' AND ns.nspname = $1
ORDER BY src.relname, con.conname, k.ord`,
}

// mysqlQueries scope every read to DATABASE(), so they take no arguments.
var mysqlQueries = catalogQueries{
	kind: database.KindMySQL,
	tables: `
SELECT TABLE_NAME, CASE WHEN TABLE_TYPE = 'VIEW' THEN 'VIEW' ELSE 'TABLE' END
FROM information_schema.TABLES
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
ORDER BY TABLE_NAME`,
	columns: `
SELECT TABLE_NAME, COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = DATABASE()
ORDER BY TABLE_NAME, ORDINAL_POSITION`,
	primaryKeys: `
SELECT TABLE_NAME, COLUMN_NAME
FROM information_schema.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = DATABASE() AND CONSTRAINT_NAME = 'PRIMARY'
ORDER BY TABLE_NAME, ORDINAL_POSITION`,
	foreignKeys: `
SELECT TABLE_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
FROM information_schema.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = DATABASE() AND REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY TABLE_NAME, COLUMN_NAME`,
	args: func(Target) []any { return nil },
}

var mssqlQueries = catalogQueries{
	kind: database.KindMSSQL,
	tables: `
SELECT TABLE_NAME, CASE WHEN TABLE_TYPE = 'VIEW' THEN 'VIEW' ELSE 'TABLE' END
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = @p1
ORDER BY TABLE_NAME`,
	columns: `
SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1
ORDER BY TABLE_NAME, ORDINAL_POSITION`,
	primaryKeys: `
SELECT kcu.TABLE_NAME, kcu.COLUMN_NAME
FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
  ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY' AND tc.TABLE_SCHEMA = @p1
ORDER BY kcu.TABLE_NAME, kcu.ORDINAL_POSITION`,
	foreignKeys: `
SELECT fk.TABLE_NAME, fk.COLUMN_NAME, pk.TABLE_NAME, pk.COLUMN_NAME
FROM INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE fk
  ON rc.CONSTRAINT_NAME = fk.CONSTRAINT_NAME AND rc.CONSTRAINT_SCHEMA = fk.CONSTRAINT_SCHEMA
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE pk
  ON rc.UNIQUE_CONSTRAINT_NAME = pk.CONSTRAINT_NAME
  AND rc.UNIQUE_CONSTRAINT_SCHEMA = pk.CONSTRAINT_SCHEMA
  AND fk.ORDINAL_POSITION = pk.ORDINAL_POSITION
WHERE fk.TABLE_SCHEMA = @p1
ORDER BY fk.TABLE_NAME, fk.COLUMN_NAME`,
}

var duckdbQueries = catalogQueries{
	kind: database.KindDuckDB,
	tables: `
SELECT table_name, CASE WHEN table_type = 'VIEW' THEN 'VIEW' ELSE 'TABLE' END
FROM information_schema.tables
WHERE table_schema = ? AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_name`,
	columns: `
SELECT table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = ?
ORDER BY table_name, ordinal_position`,
	primaryKeys: `
SELECT table_name, unnest(constraint_column_names)
FROM duckdb_constraints()
WHERE schema_name = ? AND constraint_type = 'PRIMARY KEY'
ORDER BY table_name`,
	foreignKeys: `
SELECT table_name, unnest(constraint_column_names), referenced_table, unnest(referenced_column_names)
FROM duckdb_constraints()
WHERE schema_name = ? AND constraint_type = 'FOREIGN KEY'
ORDER BY table_name`,
}
