package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
)

type Kind string

const (
	KindPostgres Kind = "postgres"
	KindMySQL    Kind = "mysql"
	KindSQLite   Kind = "sqlite"
	KindMSSQL    Kind = "mssql"
	KindDuckDB   Kind = "duckdb"
)

var ErrUnsupportedScheme = errors.New("database: unsupported connection url scheme")

// Dialect is the SQL dialect name used when prompting for statements.
func (k Kind) Dialect() string {
	switch k {
	case KindPostgres:
		return "PostgreSQL"
	case KindMySQL:
		return "MySQL"
	case KindSQLite:
		return "SQLite"
	case KindMSSQL:
		return "Microsoft SQL Server (T-SQL)"
	case KindDuckDB:
		return "DuckDB"
	default:
		return "ANSI SQL"
	}
}

func (k Kind) DriverName() string {
	switch k {
	case KindPostgres:
		return "pgx"
	case KindMySQL:
		return "mysql"
	case KindSQLite:
		return "sqlite"
	case KindMSSQL:
		return "sqlserver"
	case KindDuckDB:
		return "duckdb"
	default:
		return ""
	}
}

func (k Kind) DefaultSchema() string {
	switch k {
	case KindPostgres:
		return "public"
	case KindMSSQL:
		return "dbo"
	case KindSQLite, KindDuckDB:
		return "main"
	default:
		return ""
	}
}

// Descriptor identifies one database connection. The password only lives
// inside DSN; use Masked for anything shown to users or written to disk.
type Descriptor struct {
	Kind     Kind
	Host     string
	Port     string
	User     string
	Database string
	Schema   string
	DSN      string
	Masked   string
}

func (d Descriptor) IsMemory() bool {
	return (d.Kind == KindSQLite && d.DSN == ":memory:") || (d.Kind == KindDuckDB && d.DSN == "")
}

// Parse recognises postgres, mysql, sqlite, mssql and duckdb connection
// strings. Bare paths ending in a known file extension are accepted for the
// file based engines.
func Parse(raw string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Descriptor{}, &ConnectionError{Op: "parse url", Err: fmt.Errorf("connection url is required")}
	}

	scheme := ""
	if idx := strings.Index(raw, "://"); idx > 0 {
		scheme = strings.ToLower(raw[:idx])
	}

	switch scheme {
	case "postgres", "postgresql":
		return parsePostgres(raw)
	case "mysql", "mariadb":
		return parseMySQL(raw)
	case "sqlite", "sqlite3":
		return fileDescriptor(KindSQLite, raw[len(scheme)+3:], raw)
	case "mssql", "sqlserver":
		return parseMSSQL(raw)
	case "duckdb":
		return fileDescriptor(KindDuckDB, raw[len(scheme)+3:], raw)
	case "":
		switch strings.ToLower(filepath.Ext(raw)) {
		case ".db", ".sqlite", ".sqlite3":
			return fileDescriptor(KindSQLite, raw, raw)
		case ".duckdb":
			return fileDescriptor(KindDuckDB, raw, raw)
		}
	}
	return Descriptor{}, &ConnectionError{Op: "parse url", Err: fmt.Errorf("%w: %q", ErrUnsupportedScheme, redactRaw(raw))}
}

func parsePostgres(raw string) (Descriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, &ConnectionError{Kind: KindPostgres, Op: "parse url", Err: err}
	}
	schema := takeQueryParam(u, "schema")
	desc := networkDescriptor(KindPostgres, u, "5432")
	desc.Schema = firstNonEmpty(schema, KindPostgres.DefaultSchema())
	desc.DSN = u.String()
	return desc, nil
}

func parseMySQL(raw string) (Descriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, &ConnectionError{Kind: KindMySQL, Op: "parse url", Err: err}
	}
	desc := networkDescriptor(KindMySQL, u, "3306")
	if desc.Database == "" {
		return Descriptor{}, &ConnectionError{Kind: KindMySQL, Op: "parse url", Err: fmt.Errorf("database name is required")}
	}

	cfg := mysql.NewConfig()
	cfg.User = desc.User
	cfg.Passwd, _ = u.User.Password()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(desc.Host, desc.Port)
	cfg.DBName = desc.Database
	cfg.ParseTime = true
	params := map[string]string{}
	for key, values := range u.Query() {
		if len(values) > 0 {
			params[key] = values[len(values)-1]
		}
	}
	if len(params) > 0 {
		cfg.Params = params
	}
	desc.Schema = desc.Database
	desc.DSN = cfg.FormatDSN()
	return desc, nil
}

func parseMSSQL(raw string) (Descriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, &ConnectionError{Kind: KindMSSQL, Op: "parse url", Err: err}
	}
	schema := takeQueryParam(u, "schema")
	desc := networkDescriptor(KindMSSQL, u, "1433")
	desc.Schema = firstNonEmpty(schema, KindMSSQL.DefaultSchema())

	dsn := *u
	dsn.Scheme = "sqlserver"
	dsn.Path = ""
	query := dsn.Query()
	if desc.Database != "" && query.Get("database") == "" {
		query.Set("database", desc.Database)
	}
	if desc.Database == "" {
		desc.Database = query.Get("database")
	}
	dsn.RawQuery = query.Encode()
	desc.DSN = dsn.String()
	return desc, nil
}

func fileDescriptor(kind Kind, path, raw string) (Descriptor, error) {
	path = strings.TrimSpace(path)
	if kind == KindSQLite && path == "" {
		return Descriptor{}, &ConnectionError{Kind: kind, Op: "parse url", Err: fmt.Errorf("database file path is required")}
	}
	if path == ":memory:" && kind == KindDuckDB {
		path = ""
	}
	name := filepath.Base(path)
	if path == "" || path == ":memory:" {
		name = ":memory:"
	}
	return Descriptor{
		Kind:     kind,
		Database: strings.TrimSuffix(name, filepath.Ext(name)),
		Schema:   kind.DefaultSchema(),
		DSN:      path,
		Masked:   raw,
	}, nil
}

func networkDescriptor(kind Kind, u *url.URL, defaultPort string) Descriptor {
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return Descriptor{
		Kind:     kind,
		Host:     firstNonEmpty(u.Hostname(), "localhost"),
		Port:     port,
		User:     u.User.Username(),
		Database: strings.TrimPrefix(u.Path, "/"),
		Masked:   u.Redacted(),
	}
}

func takeQueryParam(u *url.URL, key string) string {
	query := u.Query()
	value := strings.TrimSpace(query.Get(key))
	if value == "" {
		return ""
	}
	query.Del(key)
	u.RawQuery = query.Encode()
	return value
}

func redactRaw(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
