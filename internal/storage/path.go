package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	unsafeKeyChars       = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// BuildExportPath lays exports out by database and day:
// <database>/date=YYYY-MM-DD/<name>-HHMMSS.parquet
func BuildExportPath(database, name string, at time.Time) (string, error) {
	database = SanitizeComponent(database)
	if err := validatePathComponent(database, "database name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(name, "export name"); err != nil {
		return "", err
	}

	ts := at.UTC()
	return path.Join(
		database,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s-%02d%02d%02d.parquet", strings.TrimSuffix(name, ".parquet"), ts.Hour(), ts.Minute(), ts.Second()),
	), nil
}

// SanitizeComponent maps database names such as file paths onto a single
// key component.
func SanitizeComponent(value string) string {
	value = path.Base(strings.ReplaceAll(strings.TrimSpace(value), `\`, "/"))
	value = unsafeKeyChars.ReplaceAllString(value, "_")
	value = strings.TrimLeft(value, "._-")
	if value == "" {
		return "database"
	}
	return value
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
