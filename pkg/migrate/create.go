package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	versionLayout = "20060102150405"
	maxNameLength = 80
)

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

// CreateRequest describes a new goose SQL migration.
type CreateRequest struct {
	Dir  string
	Name string
	// NoTransaction adds the goose annotation needed by statements that cannot
	// run inside a transaction, e.g. CREATE INDEX CONCURRENTLY on raw_records.
	NoTransaction bool
	Now           func() time.Time
}

// CreateSQLMigration writes <dir>/<YYYYMMDDHHMMSS>_<name>.sql and returns its
// path. The version always sorts after the newest migration already in dir,
// so a lagging clock cannot produce an out-of-order file.
func CreateSQLMigration(req CreateRequest) (string, error) {
	if req.Dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	safe, err := sanitizeName(req.Name)
	if err != nil {
		return "", err
	}
	now := req.Now
	if now == nil {
		now = time.Now
	}

	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", req.Dir, err)
	}
	version, err := nextVersion(req.Dir, now().UTC())
	if err != nil {
		return "", err
	}

	fullpath := filepath.Join(req.Dir, fmt.Sprintf("%s_%s.sql", version.Format(versionLayout), safe))
	if _, err := os.Stat(fullpath); err == nil {
		return "", fmt.Errorf("migration already exists: %s", fullpath)
	}
	if err := os.WriteFile(fullpath, []byte(migrationTemplate(safe, req.NoTransaction)), 0o644); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}

func sanitizeName(name string) (string, error) {
	safe := strings.ToLower(strings.TrimSpace(name))
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, "_")
	switch {
	case safe == "":
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	case len(safe) > maxNameLength:
		return "", fmt.Errorf("name %q is longer than %d characters", name, maxNameLength)
	}
	return safe, nil
}

// nextVersion returns now, or one second past the newest version in dir when
// that is not earlier.
func nextVersion(dir string, now time.Time) (time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, fmt.Errorf("read migrations: %w", err)
	}
	version := now.Truncate(time.Second)
	for _, e := range entries {
		m := sqlFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		existing, err := time.Parse(versionLayout, m[1])
		if err != nil {
			continue
		}
		if !existing.Before(version) {
			version = existing.Add(time.Second)
		}
	}
	return version, nil
}

func migrationTemplate(name string, noTransaction bool) string {
	var b strings.Builder
	if noTransaction {
		b.WriteString("-- +goose NO TRANSACTION\n")
	}
	fmt.Fprintf(&b, `-- +goose Up
-- +goose StatementBegin
-- %s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %s
-- +goose StatementEnd
`, name, name)
	return b.String()
}
