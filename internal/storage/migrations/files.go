// Package migrations embeds the schema for the event and detection stores.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

var (
	//go:embed postgres/*.sql
	PostgresFS embed.FS

	//go:embed clickhouse/*.sql
	ClickhouseFS embed.FS
)

// sqlFile is one embedded migration.
type sqlFile struct {
	Name string
	SQL  string
}

// loadSQLFiles returns the non-empty .sql files under dir in lexical order.
func loadSQLFiles(fsys fs.FS, dir string) ([]sqlFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	files := make([]sqlFile, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		files = append(files, sqlFile{Name: name, SQL: string(data)})
	}
	return files, nil
}
