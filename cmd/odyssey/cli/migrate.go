package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/db"
)

// Migrator applies schema migrations. The default implementation uses the
// embedded migrations of platform/db.
type Migrator struct {
	DSN     string
	Up      func(dsn string) error
	Down    func(dsn string, steps int) error
	Version func(dsn string) (uint, bool, error)
}

// NewMigrator binds the embedded migrations to dsn.
func NewMigrator(dsn string) *Migrator {
	return &Migrator{DSN: dsn, Up: db.MigrateUp, Down: db.MigrateDown, Version: db.MigrationVersion}
}

// Run executes `migrate up`, `migrate down [n]` or `migrate version`.
func (m *Migrator) Run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: odyssey migrate up | down [steps] | version")
		return 2
	}
	switch args[0] {
	case "up":
		if err := m.Up(m.DSN); err != nil {
			fmt.Fprintf(stderr, "migrate up: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "migrations applied")
		return 0
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				fmt.Fprintf(stderr, "migrate down: invalid step count %q\n", args[1])
				return 2
			}
			steps = n
		}
		if err := m.Down(m.DSN, steps); err != nil {
			fmt.Fprintf(stderr, "migrate down: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "rolled back %d migration(s)\n", steps)
		return 0
	case "version":
		version, dirty, err := m.Version(m.DSN)
		if err != nil {
			fmt.Fprintf(stderr, "migrate version: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "version=%d dirty=%t\n", version, dirty)
		return 0
	}
	fmt.Fprintf(stderr, "unknown migrate command %q\n", args[0])
	return 2
}
