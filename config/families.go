package config

import (
	_ "embed"
	"os"
	"strings"
)

//go:embed families.yaml
var defaultFamilies []byte

// StatementFamiliesSource returns the statement family table and where it came from.
//
// Set via env:
// - STATEMENT_FAMILIES_FILE=/etc/finreport/families.yaml (default: built-in table)
func StatementFamiliesSource() ([]byte, string, error) {
	path := strings.TrimSpace(os.Getenv("STATEMENT_FAMILIES_FILE"))
	if path == "" {
		return defaultFamilies, "embedded", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}
	return b, path, nil
}
