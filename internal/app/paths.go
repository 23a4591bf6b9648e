package app

import (
	"path/filepath"
	"strings"
)

// defaultReportPath places the report next to the archived rows.
func defaultReportPath(outputDir string) string {
	root := strings.TrimSpace(outputDir)
	if root == "" {
		root = "output"
	}
	return filepath.Join(root, "report.json")
}

// DefaultLedgerPath is the ledger location used by --resume.
func DefaultLedgerPath(outputDir string) string {
	root := strings.TrimSpace(outputDir)
	if root == "" {
		root = "output"
	}
	return filepath.Join(root, ".goarchive-ledger.db")
}
