// Package report renders the publish ledger as a static HTML site: one page
// per application with every published version, a run history page and a
// JSON feed of the latest version of each application.
package report

import "github.com/clean-dependency-project/appfactory/internal/storage"

// LedgerReader abstracts the ledger queries the report needs.
type LedgerReader interface {
	// ListPublications returns every publication, newest first.
	ListPublications() ([]*storage.Publication, error)

	// ListRuns returns at most limit runs, newest first. A limit of zero or
	// less returns every run.
	ListRuns(limit int) ([]*storage.Run, error)

	// GetStats returns ledger totals.
	GetStats() (storage.Stats, error)
}
