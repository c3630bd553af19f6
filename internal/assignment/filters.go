package assignment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/clean-dependency-project/appfactory/internal/catalog"
)

// FilterLister lists the assignment filters of the tenant.
type FilterLister interface {
	ListAssignmentFilters(ctx context.Context) ([]catalog.AssignmentFilter, error)
}

// CatalogFilters resolves filter names against the catalog. The filter list
// is fetched once and reused; a failed fetch is retried on the next call.
type CatalogFilters struct {
	lister FilterLister

	mu    sync.Mutex
	byKey map[string]string
}

func NewCatalogFilters(lister FilterLister) *CatalogFilters {
	return &CatalogFilters{lister: lister}
}

// ResolveFilter returns the id of the filter whose display name equals name,
// ignoring case.
func (c *CatalogFilters) ResolveFilter(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.byKey == nil {
		filters, err := c.lister.ListAssignmentFilters(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list assignment filters: %w", err)
		}
		c.byKey = make(map[string]string, len(filters))
		for _, f := range filters {
			c.byKey[strings.ToLower(f.DisplayName)] = f.ID
		}
	}

	id, ok := c.byKey[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrFilterNotFound, name)
	}
	return id, nil
}
