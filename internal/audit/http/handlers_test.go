package audithttp

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newFilterHandler(t *testing.T) *Handler {
	t.Helper()
	h := NewHandler(nil, nil)
	h.now = func() time.Time {
		return time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)
	}
	return h
}

func TestParseFiltersDefaults(t *testing.T) {
	h := newFilterHandler(t)
	req := httptest.NewRequest("GET", "/timeline?tenant_id=1", nil)

	filters, err := h.parseFilters(req)
	require.NoError(t, err)
	require.Equal(t, int64(1), filters.TenantID)
	require.Equal(t, 1, filters.Page)
	require.Equal(t, defaultPageSize, filters.PageSize)
	require.Equal(t, 7*24*time.Hour, filters.To.Sub(filters.From))
}

func TestParseFiltersRequiresTenant(t *testing.T) {
	h := newFilterHandler(t)

	_, err := h.parseFilters(httptest.NewRequest("GET", "/timeline", nil))
	require.Error(t, err)

	_, err = h.parseFilters(httptest.NewRequest("GET", "/timeline?tenant_id=0", nil))
	require.Error(t, err)
}

func TestParseFiltersBounds(t *testing.T) {
	h := newFilterHandler(t)

	_, err := h.parseFilters(httptest.NewRequest("GET", "/timeline?tenant_id=1&page_size=51", nil))
	require.Error(t, err, "page size capped")

	_, err = h.parseFilters(httptest.NewRequest("GET", "/timeline?tenant_id=1&page=0", nil))
	require.Error(t, err)

	_, err = h.parseFilters(httptest.NewRequest("GET",
		"/timeline?tenant_id=1&from=2026-01-01T00:00:00Z&to=2026-08-01T00:00:00Z", nil))
	require.Error(t, err, "range wider than retention window")

	_, err = h.parseFilters(httptest.NewRequest("GET",
		"/timeline?tenant_id=1&from=2026-08-02T00:00:00Z&to=2026-08-01T00:00:00Z", nil))
	require.Error(t, err, "reversed range")
}

func TestParseFiltersExplicitWindow(t *testing.T) {
	h := newFilterHandler(t)

	filters, err := h.parseFilters(httptest.NewRequest("GET",
		"/timeline?tenant_id=3&action=override.approve&from=2026-08-01T00:00:00Z&to=2026-08-15T00:00:00Z&page=2&page_size=25", nil))
	require.NoError(t, err)
	require.Equal(t, int64(3), filters.TenantID)
	require.Equal(t, "override.approve", filters.Action)
	require.Equal(t, 2, filters.Page)
	require.Equal(t, 25, filters.PageSize)
	require.Equal(t, time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC), filters.From)
}
