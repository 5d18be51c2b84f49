// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package reporter

import (
	"net/http/httptest"
	"strings"
	"testing"
)

// NewMock creates a new reporter for tests. Currently, this is the
// same as a production reporter.
func NewMock(t testing.TB) *Reporter {
	t.Helper()
	r, err := New(DefaultConfiguration())
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	return r
}

// GetMetrics returns a map from metric name to its value (as a
// string). It keeps only metrics matching the provided prefix and,
// optionally, one of the provided subsets (after prefix removal).
func (r *Reporter) GetMetrics(prefix string, subset ...string) map[string]string {
	results := make(map[string]string)
	req := httptest.NewRequest("GET", "/api/v0/metrics", nil)
	w := httptest.NewRecorder()
	r.MetricsHTTPHandler().ServeHTTP(w, req)

	for _, line := range strings.Split(w.Body.String(), "\n") {
		if strings.HasPrefix(line, "#") || !strings.HasPrefix(line, prefix) {
			continue
		}
		var name, value string
		if idx := strings.Index(line, "} "); idx >= 0 {
			name, value = line[:idx+1], line[idx+2:]
		} else {
			var ok bool
			name, value, ok = strings.Cut(line, " ")
			if !ok {
				continue
			}
		}
		name = strings.TrimPrefix(name, prefix)
		if len(subset) == 0 {
			results[name] = value
			continue
		}
		for _, s := range subset {
			if strings.HasPrefix(name, s) {
				results[name] = value
				break
			}
		}
	}
	return results
}
