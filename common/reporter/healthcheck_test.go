// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package reporter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"flowpipe/common/helpers"
	"flowpipe/common/reporter"
)

func staticHealthcheck(status reporter.HealthcheckStatus, reason string) reporter.HealthcheckFunc {
	return func(context.Context) reporter.HealthcheckResult {
		return reporter.HealthcheckResult{Status: status, Reason: reason}
	}
}

func TestRunHealthchecks(t *testing.T) {
	cases := []struct {
		Pos      helpers.Pos
		Checks   map[string]reporter.HealthcheckFunc
		Expected reporter.MultipleHealthcheckResults
	}{
		{
			Pos: helpers.Mark(),
			Expected: reporter.MultipleHealthcheckResults{
				Status:  reporter.HealthcheckOK,
				Details: map[string]reporter.HealthcheckResult{},
			},
		}, {
			Pos: helpers.Mark(),
			Checks: map[string]reporter.HealthcheckFunc{
				"listener": staticHealthcheck(reporter.HealthcheckOK, "running"),
			},
			Expected: reporter.MultipleHealthcheckResults{
				Status: reporter.HealthcheckOK,
				Details: map[string]reporter.HealthcheckResult{
					"listener": {reporter.HealthcheckOK, "running"},
				},
			},
		}, {
			Pos: helpers.Mark(),
			Checks: map[string]reporter.HealthcheckFunc{
				"listener":  staticHealthcheck(reporter.HealthcheckOK, "running"),
				"publisher": staticHealthcheck(reporter.HealthcheckWarning, "buffer almost full"),
			},
			Expected: reporter.MultipleHealthcheckResults{
				Status: reporter.HealthcheckWarning,
				Details: map[string]reporter.HealthcheckResult{
					"listener":  {reporter.HealthcheckOK, "running"},
					"publisher": {reporter.HealthcheckWarning, "buffer almost full"},
				},
			},
		}, {
			Pos: helpers.Mark(),
			Checks: map[string]reporter.HealthcheckFunc{
				"listener":  staticHealthcheck(reporter.HealthcheckError, "stopped"),
				"publisher": staticHealthcheck(reporter.HealthcheckWarning, "buffer almost full"),
			},
			Expected: reporter.MultipleHealthcheckResults{
				Status: reporter.HealthcheckError,
				Details: map[string]reporter.HealthcheckResult{
					"listener":  {reporter.HealthcheckError, "stopped"},
					"publisher": {reporter.HealthcheckWarning, "buffer almost full"},
				},
			},
		},
	}
	for _, tc := range cases {
		r := reporter.NewMock(t)
		for name, check := range tc.Checks {
			r.RegisterHealthcheck(name, check)
		}
		got := r.RunHealthchecks(context.Background())
		if diff := helpers.Diff(got, tc.Expected); diff != "" {
			t.Errorf("%sRunHealthchecks() (-got, +want):\n%s", tc.Pos, diff)
		}
	}
}

func TestHealthcheckTimeout(t *testing.T) {
	r := reporter.NewMock(t)
	r.RegisterHealthcheck("fast", staticHealthcheck(reporter.HealthcheckOK, "all well"))
	r.RegisterHealthcheck("slow", func(ctx context.Context) reporter.HealthcheckResult {
		<-ctx.Done()
		return reporter.HealthcheckResult{reporter.HealthcheckOK, "too late"}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got := r.RunHealthchecks(ctx)
	expected := reporter.MultipleHealthcheckResults{
		Status: reporter.HealthcheckError,
		Details: map[string]reporter.HealthcheckResult{
			"fast": {reporter.HealthcheckOK, "all well"},
			"slow": {reporter.HealthcheckError, "timeout during check"},
		},
	}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Fatalf("RunHealthchecks() (-got, +want):\n%s", diff)
	}
}

func TestChannelHealthcheck(t *testing.T) {
	contact := make(chan reporter.ChannelHealthcheckFunc)
	go func() {
		select {
		case f := <-contact:
			f(reporter.HealthcheckOK, "worker alive")
		case <-time.After(time.Second):
		}
	}()

	r := reporter.NewMock(t)
	r.RegisterHealthcheck("worker", reporter.ChannelHealthcheck(context.Background(), contact))
	got := r.RunHealthchecks(context.Background())
	expected := reporter.MultipleHealthcheckResults{
		Status: reporter.HealthcheckOK,
		Details: map[string]reporter.HealthcheckResult{
			"worker": {reporter.HealthcheckOK, "worker alive"},
		},
	}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Fatalf("RunHealthchecks() (-got, +want):\n%s", diff)
	}
}

func TestChannelHealthcheckDeadWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	check := reporter.ChannelHealthcheck(ctx, make(chan reporter.ChannelHealthcheckFunc))
	got := check(context.Background())
	expected := reporter.HealthcheckResult{reporter.HealthcheckError, "dead"}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Fatalf("ChannelHealthcheck() (-got, +want):\n%s", diff)
	}
}

func TestHealthcheckHTTPHandler(t *testing.T) {
	r := reporter.NewMock(t)
	r.RegisterHealthcheck("listener", staticHealthcheck(reporter.HealthcheckOK, "running"))
	r.RegisterHealthcheck("publisher", staticHealthcheck(reporter.HealthcheckError, "endpoint unreachable"))

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/v0/healthcheck", r.HealthcheckHTTPHandler)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v0/healthcheck", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /api/v0/healthcheck status code, got %d, expected %d",
			w.Code, http.StatusServiceUnavailable)
	}

	var got gin.H
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("GET /api/v0/healthcheck error:\n%+v", err)
	}
	expected := gin.H{
		"status": "error",
		"details": map[string]any{
			"listener":  map[string]any{"status": "ok", "reason": "running"},
			"publisher": map[string]any{"status": "error", "reason": "endpoint unreachable"},
		},
	}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Fatalf("GET /api/v0/healthcheck (-got, +want):\n%s", diff)
	}
}
