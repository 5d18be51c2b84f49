// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package reporter

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthcheckStatus represents an healthcheck status.
type HealthcheckStatus int

const (
	// HealthcheckOK says "OK"
	HealthcheckOK HealthcheckStatus = iota
	// HealthcheckWarning says there is a non-fatal condition
	HealthcheckWarning
	// HealthcheckError says there is a big problem with the component
	HealthcheckError
)

// HealthcheckResult combines a status and a reason
type HealthcheckResult struct {
	Status HealthcheckStatus `json:"status"`
	Reason string            `json:"reason"`
}

// MultipleHealthcheckResults aggregates the result of several healthchecks
type MultipleHealthcheckResults struct {
	Status  HealthcheckStatus            `json:"status"`
	Details map[string]HealthcheckResult `json:"details,omitempty"`
}

func (hs HealthcheckStatus) String() string {
	switch hs {
	case HealthcheckOK:
		return "ok"
	case HealthcheckWarning:
		return "warning"
	case HealthcheckError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText turns a status into text.
func (hs HealthcheckStatus) MarshalText() ([]byte, error) {
	return []byte(hs.String()), nil
}

// UnmarshalText parses a status from text.
func (hs *HealthcheckStatus) UnmarshalText(input []byte) error {
	for _, candidate := range []HealthcheckStatus{HealthcheckOK, HealthcheckWarning, HealthcheckError} {
		if candidate.String() == string(input) {
			*hs = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown healthcheck status %q", string(input))
}

// HealthcheckFunc defines a function returning an healthcheck result.
type HealthcheckFunc func(context.Context) HealthcheckResult

// RegisterHealthcheck registers a new healthcheck under the provided name.
func (r *Reporter) RegisterHealthcheck(name string, hf HealthcheckFunc) {
	r.healthchecksLock.Lock()
	r.healthchecks[name] = hf
	r.healthchecksLock.Unlock()
}

// RunHealthchecks executes all healthchecks in parallel and returns
// a global status as well as the result of each check. A check not
// answering before the context expires is reported as an error.
func (r *Reporter) RunHealthchecks(ctx context.Context) MultipleHealthcheckResults {
	r.healthchecksLock.Lock()
	defer r.healthchecksLock.Unlock()

	var (
		wg          sync.WaitGroup
		resultsLock sync.Mutex
	)
	results := MultipleHealthcheckResults{
		Status:  HealthcheckOK,
		Details: make(map[string]HealthcheckResult, len(r.healthchecks)),
	}
	for name := range r.healthchecks {
		results.Details[name] = HealthcheckResult{HealthcheckError, "timeout during check"}
	}
	for name, hf := range r.healthchecks {
		wg.Add(1)
		go func(name string, hf HealthcheckFunc) {
			defer wg.Done()
			done := make(chan HealthcheckResult, 1)
			go func() { done <- hf(ctx) }()
			select {
			case <-ctx.Done():
			case result := <-done:
				resultsLock.Lock()
				results.Details[name] = result
				resultsLock.Unlock()
			}
		}(name, hf)
	}
	wg.Wait()

	resultsLock.Lock()
	defer resultsLock.Unlock()
	for _, result := range results.Details {
		if result.Status > results.Status {
			results.Status = result.Status
		}
	}
	return results
}

// HealthcheckHTTPHandler is an HTTP handler returning healthcheck results as JSON.
func (r *Reporter) HealthcheckHTTPHandler(gc *gin.Context) {
	ctx, cancel := context.WithTimeout(gc.Request.Context(), 5*time.Second)
	defer cancel()
	results := r.RunHealthchecks(ctx)
	status := http.StatusOK
	if results.Status == HealthcheckError {
		status = http.StatusServiceUnavailable
	}
	gc.JSON(status, results)
}

// ChannelHealthcheckFunc is the function sent over a channel to signal liveness
type ChannelHealthcheckFunc func(HealthcheckStatus, string)

// ChannelHealthcheck implements an HealthcheckFunc using a channel to
// check a worker is alive. The worker is expected to select on the
// channel in its main loop and to call the received function with
// its status.
func ChannelHealthcheck(ctx context.Context, contact chan<- ChannelHealthcheckFunc) HealthcheckFunc {
	return func(hctx context.Context) HealthcheckResult {
		answer := make(chan HealthcheckResult, 1)
		signal := func(status HealthcheckStatus, reason string) {
			select {
			case answer <- HealthcheckResult{status, reason}:
			default:
			}
		}

		select {
		case <-ctx.Done():
			return HealthcheckResult{HealthcheckError, "dead"}
		case <-hctx.Done():
			return HealthcheckResult{HealthcheckError, "timeout"}
		case contact <- signal:
		}

		select {
		case <-ctx.Done():
			return HealthcheckResult{HealthcheckError, "dead"}
		case <-hctx.Done():
			return HealthcheckResult{HealthcheckError, "timeout"}
		case result := <-answer:
			return result
		}
	}
}
