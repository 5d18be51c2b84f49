// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package reporter

import (
	"time"

	"github.com/rs/zerolog"
)

// Logger is an alias for zerolog.Logger
type Logger = zerolog.Logger

// BurstSampler lets `burst` events go through during each `period`
// and drops the others. It is used for logging errors on hot paths.
func BurstSampler(period time.Duration, burst uint32) zerolog.Sampler {
	return &zerolog.BurstSampler{
		Period: period,
		Burst:  burst,
	}
}
