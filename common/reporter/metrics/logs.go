// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package metrics

import (
	"fmt"

	"flowpipe/common/reporter/logger"
)

// promHTTPLogger adapts logger.Logger to promhttp.Logger.
type promHTTPLogger struct {
	l logger.Logger
}

// Println logs errors from the HTTP handler at the warning level.
func (m promHTTPLogger) Println(v ...interface{}) {
	m.l.Warn().Msg(fmt.Sprint(v...))
}
