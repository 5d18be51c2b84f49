// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package kafka

import (
	"github.com/google/go-cmp/cmp/cmpopts"

	"flowpipe/common/helpers"
)

func init() {
	helpers.RegisterCmpOption(cmpopts.EquateComparable(Version{}))
}
