// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux

package listener

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	oobLength        = syscall.CmsgSpace(4)
	udpSocketOptions = []int{unix.SO_REUSEADDR, unix.SO_REUSEPORT, unix.SO_RXQ_OVFL}
)

// bindToDevice binds the socket to the provided interface.
func bindToDevice(fd int, iface string) error {
	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface); err != nil {
		return fmt.Errorf("cannot bind to interface %q: %w", iface, err)
	}
	return nil
}

// parseSocketControlMessage parses b and extracts the number of drops
// (SO_RXQ_OVFL). The kernel reports a cumulative counter.
func parseSocketControlMessage(b []byte) (oobMessage, error) {
	result := oobMessage{}
	cmsgs, err := syscall.ParseSocketControlMessage(b)
	if err != nil {
		return result, err
	}
	for _, cmsg := range cmsgs {
		// cmsg.Data is correctly aligned for its content.
		if cmsg.Header.Level == unix.SOL_SOCKET && cmsg.Header.Type == unix.SO_RXQ_OVFL && len(cmsg.Data) >= 4 {
			result.Drops = *(*uint32)(unsafe.Pointer(&cmsg.Data[0]))
		}
	}
	return result, nil
}
