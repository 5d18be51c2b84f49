// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package listener

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

type oobMessage struct {
	Drops uint32
}

// listenConfig configures a listening socket to reuse port, to return
// overflows and optionally to be bound to an interface.
func listenConfig(iface string) net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var err error
			if cerr := c.Control(func(fd uintptr) {
				for _, opt := range udpSocketOptions {
					err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1)
					if err != nil {
						return
					}
				}
				if iface != "" {
					err = bindToDevice(int(fd), iface)
				}
			}); cerr != nil {
				return cerr
			}
			return err
		},
	}
}
