// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package registry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"time"
)

var (
	// ErrInvalidLength is returned when the encoded length of a value
	// is not compatible with its type.
	ErrInvalidLength = errors.New("invalid length for type")
	// ErrInvalidValue is returned when the encoded value is not valid
	// for its type.
	ErrInvalidValue = errors.New("invalid value for type")
)

// ntpEpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const ntpEpochOffset = 2208988800

// Decode turns raw bytes into a typed value according to the type of
// the element. Integers and floats accept reduced-size encoding (RFC
// 7011 section 6.2). Returned values are uint64, int64, float64, bool,
// string, time.Time, netip.Addr or a copy of the bytes.
func (e Element) Decode(b []byte) (any, error) {
	v, err := decodeValue(e.Type, b)
	if err != nil {
		return nil, fmt.Errorf("%s (%s, %d bytes): %w", e.Name, e.Type, len(b), err)
	}
	return v, nil
}

func decodeValue(t Type, b []byte) (any, error) {
	switch t {
	case Unsigned8, Unsigned16, Unsigned32, Unsigned64:
		if len(b) == 0 || len(b) > 8 {
			return nil, ErrInvalidLength
		}
		return decodeUnsigned(b), nil
	case Signed8, Signed16, Signed32, Signed64:
		if len(b) == 0 || len(b) > 8 {
			return nil, ErrInvalidLength
		}
		v := decodeUnsigned(b)
		shift := 64 - 8*uint(len(b))
		return int64(v<<shift) >> shift, nil
	case Float32, Float64:
		switch len(b) {
		case 4:
			return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
		case 8:
			if t == Float32 {
				return nil, ErrInvalidLength
			}
			return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
		}
		return nil, ErrInvalidLength
	case Boolean:
		if len(b) != 1 {
			return nil, ErrInvalidLength
		}
		switch b[0] {
		case 1:
			return true, nil
		case 2:
			return false, nil
		}
		return nil, ErrInvalidValue
	case MACAddress:
		if len(b) != 6 {
			return nil, ErrInvalidLength
		}
		return net.HardwareAddr(b).String(), nil
	case String:
		return string(bytes.TrimRight(b, "\x00")), nil
	case DateTimeSeconds:
		if len(b) != 4 {
			return nil, ErrInvalidLength
		}
		return time.Unix(int64(binary.BigEndian.Uint32(b)), 0).UTC(), nil
	case DateTimeMilliseconds:
		if len(b) != 8 {
			return nil, ErrInvalidLength
		}
		return time.UnixMilli(int64(binary.BigEndian.Uint64(b))).UTC(), nil
	case DateTimeMicroseconds, DateTimeNanoseconds:
		if len(b) != 8 {
			return nil, ErrInvalidLength
		}
		seconds := int64(binary.BigEndian.Uint32(b[:4])) - ntpEpochOffset
		fraction := uint64(binary.BigEndian.Uint32(b[4:]))
		if t == DateTimeMicroseconds {
			// The 11 lower bits of the fraction are not significant.
			fraction &^= 0x7ff
		}
		nanoseconds := int64((fraction * 1_000_000_000) >> 32)
		return time.Unix(seconds, nanoseconds).UTC(), nil
	case IPv4Address:
		if len(b) != 4 {
			return nil, ErrInvalidLength
		}
		return netip.AddrFrom4([4]byte(b)), nil
	case IPv6Address:
		if len(b) != 16 {
			return nil, ErrInvalidLength
		}
		return netip.AddrFrom16([16]byte(b)), nil
	}
	return bytes.Clone(b), nil
}

func decodeUnsigned(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
