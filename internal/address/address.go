// Package address provides a comparable value type for client transport addresses.
//
// A client is identified by the source address of its datagrams, so the
// Address type is designed to be compared with == and used as a map key.
// The zero value is the None sentinel used for unoccupied slots.
package address

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// ErrUnsupportedFamily is returned when an address is neither IPv4 nor IPv6.
var ErrUnsupportedFamily = errors.New("unsupported address family")

// Family identifies the network family of an Address.
type Family uint8

const (
	// FamilyNone marks the zero Address.
	FamilyNone Family = iota
	// FamilyIPv4 is a 4-octet address.
	FamilyIPv4
	// FamilyIPv6 is a 16-octet address (8 sixteen-bit groups).
	FamilyIPv6
)

// String returns a human-readable name for the family.
func (f Family) String() string {
	switch f {
	case FamilyNone:
		return "none"
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Address is an IP address and port. Only the first 4 bytes of ip are used
// for IPv4; the rest stay zero so == compares correctly.
type Address struct {
	family Family
	ip     [16]byte
	port   uint16
}

// None is the zero Address.
var None Address

// FromAddrPort converts a netip.AddrPort. IPv4-mapped IPv6 addresses are
// unmapped so the same peer has one identity on dual-stack and IPv4 sockets.
// IPv6 zones are dropped. Invalid input yields None.
func FromAddrPort(ap netip.AddrPort) Address {
	ip := ap.Addr().Unmap()
	switch {
	case ip.Is4():
		a := Address{family: FamilyIPv4, port: ap.Port()}
		v4 := ip.As4()
		copy(a.ip[:4], v4[:])
		return a
	case ip.Is6():
		return Address{family: FamilyIPv6, ip: ip.As16(), port: ap.Port()}
	default:
		return None
	}
}

// FromNetAddr converts the address reported by a socket read. Anything that is
// not an IP-based address yields None; callers treat that as an unsupported
// peer, never as a fatal condition.
func FromNetAddr(addr net.Addr) Address {
	var (
		ip   net.IP
		port int
	)

	switch a := addr.(type) {
	case *net.UDPAddr:
		if a == nil {
			return None
		}
		ip, port = a.IP, a.Port
	case *net.TCPAddr:
		if a == nil {
			return None
		}
		ip, port = a.IP, a.Port
	case *net.IPAddr:
		if a == nil {
			return None
		}
		ip = a.IP
	default:
		return None
	}

	if port < 0 || port > 0xFFFF {
		return None
	}
	nip, ok := netip.AddrFromSlice(ip)
	if !ok {
		return None
	}
	return FromAddrPort(netip.AddrPortFrom(nip, uint16(port)))
}

// Parse parses "ip:port" or "[ip]:port".
func Parse(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return None, fmt.Errorf("%w: %v", ErrUnsupportedFamily, err)
	}
	a := FromAddrPort(ap)
	if !a.IsValid() {
		return None, fmt.Errorf("%w: %s", ErrUnsupportedFamily, s)
	}
	return a, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Family returns the address family.
func (a Address) Family() Family { return a.family }

// Port returns the transport port.
func (a Address) Port() uint16 { return a.port }

// IsValid reports whether a is an IPv4 or IPv6 address.
func (a Address) IsValid() bool {
	return a.family == FamilyIPv4 || a.family == FamilyIPv6
}

// Equal reports whether a and b have the same family, port and address bytes.
func (a Address) Equal(b Address) bool {
	return a == b
}

// AddrPort converts a back to a netip.AddrPort. None yields the zero AddrPort.
func (a Address) AddrPort() netip.AddrPort {
	switch a.family {
	case FamilyIPv4:
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte(a.ip[:4])), a.port)
	case FamilyIPv6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.ip), a.port)
	default:
		return netip.AddrPort{}
	}
}

// UDPAddr converts a to a *net.UDPAddr, or nil for None.
func (a Address) UDPAddr() *net.UDPAddr {
	if !a.IsValid() {
		return nil
	}
	return net.UDPAddrFromAddrPort(a.AddrPort())
}

// String returns "ip:port" ("[ip]:port" for IPv6). For diagnostics only.
func (a Address) String() string {
	if !a.IsValid() {
		return "<none>"
	}
	ap := a.AddrPort()
	return net.JoinHostPort(ap.Addr().String(), strconv.Itoa(int(a.port)))
}

// MarshalText implements encoding.TextMarshaler. None encodes as an empty string.
func (a Address) MarshalText() ([]byte, error) {
	if !a.IsValid() {
		return []byte{}, nil
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string decodes as None.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = None
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
