package netaddr

import (
	"errors"
	"fmt"
	"net"

	"aphorism/src/internal/domain"
)

// Probe is dialed over UDP only to learn which local address the kernel
// would route from. No packet is sent.
const Probe = "8.8.8.8:80"

type DialFunc func(network, address string) (net.Conn, error)

// Result always carries a usable IP. When discovery failed, IP is the
// loopback address, Fallback is set and Err holds the cause.
type Result struct {
	IP       string
	Fallback bool
	Err      error
}

func Discover(dial DialFunc) Result {
	if dial == nil {
		dial = net.Dial
	}

	conn, err := dial("udp4", Probe)
	if err != nil {
		return fallback(fmt.Errorf("dial %s: %w", Probe, err))
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr == nil {
		return fallback(fmt.Errorf("unexpected local address %v", conn.LocalAddr()))
	}

	ip := addr.IP.To4()
	if ip == nil || ip.IsUnspecified() {
		return fallback(errors.New("no local IPv4 address"))
	}

	return Result{IP: ip.String()}
}

func fallback(err error) Result {
	return Result{IP: domain.LoopbackIP, Fallback: true, Err: err}
}
