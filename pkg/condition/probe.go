package condition

import (
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"
)

// Prober answers network conditions.
type Prober interface {
	PortOpen(host string, port int) bool
	HostUp(host string) bool
}

// DefaultProber dials with a two second timeout.
var DefaultProber Prober = DialProber{Timeout: 2 * time.Second}

// DialProber probes with TCP connects. A host counts as up when any of
// HostPorts accepts or actively refuses a connection.
type DialProber struct {
	Timeout   time.Duration
	HostPorts []int
}

var defaultHostPorts = []int{80, 443, 22, 445}

func (p DialProber) PortOpen(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), p.Timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (p DialProber) HostUp(host string) bool {
	ports := p.HostPorts
	if len(ports) == 0 {
		ports = defaultHostPorts
	}
	for _, port := range ports {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), p.Timeout)
		if err == nil {
			conn.Close()
			return true
		}
		if errors.Is(err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}
