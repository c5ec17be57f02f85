// Package netinfo detects the local network the dashboard scans by default.
package netinfo

import (
	"fmt"
	"net"
	"net/netip"
)

// Probe is the address dialed to learn the outbound interface. UDP dials
// send nothing, so no traffic leaves the host.
const Probe = "8.8.8.8:80"

// Interface is an up, non-loopback interface with an IPv4 address.
type Interface struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	CIDR string `json:"cidr"`
	MAC  string `json:"mac,omitempty"`
}

// LocalIP returns the IPv4 address of the outbound interface.
func LocalIP() (netip.Addr, error) {
	conn, err := net.Dial("udp4", Probe)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("detect local address: %w", err)
	}
	defer conn.Close()
	ap, err := netip.ParseAddrPort(conn.LocalAddr().String())
	if err != nil {
		return netip.Addr{}, fmt.Errorf("detect local address: %w", err)
	}
	return ap.Addr().Unmap(), nil
}

// LocalCIDR returns the /24 around the outbound address, e.g. 192.168.1.0/24,
// and the name of the interface holding it when known.
func LocalCIDR() (cidr, iface string, err error) {
	ip, err := LocalIP()
	if err != nil {
		return "", "", err
	}
	prefix, err := ip.Prefix(24)
	if err != nil {
		return "", "", fmt.Errorf("detect local network: %w", err)
	}
	if ifs, err := Interfaces(); err == nil {
		for _, i := range ifs {
			if i.IP == ip.String() {
				iface = i.Name
				break
			}
		}
	}
	return prefix.String(), iface, nil
}

// Interfaces lists up, non-loopback interfaces with their IPv4 networks.
func Interfaces() ([]Interface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := []Interface{}
	for _, ifc := range ifs {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok || ipn.IP.To4() == nil {
				continue
			}
			out = append(out, Interface{
				Name: ifc.Name,
				IP:   ipn.IP.String(),
				CIDR: networkOf(ipn),
				MAC:  ifc.HardwareAddr.String(),
			})
		}
	}
	return out, nil
}

func networkOf(ipn *net.IPNet) string {
	return (&net.IPNet{IP: ipn.IP.Mask(ipn.Mask), Mask: ipn.Mask}).String()
}

// Slash24 returns the /24 containing ip.
func Slash24(ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("parse address: %w", err)
	}
	if !addr.Unmap().Is4() {
		return "", fmt.Errorf("%s is not an IPv4 address", ip)
	}
	p, err := addr.Unmap().Prefix(24)
	if err != nil {
		return "", err
	}
	return p.String(), nil
}
