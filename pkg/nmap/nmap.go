// Package nmap reads nmap XML reports (-oX) and derives the follow-up
// scans of the dynamic scan sequence.
package nmap

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"slices"
)

type xmlRun struct {
	Hosts []xmlHost `xml:"host"`
}

type xmlHost struct {
	Status    xmlStatus    `xml:"status"`
	Addresses []xmlAddress `xml:"address"`
	Ports     []xmlPort    `xml:"ports>port"`
}

type xmlStatus struct {
	State string `xml:"state,attr"`
}

type xmlAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type xmlPort struct {
	Protocol string     `xml:"protocol,attr"`
	PortID   int        `xml:"portid,attr"`
	State    xmlStatus  `xml:"state"`
	Service  xmlService `xml:"service"`
}

type xmlService struct {
	Name    string `xml:"name,attr"`
	Product string `xml:"product,attr"`
	Version string `xml:"version,attr"`
}

// Port is one scanned port of a host.
type Port struct {
	Number   int    `json:"port"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
	Service  string `json:"service,omitempty"`
	Product  string `json:"product,omitempty"`
}

// Host is a scanned host with its ports.
type Host struct {
	Addr  string `json:"addr"`
	Up    bool   `json:"up"`
	Ports []Port `json:"ports"`
}

// OpenPorts returns the numbers of the open ports.
func (h Host) OpenPorts() []int {
	var out []int
	for _, p := range h.Ports {
		if p.State == "open" {
			out = append(out, p.Number)
		}
	}
	return out
}

// Findings groups hosts by the services the dynamic sequence follows up on.
type Findings struct {
	Hosts []Host   `json:"hosts"`
	Web   []string `json:"web"` // 80 or 443 open
	SSH   []string `json:"ssh"` // 22 open
	FTP   []string `json:"ftp"` // 21 open
}

// ParseXML decodes an nmap XML report.
func ParseXML(r io.Reader) (*Findings, error) {
	var run xmlRun
	if err := xml.NewDecoder(r).Decode(&run); err != nil {
		return nil, fmt.Errorf("decode nmap xml: %w", err)
	}

	f := &Findings{}
	for _, xh := range run.Hosts {
		addr := hostAddr(xh.Addresses)
		if addr == "" {
			continue
		}
		h := Host{Addr: addr, Up: xh.Status.State == "" || xh.Status.State == "up"}
		for _, xp := range xh.Ports {
			h.Ports = append(h.Ports, Port{
				Number:   xp.PortID,
				Protocol: xp.Protocol,
				State:    xp.State.State,
				Service:  xp.Service.Name,
				Product:  xp.Service.Product,
			})
		}
		f.Hosts = append(f.Hosts, h)

		open := h.OpenPorts()
		if slices.Contains(open, 80) || slices.Contains(open, 443) {
			f.Web = append(f.Web, addr)
		}
		if slices.Contains(open, 22) {
			f.SSH = append(f.SSH, addr)
		}
		if slices.Contains(open, 21) {
			f.FTP = append(f.FTP, addr)
		}
	}
	return f, nil
}

// ParseFile decodes the report at path.
func ParseFile(path string) (*Findings, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open nmap report: %w", err)
	}
	defer fh.Close()
	return ParseXML(fh)
}

// hostAddr prefers an IP address over a MAC address.
func hostAddr(addrs []xmlAddress) string {
	for _, a := range addrs {
		if a.AddrType == "ipv4" || a.AddrType == "ipv6" {
			return a.Addr
		}
	}
	if len(addrs) > 0 && addrs[0].AddrType != "mac" {
		return addrs[0].Addr
	}
	return ""
}
