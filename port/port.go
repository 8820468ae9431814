// Package port enumerates the serial endpoints a modem may be attached to
// and orders them by how likely they are to carry the AT interface.
package port

import (
	"cmp"
	"iter"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Kind is the coarse type of a serial endpoint, derived from its name and
// USB metadata.
type Kind int

const (
	Serial Kind = iota
	USBSerial
	ACM
	UART
)

func (k Kind) String() string {
	switch k {
	case USBSerial:
		return "usb-serial"
	case ACM:
		return "cdc-acm"
	case UART:
		return "uart"
	default:
		return "serial"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Endpoint is one serial device as reported by the operating system.
// Metadata fields are empty when the platform does not provide them.
type Endpoint struct {
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	Description  string `json:"description,omitempty"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// Source returns the endpoints currently present on the system. It is a
// variable so tests can replace the OS query.
type Source func() ([]Endpoint, error)

// System queries the OS through go.bug.st/serial. Detailed USB metadata is
// used when available, the plain port list otherwise.
var System Source = func() ([]Endpoint, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		endpoints := make([]Endpoint, 0, len(details))
		for _, d := range details {
			e := Endpoint{Name: d.Name, Kind: kindOf(d.Name)}
			if d.IsUSB {
				e.Description = d.Product
				e.VendorID = d.VID
				e.ProductID = d.PID
				e.SerialNumber = d.SerialNumber
				if e.Kind == Serial {
					e.Kind = USBSerial
				}
			}
			endpoints = append(endpoints, e)
		}
		return endpoints, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	endpoints := make([]Endpoint, 0, len(names))
	for _, name := range names {
		endpoints = append(endpoints, Endpoint{Name: name, Kind: kindOf(name)})
	}
	return endpoints, nil
}

// List returns the endpoints of src in platform order. The sequence is
// lazy and restartable: every iteration queries src again. A failing query
// yields an empty sequence, so callers can fall back to manual entry.
func List(src Source) iter.Seq[Endpoint] {
	if src == nil {
		src = System
	}
	return func(yield func(Endpoint) bool) {
		endpoints, err := src()
		if err != nil {
			return
		}
		for _, e := range endpoints {
			if !yield(e) {
				return
			}
		}
	}
}

// Exclude drops endpoints named in deny. An entry matches either the full
// path or its base name, so "ttyUSB0" and "/dev/ttyUSB0" are equivalent.
func Exclude(seq iter.Seq[Endpoint], deny []string) iter.Seq[Endpoint] {
	denied := make(map[string]struct{}, len(deny))
	for _, d := range deny {
		if d = strings.TrimSpace(d); d != "" {
			denied[d] = struct{}{}
		}
	}
	return func(yield func(Endpoint) bool) {
		for e := range seq {
			if _, ok := denied[e.Name]; ok {
				continue
			}
			if _, ok := denied[filepath.Base(e.Name)]; ok {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// ParseDenylist splits a comma separated list of endpoint identifiers.
func ParseDenylist(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

var usbNumber = regexp.MustCompile(`^ttyUSB(\d+)$`)

// Rank orders endpoints for probing. USB serial adapters exposing several
// interfaces usually put the AT port last, so a higher ttyUSB number ranks
// first. Lower rank probes earlier; every other endpoint shares rank 0.
func Rank(e Endpoint) int {
	m := usbNumber.FindStringSubmatch(filepath.Base(e.Name))
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return -(n + 1)
}

// SortByPriority returns endpoints ordered by Rank. Endpoints of equal rank
// keep their enumeration order.
func SortByPriority(endpoints []Endpoint) []Endpoint {
	out := slices.Clone(endpoints)
	slices.SortStableFunc(out, func(a, b Endpoint) int {
		return cmp.Compare(Rank(a), Rank(b))
	})
	return out
}

func kindOf(name string) Kind {
	base := filepath.Base(name)
	switch {
	case strings.HasPrefix(base, "ttyUSB"), strings.HasPrefix(base, "cu.usbserial"), strings.HasPrefix(base, "tty.usbserial"):
		return USBSerial
	case strings.HasPrefix(base, "ttyACM"), strings.HasPrefix(base, "cu.usbmodem"), strings.HasPrefix(base, "tty.usbmodem"):
		return ACM
	case strings.HasPrefix(base, "ttyAMA"), strings.HasPrefix(base, "ttyTHS"), strings.HasPrefix(base, "ttyS"), strings.HasPrefix(base, "serial"):
		return UART
	default:
		return Serial
	}
}
