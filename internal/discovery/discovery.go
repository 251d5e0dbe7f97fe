// Package discovery advertises and finds device-session daemons on the
// local network over mDNS / DNS-SD.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// Service is the DNS-SD service type of a device-session daemon.
	Service = "_dectpair._tcp"
	Domain  = "local."

	DefaultBrowseTimeout = 3 * time.Second
)

var ErrNotFound = errors.New("discovery: no device daemon found")

// Daemon is a resolved device-session daemon.
type Daemon struct {
	Instance string
	Host     string
	Port     int
	IPs      []net.IP
	Path     string
	Protocol int
}

// URL is the WebSocket address to dial, preferring IPv4.
func (d Daemon) URL() string {
	host := strings.TrimSuffix(d.Host, ".")
	for _, ip := range d.IPs {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(d.IPs) > 0 {
		host = d.IPs[0].String()
	}
	path := d.Path
	if path == "" {
		path = "/ws"
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(d.Port)) + path
}

// Browser is the mDNS browse call; tests swap in a fake.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Resolver finds daemons.
type Resolver struct {
	browser Browser
	timeout time.Duration
}

// NewResolver returns a resolver over b, or over the system's mDNS
// responder when b is nil. timeout <= 0 means DefaultBrowseTimeout.
func NewResolver(b Browser, timeout time.Duration) (*Resolver, error) {
	if b == nil {
		zr, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("discovery: %w", err)
		}
		b = zr
	}
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	return &Resolver{browser: b, timeout: timeout}, nil
}

// Find returns the first daemon that answers with a usable address.
func (r *Resolver) Find(ctx context.Context) (Daemon, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	errc := make(chan error, 1)
	go func() {
		if err := r.browser.Browse(ctx, Service, Domain, entries); err != nil {
			errc <- err
		}
	}()

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return Daemon{}, ErrNotFound
			}
			if d := entryToDaemon(e); d.Port > 0 && (len(d.IPs) > 0 || d.Host != "") {
				return d, nil
			}
		case err := <-errc:
			return Daemon{}, fmt.Errorf("discovery: browse: %w", err)
		case <-ctx.Done():
			return Daemon{}, ErrNotFound
		}
	}
}

func entryToDaemon(e *zeroconf.ServiceEntry) Daemon {
	d := Daemon{Instance: e.Instance, Host: e.HostName, Port: e.Port}
	d.IPs = append(d.IPs, e.AddrIPv4...)
	d.IPs = append(d.IPs, e.AddrIPv6...)

	txt := ParseTXT(e.Text)
	d.Path = txt["path"]
	if v, err := strconv.Atoi(txt["protocol"]); err == nil {
		d.Protocol = v
	}
	return d
}

// ParseTXT turns key=value TXT records into a map. Records without '='
// map to "".
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		out[strings.ToLower(k)] = v
	}
	return out
}

// Advertisement is a running registration; Shutdown withdraws it.
type Advertisement interface {
	Shutdown()
}

// Advertise registers a daemon listening on port under instance.
func Advertise(instance string, port int, path string, protocol int) (Advertisement, error) {
	txt := []string{"path=" + path, "protocol=" + strconv.Itoa(protocol)}
	srv, err := zeroconf.Register(instance, Service, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register %s: %w", instance, err)
	}
	return srv, nil
}
