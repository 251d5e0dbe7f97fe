package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

type fakeBrowser struct {
	entries []*zeroconf.ServiceEntry
	err     error
}

func (f *fakeBrowser) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	if f.err != nil {
		return f.err
	}
	if service != Service || domain != Domain {
		return errors.New("unexpected service " + service)
	}
	for _, e := range f.entries {
		select {
		case entries <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func entry(instance string, port int, ips []net.IP, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, Service, Domain)
	e.HostName = instance + ".local."
	e.Port = port
	e.AddrIPv4 = ips
	e.Text = txt
	return e
}

func TestFind(t *testing.T) {
	b := &fakeBrowser{entries: []*zeroconf.ServiceEntry{
		entry("no-port", 0, []net.IP{net.ParseIP("10.0.0.9")}),
		entry("dock", 18790, []net.IP{net.ParseIP("10.0.0.5")}, "path=/ws", "protocol=1"),
	}}
	r, err := NewResolver(b, time.Second)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	d, err := r.Find(context.Background())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if d.Instance != "dock" || d.Protocol != 1 {
		t.Errorf("daemon = %+v", d)
	}
	if got, want := d.URL(), "ws://10.0.0.5:18790/ws"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestFind_NothingAnswers(t *testing.T) {
	r, _ := NewResolver(&fakeBrowser{}, 30*time.Millisecond)
	if _, err := r.Find(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFind_BrowseError(t *testing.T) {
	boom := errors.New("no multicast")
	r, _ := NewResolver(&fakeBrowser{err: boom}, time.Second)
	if _, err := r.Find(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want browse error", err)
	}
}

func TestDaemonURL(t *testing.T) {
	tests := []struct {
		d    Daemon
		want string
	}{
		{Daemon{Host: "dock.local.", Port: 9000}, "ws://dock.local:9000/ws"},
		{Daemon{Port: 9000, IPs: []net.IP{net.ParseIP("fe80::1"), net.ParseIP("192.168.1.4")}, Path: "/dect"}, "ws://192.168.1.4:9000/dect"},
		{Daemon{Port: 9000, IPs: []net.IP{net.ParseIP("fe80::1")}}, "ws://[fe80::1]:9000/ws"},
	}
	for _, tt := range tests {
		if got := tt.d.URL(); got != tt.want {
			t.Errorf("URL(%+v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseTXT(t *testing.T) {
	got := ParseTXT([]string{"Path=/ws", "flag", "k=a=b"})
	if got["path"] != "/ws" || got["k"] != "a=b" {
		t.Errorf("ParseTXT = %v", got)
	}
	if v, ok := got["flag"]; !ok || v != "" {
		t.Errorf("bare record = %q, %v", v, ok)
	}
}
