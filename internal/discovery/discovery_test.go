package discovery

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func stubQuery(t *testing.T, entries []*mdns.ServiceEntry, err error) {
	t.Helper()

	orig := mdnsQuery
	t.Cleanup(func() {
		mdnsQuery = orig
	})

	mdnsQuery = func(params *mdns.QueryParam) error {
		for _, e := range entries {
			params.Entries <- e
		}
		return err
	}
}

func TestFindServersParsesAnnouncements(t *testing.T) {
	stubQuery(t, []*mdns.ServiceEntry{
		{
			Name:   "mass-server-1._mass._tcp.local.",
			AddrV4: net.IPv4(192, 168, 1, 10),
			Port:   8095,
		},
	}, nil)

	servers, err := FindServers(time.Second)
	if err != nil {
		t.Fatalf("FindServers() err = %v, want nil", err)
	}

	if len(servers) != 1 {
		t.Fatalf("FindServers() len = %d, want 1", len(servers))
	}
	if servers[0].Name != "mass-server-1" {
		t.Fatalf("FindServers() name = %q, want %q", servers[0].Name, "mass-server-1")
	}
	if servers[0].BaseURL != "http://192.168.1.10:8095" {
		t.Fatalf("FindServers() base url = %q, want address form", servers[0].BaseURL)
	}
}

func TestFindServersHonorsTXTBaseURL(t *testing.T) {
	stubQuery(t, []*mdns.ServiceEntry{
		{
			Name:       "mass-server-1._mass._tcp.local.",
			AddrV4:     net.IPv4(192, 168, 1, 10),
			Port:       8095,
			InfoFields: []string{"base_url=https://music.example.org"},
		},
	}, nil)

	servers, err := FindServers(time.Second)
	if err != nil {
		t.Fatalf("FindServers() err = %v, want nil", err)
	}

	if servers[0].BaseURL != "https://music.example.org" {
		t.Fatalf("FindServers() base url = %q, want TXT override", servers[0].BaseURL)
	}
}

func TestFindServersDeduplicates(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:   "mass-server-1._mass._tcp.local.",
		AddrV4: net.IPv4(192, 168, 1, 10),
		Port:   8095,
	}
	stubQuery(t, []*mdns.ServiceEntry{entry, entry, entry}, nil)

	servers, err := FindServers(time.Second)
	if err != nil {
		t.Fatalf("FindServers() err = %v, want nil", err)
	}
	if len(servers) != 1 {
		t.Fatalf("FindServers() len = %d, want 1", len(servers))
	}
}

func TestFindServersNoAnswers(t *testing.T) {
	stubQuery(t, nil, nil)

	_, err := FindServers(time.Second)
	if !errors.Is(err, ErrNoServerFound) {
		t.Fatalf("FindServers() err = %v, want %v", err, ErrNoServerFound)
	}
}

func TestFindServersSkipsForeignServices(t *testing.T) {
	stubQuery(t, []*mdns.ServiceEntry{
		{
			Name:   "printer._ipp._tcp.local.",
			AddrV4: net.IPv4(192, 168, 1, 20),
			Port:   631,
		},
	}, nil)

	_, err := FindServers(time.Second)
	if !errors.Is(err, ErrNoServerFound) {
		t.Fatalf("FindServers() err = %v, want %v", err, ErrNoServerFound)
	}
}
