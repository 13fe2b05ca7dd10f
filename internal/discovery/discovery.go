package discovery

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/pkg/errors"
)

// massServiceType is the mDNS service Music Assistant servers announce.
const massServiceType = "_mass._tcp"

var ErrNoServerFound = errors.New("discovery: no server found on the local network")

// mdnsQuery is stubbed in tests.
var mdnsQuery = mdns.Query

// ServerEntry is one announced server.
type ServerEntry struct {
	Name    string
	BaseURL string
}

// FindServers runs a single mDNS sweep and returns every Music
// Assistant server that answered within the timeout.
func FindServers(timeout time.Duration) ([]ServerEntry, error) {
	entriesCh := make(chan *mdns.ServiceEntry, 64)
	doneCh := make(chan struct{})

	var (
		mu      sync.Mutex
		servers []ServerEntry
		seen    = make(map[string]bool)
	)

	go func() {
		defer close(doneCh)
		for entry := range entriesCh {
			srv, ok := serverFromMDNSEntry(entry)
			if !ok {
				continue
			}
			mu.Lock()
			if !seen[srv.BaseURL] {
				seen[srv.BaseURL] = true
				servers = append(servers, srv)
			}
			mu.Unlock()
		}
	}()

	params := mdns.DefaultParams(massServiceType)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true
	params.Logger = log.New(io.Discard, "", 0)
	err := mdnsQuery(params)

	close(entriesCh)
	<-doneCh

	if err != nil {
		return nil, fmt.Errorf("FindServers query error: %w", err)
	}
	if len(servers) == 0 {
		return nil, ErrNoServerFound
	}

	return servers, nil
}

// WaitForServer polls until a server shows up or ctx is cancelled.
// Used on startup when no server URL is configured.
func WaitForServer(ctx context.Context) (ServerEntry, error) {
	for {
		servers, err := FindServers(3 * time.Second)
		if err == nil && len(servers) > 0 {
			return servers[0], nil
		}

		select {
		case <-ctx.Done():
			return ServerEntry{}, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func serverFromMDNSEntry(entry *mdns.ServiceEntry) (ServerEntry, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return ServerEntry{}, false
	}
	if !strings.Contains(entry.Name, "_mass") {
		return ServerEntry{}, false
	}

	name := entry.Name
	if idx := strings.Index(name, "._mass"); idx > 0 {
		name = name[:idx]
	}

	// The TXT record advertises the canonical base URL when the
	// server sits behind a proxy.
	baseURL := fmt.Sprintf("http://%s:%d", entry.AddrV4, entry.Port)
	for _, txt := range entry.InfoFields {
		if after, ok := strings.CutPrefix(txt, "base_url="); ok && after != "" {
			baseURL = after
			break
		}
	}

	return ServerEntry{Name: name, BaseURL: baseURL}, true
}
