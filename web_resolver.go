package cfddns

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	DefaultIPv4Services = []string{"https://ipinfo.io/ip"}
	DefaultIPv6Services = []string{"https://ifconfig.me/ip"}
)

// WebResolver constructs a resolver which asks external echo services for the public address of one family.
//
// recordType is A or AAAA. Unless a client is supplied with UsingHTTPClient,
// requests only dial tcp4 for A and tcp6 for AAAA,
// so a dual-stack host gets the address of the family it asked for.
//
// Each serviceURL must speak http and return status "200 OK",
// with a valid IPv4 or IPv6 address as the first line of the response body.
// All other responses are considered an error.
//
// If only one serviceURL is given,
// then the resolver will simply return the response.
// If multiple are given,
// then the resolver will request from up to three of them and only return successfully if the first two non-error responses agreed on the IP.
func WebResolver(recordType string, serviceURL ...string) (Resolver, error) {
	var network string
	switch recordType {
	case TypeA:
		network = "tcp4"
	case TypeAAAA:
		network = "tcp6"
	default:
		return nil, fmt.Errorf("unsupported record type %q", recordType)
	}
	var URLs []*url.URL
	for _, u := range serviceURL {
		pu, err := url.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("error parsing URL: %w", err)
		}
		URLs = append(URLs, pu)
	}
	return &webResolver{serviceURLs: URLs, network: network}, nil
}

type webResolver struct {
	httpClient  *http.Client
	serviceURLs []*url.URL
	network     string
}

func (wr *webResolver) SetHTTPClient(c *http.Client) { wr.httpClient = c }

// Resolve implements Resolver.
func (wr *webResolver) Resolve(ctx context.Context) ([]netip.Addr, error) {
	// Only returns a nil error if the first two non-error responses had matching IPs,
	// which keeps a single misbehaving service from pointing the records elsewhere.
	if len(wr.serviceURLs) == 0 {
		return nil, errors.New("no external IP lookup services were provided")
	}
	hc := wr.client()
	if wr.httpClient == nil {
		defer hc.CloseIdleConnections()
	}
	if len(wr.serviceURLs) == 1 {
		ip, err := lookup(ctx, hc, wr.serviceURLs[0])
		if err != nil {
			return nil, err
		}
		return []netip.Addr{ip}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		addr netip.Addr
		err  error
	}

	const useCount = 3
	n := useCount
	if len(wr.serviceURLs) < n {
		n = len(wr.serviceURLs)
	}
	results := make(chan result, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		u := wr.serviceURLs[i]
		go func() {
			defer wg.Done()
			r := result{}
			r.addr, r.err = lookup(ctx, hc, u)
			results <- r
		}()
	}
	go func() { wg.Wait(); close(results) }()

	resultCount := 0
	var errs []error
	var ip netip.Addr
	for r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		resultCount++
		if !ip.IsValid() {
			ip = r.addr
			continue
		}
		if ip == r.addr {
			return []netip.Addr{ip}, nil
		}
		// the first two answers disagreed; a third cannot settle it
		return nil, fmt.Errorf("IP resolvers did not agree on our IP: got %s and %s", ip, r.addr)
	}
	if resultCount < 2 {
		return nil, fmt.Errorf("not enough resolvers responded without errors: %w", errors.Join(errs...))
	}
	return nil, errors.New("IP resolvers did not agree on our IP")
}

func (wr *webResolver) client() *http.Client {
	if wr.httpClient != nil {
		return wr.httpClient
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	network := wr.network
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, addr)
	}
	return &http.Client{Transport: transport}
}

func lookup(ctx context.Context, hc *http.Client, u *url.URL) (netip.Addr, error) {
	// bounds the call even when the caller passes context.Background and a client without a timeout
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := hc.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request to %s failed: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("http request to %s returned %s", u.Host, resp.Status)
	}

	ipstring, _ := bufio.NewReader(resp.Body).ReadString('\n')
	ip, err := netip.ParseAddr(strings.TrimSpace(ipstring))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from %s response body: %w", u.Host, err)
	}
	return ip.Unmap(), nil
}
