package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are servers to be queried if a local lookup fails
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

const (
	localTimeout  = 1 * time.Second
	remoteTimeout = 2 * time.Second
)

// Resolver resolves relay hostnames, falling back to public DNS servers
// when the system resolver fails.
type Resolver struct {
	// Servers overrides the public fallback list.
	Servers []string
}

// Lookup resolves a hostname to an IP address. IP literals are returned as is.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	// 1. Try Local/System DNS first
	ip, err := lookupWith(ctx, &net.Resolver{}, host, localTimeout)
	if err == nil {
		return ip, nil
	}

	// 2. Fallback to public DNS
	return r.race(ctx, host)
}

// DialContext dials addr after resolving its host with Lookup.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

// race queries all public servers at once and returns the first answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	servers := r.Servers
	if len(servers) == 0 {
		servers = publicDNS
	}

	type result struct {
		ip  string
		err error
	}

	results := make(chan result, len(servers))
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	for _, server := range servers {
		go func() {
			ip, err := lookupWith(ctx, viaServer(server), host, remoteTimeout)
			results <- result{ip: ip, err: err}
		}()
	}

	failures := 0
	for range servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("dns lookup for %s timed out during public DNS race", host)
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

func viaServer(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
}

func lookupWith(ctx context.Context, r *net.Resolver, host string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}

	// Prefer IPv4
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
