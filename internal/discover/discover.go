// Package discover scans a local subnet for Spark nodes with an open
// SSH port, to suggest peer hostnames during configuration.
package discover

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Node is a discovered SSH-reachable address.
type Node struct {
	Address string
	Port    int
}

// Scan probes every usable host address in the CIDR range for an open
// TCP port. Network and broadcast addresses are skipped for IPv4
// ranges. Dials run concurrently, bounded by limit; the scan as a whole
// honors ctx.
func Scan(ctx context.Context, cidr string, port, limit int, timeout time.Duration) ([]Node, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	if limit < 1 {
		limit = 64
	}

	ips := enumerateHosts(network)
	if len(ips) == 0 {
		return nil, nil
	}

	var (
		mu    sync.Mutex
		found []Node
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, ip := range ips {
		addr := ip
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			target := net.JoinHostPort(addr.String(), fmt.Sprintf("%d", port))
			d := net.Dialer{Timeout: timeout}
			conn, dialErr := d.DialContext(ctx, "tcp", target)
			if dialErr != nil {
				return nil // closed or filtered, not an error
			}
			conn.Close()

			mu.Lock()
			found = append(found, Node{Address: addr.String(), Port: port})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool {
		ipA := net.ParseIP(found[i].Address).To4()
		ipB := net.ParseIP(found[j].Address).To4()
		if ipA != nil && ipB != nil {
			return binary.BigEndian.Uint32(ipA) < binary.BigEndian.Uint32(ipB)
		}
		return found[i].Address < found[j].Address
	})

	return found, nil
}

// enumerateHosts returns all usable host IPs in the network. IPv4 only;
// for ranges larger than /31 the network and broadcast addresses are
// skipped, and /31 keeps both per RFC 3021.
func enumerateHosts(network *net.IPNet) []net.IP {
	ip := network.IP.To4()
	if ip == nil {
		return nil
	}

	ones, bits := network.Mask.Size()
	if bits != 32 {
		return nil
	}

	if ones == 32 {
		single := make(net.IP, 4)
		copy(single, ip)
		return []net.IP{single}
	}

	start := binary.BigEndian.Uint32(ip)
	size := uint32(1) << uint(bits-ones)

	first, last := uint32(1), size-1
	if ones == 31 {
		first, last = 0, size
	}

	hosts := make([]net.IP, 0, last-first)
	for i := first; i < last; i++ {
		addr := make(net.IP, 4)
		binary.BigEndian.PutUint32(addr, start+i)
		hosts = append(hosts, addr)
	}
	return hosts
}
