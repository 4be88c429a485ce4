package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

// Resolver turns a server host name into an IPv4 literal.
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

// mdnsServices are browsed when a .local host is not resolvable through the
// system resolver. Avahi and Bonjour announce at least one of them for most
// hosts.
var mdnsServices = []string{"_workstation._tcp", "_ssh._tcp", "_srt._udp"}

// SystemResolver uses the system resolver and falls back to mDNS browsing
// for names in the .local domain.
type SystemResolver struct {
	logger      *zap.Logger
	lookup      func(ctx context.Context, network, host string) ([]net.IP, error)
	mdnsTimeout time.Duration
}

func NewSystemResolver(logger *zap.Logger) *SystemResolver {
	return &SystemResolver{
		logger:      logger.Named("resolver"),
		lookup:      net.DefaultResolver.LookupIP,
		mdnsTimeout: 2 * time.Second,
	}
}

func (r *SystemResolver) Resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	ips, err := r.lookup(ctx, "ip4", host)
	if err == nil {
		for _, ip := range ips {
			if v4 := ip.To4(); v4 != nil {
				return v4.String(), nil
			}
		}
		err = errors.New("no IPv4 address")
	}

	if isLocalName(host) {
		addr, mErr := r.resolveMDNS(ctx, host)
		if mErr == nil {
			return addr, nil
		}
		r.logger.Debug("mdns lookup failed", zap.String("host", host), zap.Error(mErr))
	}
	return "", fmt.Errorf("resolve %s: %w", host, err)
}

func isLocalName(host string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSuffix(host, ".")), ".local")
}

func (r *SystemResolver) resolveMDNS(ctx context.Context, host string) (string, error) {
	want := strings.ToLower(strings.TrimSuffix(host, ".")) + "."

	for _, service := range mdnsServices {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		entriesCh := make(chan *mdns.ServiceEntry, 32)
		found := make(chan string, 1)
		go func() {
			var addr string
			for entry := range entriesCh {
				if addr == "" && strings.ToLower(entry.Host) == want && entry.AddrV4 != nil {
					addr = entry.AddrV4.String()
				}
			}
			found <- addr
		}()

		params := &mdns.QueryParam{
			Service:     service,
			Domain:      "local",
			Timeout:     r.mdnsTimeout,
			Entries:     entriesCh,
			DisableIPv6: true,
		}
		if err := mdns.Query(params); err != nil {
			r.logger.Debug("mdns browse error", zap.String("service", service), zap.Error(err))
		}
		close(entriesCh)

		if addr := <-found; addr != "" {
			r.logger.Info("resolved over mdns", zap.String("host", host), zap.String("addr", addr))
			return addr, nil
		}
	}
	return "", fmt.Errorf("%s not announced over mdns", host)
}
