package service

import (
	"fmt"
	"net"

	"github.com/devrev/pairdb/interdc-node/internal/config"
)

// PublicAddress returns the node's publicly reachable publish endpoint:
// the IP from the node-address file paired with the configured pub/sub
// port. Peer DCs use it to subscribe.
func (p *PublisherService) PublicAddress() (net.IP, int, error) {
	path := p.config.NodeAddressPath
	if path == "" {
		path = config.DefaultNodeAddressPath
	}

	ip, err := config.LoadPublicIP(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve public address: %w", err)
	}
	return ip, p.config.Port, nil
}

// BroadcastAddresses derives the list of broadcast-capable local
// addresses from the host's interfaces, excluding loopback. It is a
// fallback for deployments without an explicit node-address file.
func (p *PublisherService) BroadcastAddresses() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if v4 := ipNet.IP.To4(); v4 != nil {
				ips = append(ips, v4)
			}
		}
	}

	return ips, nil
}
