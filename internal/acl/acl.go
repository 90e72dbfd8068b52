// Package acl restricts which peers the daemon will accept control
// messages from. It is policy, not protocol: internal/daemon checks it
// before decoding each control message, while the shim's send/receive
// state machine in internal/shim does not consult it.
package acl

import (
	"net"
	"sync"
)

// ACL is an access control list of peer networks, evaluated deny list
// first, then allow list, then a default policy.
type ACL struct {
	mu           sync.RWMutex
	allowedNets  []*net.IPNet
	deniedNets   []*net.IPNet
	defaultAllow bool
}

// New creates an ACL with the given default policy: if defaultAllow is
// true, peers are admitted unless explicitly denied; if false, peers
// are rejected unless explicitly allowed.
func New(defaultAllow bool) *ACL {
	return &ACL{
		defaultAllow: defaultAllow,
		allowedNets:  make([]*net.IPNet, 0),
		deniedNets:   make([]*net.IPNet, 0),
	}
}

func parseNet(cidr string) (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err == nil {
		return ipnet, nil
	}
	ip := net.ParseIP(cidr)
	if ip == nil {
		return nil, err
	}
	if ip.To4() != nil {
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}

// AllowNet adds a network or single address, in CIDR notation or bare
// IP form, to the allow list.
func (a *ACL) AllowNet(cidr string) error {
	ipnet, err := parseNet(cidr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowedNets = append(a.allowedNets, ipnet)
	return nil
}

// DenyNet adds a network or single address to the deny list.
func (a *ACL) DenyNet(cidr string) error {
	ipnet, err := parseNet(cidr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deniedNets = append(a.deniedNets, ipnet)
	return nil
}

// IsAllowed reports whether ip is admitted by the ACL.
func (a *ACL) IsAllowed(ip net.IP) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, denied := range a.deniedNets {
		if denied.Contains(ip) {
			return false
		}
	}
	for _, allowed := range a.allowedNets {
		if allowed.Contains(ip) {
			return true
		}
	}
	return a.defaultAllow
}

// Clear removes every allow/deny entry, leaving only the default
// policy in effect.
func (a *ACL) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowedNets = a.allowedNets[:0]
	a.deniedNets = a.deniedNets[:0]
}
