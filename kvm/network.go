package kvm

import (
	"strings"

	libvirt "github.com/digitalocean/go-libvirt"
)

// GetDHCPLeaseForMAC looks up the IP a libvirt network has leased to a MAC
// address. The vm sandbox backend uses this to surface a network-isolation
// violation: an action with NetworkOff set should never acquire a lease.
func GetDHCPLeaseForMAC(vir *libvirt.Libvirt, networkName, macAddress string) (string, error) {
	network, err := vir.NetworkLookupByName(networkName)
	if err != nil {
		return "", err
	}

	leases, _, err := vir.NetworkGetDhcpLeases(network, libvirt.OptString{}, 0, 0)
	if err != nil {
		return "", err
	}

	for _, lease := range leases {
		for _, leaseMac := range lease.Mac {
			if leaseMac != "" && strings.EqualFold(leaseMac, macAddress) {
				return lease.Ipaddr, nil
			}
		}
	}

	return "", nil // not found
}
