package kvm

import (
	"os"
	"testing"
)

func TestGetDHCPLeaseForMAC(t *testing.T) {
	socketPath := "/var/run/libvirt/libvirt-sock"
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		t.Skip("Skipping GetDHCPLeaseForMAC test: libvirt socket not found")
	}

	vir, err := Connect(socketPath)
	if err != nil {
		t.Skipf("Could not connect to libvirt: %v", err)
	}
	defer Disconnect(vir)

	t.Run("unknown network", func(t *testing.T) {
		if _, err := GetDHCPLeaseForMAC(vir, "forgecore-nonexistent-network", "52:54:00:12:34:56"); err == nil {
			t.Errorf("expected an error looking up a nonexistent network")
		}
	})

	t.Run("unknown MAC on default network", func(t *testing.T) {
		lease, err := GetDHCPLeaseForMAC(vir, "default", "52:54:00:ff:ff:ff")
		if err != nil {
			t.Skipf("default network not available: %v", err)
		}
		if lease != "" {
			t.Errorf("expected no lease for an unused MAC, got %q", lease)
		}
	})
}
