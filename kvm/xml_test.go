package kvm

import (
	"strings"
	"testing"
)

func TestExtractMACFromXML(t *testing.T) {
	tests := []struct {
		name     string
		xmlInput string
		expected string
	}{
		{
			name: "Standard MAC with single quotes",
			xmlInput: `<domain type="kvm">
  <devices>
    <interface type="network">
      <mac address='52:54:00:12:34:56'/>
      <source network="default"/>
    </interface>
  </devices>
</domain>`,
			expected: "52:54:00:12:34:56",
		},
		{
			name: "Standard MAC with double quotes",
			xmlInput: `<domain type="kvm">
  <devices>
    <interface type="network">
      <mac address="52:54:00:aa:bb:cc"/>
      <source network="default"/>
    </interface>
  </devices>
</domain>`,
			expected: "52:54:00:aa:bb:cc",
		},
		{
			name:     "MAC on single line",
			xmlInput: `<mac address="52:54:00:de:ad:be"/>`,
			expected: "52:54:00:de:ad:be",
		},
		{
			name:     "No MAC address (network-isolated domain)",
			xmlInput: `<domain><devices><disk type="file" device="disk"/></devices></domain>`,
			expected: "",
		},
		{
			name:     "Empty string",
			xmlInput: "",
			expected: "",
		},
		{
			name:     "Invalid XML",
			xmlInput: "not xml at all",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractMACFromXML(tt.xmlInput)
			if result != tt.expected {
				t.Errorf("ExtractMACFromXML() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestGenerateDomainXML(t *testing.T) {
	t.Run("Network-isolated domain has no interface", func(t *testing.T) {
		cfg := DomainXMLConfig{
			Name:      "test-vm",
			MemoryKiB: 2097152,
			VCPUs:     2,
			ImagePath: "/var/lib/libvirt/images/test.qcow2",
		}

		xml := GenerateDomainXML(cfg)

		expectedStrings := []string{
			"<domain type=\"kvm\">",
			"<name>test-vm</name>",
			"<memory unit=\"KiB\">2097152</memory>",
			"<vcpu placement=\"static\">2</vcpu>",
			"/var/lib/libvirt/images/test.qcow2",
		}
		for _, expected := range expectedStrings {
			if !strings.Contains(xml, expected) {
				t.Errorf("Generated XML missing expected string: %q", expected)
			}
		}
		if strings.Contains(xml, "<interface") {
			t.Errorf("Network-isolated domain should not declare an interface device")
		}
		if ExtractMACFromXML(xml) != "" {
			t.Errorf("Network-isolated domain should have no extractable MAC")
		}
	})

	t.Run("Default values applied", func(t *testing.T) {
		cfg := DomainXMLConfig{
			Name:      "minimal-vm",
			ImagePath: "/path/to/image.qcow2",
		}

		xml := GenerateDomainXML(cfg)

		if !strings.Contains(xml, "<memory unit=\"KiB\">2097152</memory>") {
			t.Errorf("Expected default memory (2097152 KiB) not found")
		}
		if !strings.Contains(xml, "<vcpu placement=\"static\">2</vcpu>") {
			t.Errorf("Expected default VCPUs (2) not found")
		}
	})

	t.Run("Network-enabled domain attaches an interface", func(t *testing.T) {
		cfg := DomainXMLConfig{
			Name:           "networked-vm",
			ImagePath:      "/path/to/image.qcow2",
			NetworkEnabled: true,
			NetworkName:    "br0",
		}

		xml := GenerateDomainXML(cfg)

		if !strings.Contains(xml, "<interface type=\"network\">") {
			t.Errorf("Expected an interface device when NetworkEnabled is true")
		}
		if !strings.Contains(xml, "<source network=\"br0\"/>") {
			t.Errorf("Expected custom network (br0) not found")
		}
	})

	t.Run("Custom resource allocation", func(t *testing.T) {
		cfg := DomainXMLConfig{
			Name:      "custom-vm",
			MemoryKiB: 8388608, // 8GB
			VCPUs:     8,
			ImagePath: "/path/to/image.qcow2",
		}

		xml := GenerateDomainXML(cfg)

		if !strings.Contains(xml, "<memory unit=\"KiB\">8388608</memory>") {
			t.Errorf("Expected custom memory (8388608 KiB) not found")
		}
		if !strings.Contains(xml, "<vcpu placement=\"static\">8</vcpu>") {
			t.Errorf("Expected custom VCPUs (8) not found")
		}
	})

	t.Run("Required XML structure elements", func(t *testing.T) {
		cfg := DomainXMLConfig{
			Name:      "structure-test",
			ImagePath: "/image.qcow2",
		}

		xml := GenerateDomainXML(cfg)

		requiredElements := []string{
			"<?xml version='1.0'?>",
			"<domain type=\"kvm\">",
			"<os>",
			"<type arch=\"x86_64\"",
			"<features>",
			"<acpi/>",
			"<apic/>",
			"<cpu mode=\"host-passthrough\"",
			"<clock offset=\"utc\"/>",
			"<devices>",
			"<emulator>/usr/bin/qemu-system-x86_64</emulator>",
			"<disk type=\"file\" device=\"disk\">",
			"<driver name=\"qemu\" type=\"qcow2\"",
			"<memballoon model=\"virtio\"/>",
			"</domain>",
		}

		for _, elem := range requiredElements {
			if !strings.Contains(xml, elem) {
				t.Errorf("Required XML element missing: %q", elem)
			}
		}
	})

	t.Run("Disk configuration", func(t *testing.T) {
		cfg := DomainXMLConfig{
			Name:      "disk-test",
			ImagePath: "/custom/path/disk.qcow2",
		}

		xml := GenerateDomainXML(cfg)

		if !strings.Contains(xml, "<source file=\"/custom/path/disk.qcow2\"/>") {
			t.Errorf("Main disk path not found in XML")
		}
		if !strings.Contains(xml, "<target dev=\"vda\" bus=\"virtio\"/>") {
			t.Errorf("Main disk target not found in XML")
		}
	})

	t.Run("VM name in XML", func(t *testing.T) {
		names := []string{
			"simple",
			"with-dashes",
			"with_underscores",
			"MixedCase123",
		}

		for _, name := range names {
			cfg := DomainXMLConfig{Name: name, ImagePath: "/image.qcow2"}
			xml := GenerateDomainXML(cfg)

			expectedTag := "<name>" + name + "</name>"
			if !strings.Contains(xml, expectedTag) {
				t.Errorf("Expected name tag %q not found in XML", expectedTag)
			}
		}
	})

	t.Run("XML is well-formed", func(t *testing.T) {
		cfg := DomainXMLConfig{Name: "wellformed-test", ImagePath: "/image.qcow2"}
		xml := GenerateDomainXML(cfg)

		if !strings.HasPrefix(strings.TrimSpace(xml), "<?xml version='1.0'?>") {
			t.Errorf("XML doesn't start with XML declaration")
		}
		if !strings.HasSuffix(strings.TrimSpace(xml), "</domain>") {
			t.Errorf("XML doesn't end with </domain>")
		}

		openTags := strings.Count(xml, "<")
		closeTags := strings.Count(xml, ">")
		if openTags != closeTags {
			t.Errorf("Mismatched tag count: %d open, %d close", openTags, closeTags)
		}
	})
}

func BenchmarkExtractMACFromXML(b *testing.B) {
	xmlInput := `<domain type="kvm">
  <devices>
    <interface type="network">
      <mac address="52:54:00:12:34:56"/>
      <source network="default"/>
    </interface>
  </devices>
</domain>`

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ExtractMACFromXML(xmlInput)
	}
}

func BenchmarkGenerateDomainXML(b *testing.B) {
	cfg := DomainXMLConfig{
		Name:      "benchmark-vm",
		MemoryKiB: 2097152,
		VCPUs:     2,
		ImagePath: "/var/lib/libvirt/images/test.qcow2",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		GenerateDomainXML(cfg)
	}
}
