package kvm

import (
	"fmt"
	"strings"
)

// DomainXMLConfig holds the parameters needed to define an ephemeral,
// single-action libvirt domain. There is deliberately no cloud-init or SSH
// provisioning here: the domain boots straight off ImagePath, which the vm
// sandbox backend prepares from the action's declared inputs, and it is
// destroyed+undefined once the action completes.
type DomainXMLConfig struct {
	Name           string
	MemoryKiB      int
	VCPUs          int
	ImagePath      string
	NetworkEnabled bool   // false omits the interface device entirely (hard network isolation)
	NetworkName    string // libvirt network to attach to when NetworkEnabled
}

// GenerateDomainXML creates a KVM domain XML definition for one action.
func GenerateDomainXML(cfg DomainXMLConfig) string {
	if cfg.MemoryKiB == 0 {
		cfg.MemoryKiB = 2097152 // 2GB default
	}
	if cfg.VCPUs == 0 {
		cfg.VCPUs = 2
	}
	if cfg.NetworkName == "" {
		cfg.NetworkName = "default"
	}

	iface := ""
	if cfg.NetworkEnabled {
		iface = fmt.Sprintf(`
    <interface type="network">
      <source network="%s"/>
      <model type="virtio"/>
    </interface>`, cfg.NetworkName)
	}

	return fmt.Sprintf(`<?xml version='1.0'?>
<domain type="kvm">
  <name>%s</name>
  <memory unit="KiB">%d</memory>
  <currentMemory unit="KiB">%d</currentMemory>
  <vcpu placement="static">%d</vcpu>
  <os>
    <type arch="x86_64" machine="pc-q35-9.2">hvm</type>
    <boot dev="hd"/>
  </os>
  <features><acpi/><apic/></features>
  <cpu mode="host-passthrough" check="none" migratable="on"/>
  <clock offset="utc"/>
  <on_poweroff>destroy</on_poweroff>
  <on_reboot>restart</on_reboot>
  <devices>
    <emulator>/usr/bin/qemu-system-x86_64</emulator>
    <disk type="file" device="disk">
      <driver name="qemu" type="qcow2" discard="unmap"/>
      <source file="%s"/>
      <target dev="vda" bus="virtio"/>
    </disk>%s
    <controller type="virtio-serial" index="0"/>
    <memballoon model="virtio"/>
    <rng model="virtio">
      <backend model="random">/dev/urandom</backend>
    </rng>
  </devices>
</domain>`, cfg.Name, cfg.MemoryKiB, cfg.MemoryKiB, cfg.VCPUs, cfg.ImagePath, iface)
}

// ExtractMACFromXML parses the first interface MAC address out of a domain
// XML description, used by the vm sandbox backend to confirm a
// network-isolated action's domain attached no interface at all (§4.9
// network-isolation assertion).
func ExtractMACFromXML(xmlStr string) string {
	lines := strings.Split(xmlStr, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "<mac address=") {
			start := strings.Index(line, "'")
			if start == -1 {
				start = strings.Index(line, "\"")
			}
			if start != -1 {
				end := strings.Index(line[start+1:], "'")
				if end == -1 {
					end = strings.Index(line[start+1:], "\"")
				}
				if end != -1 {
					return line[start+1 : start+1+end]
				}
			}
		}
	}
	return ""
}
