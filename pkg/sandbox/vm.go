package sandbox

import (
	"fmt"
	"time"

	libvirt "github.com/digitalocean/go-libvirt"

	"github.com/forgecore/forgecore/kvm"
	"github.com/forgecore/forgecore/pkg/ferr"
)

// vmBackend serves platform properties that request pool=vm: its monitor
// defines and starts an ephemeral libvirt domain from spec.VMImagePath for
// each action and destroys+undefines it in Stop. The action's command
// itself is not run in that domain: Executor.Run starts it as a host
// subprocess, as for every backend.
type vmBackend struct {
	defaultSocket string
}

func NewVMBackend(defaultSocket string) Backend { return &vmBackend{defaultSocket: defaultSocket} }

func (*vmBackend) Name() Pool { return PoolVM }

func (b *vmBackend) NewMonitor(spec *SandboxSpec) (ResourceMonitor, error) {
	if spec.VMImagePath == "" {
		return nil, ferr.New(ferr.KindConfig, "sandbox.vmBackend.NewMonitor", spec.ActionID.Hex(), nil).
			WithRemedy("platform properties must declare a vm-image for pool=vm")
	}
	socket := spec.LibvirtSocket
	if socket == "" {
		socket = b.defaultSocket
	}
	return &vmMonitor{spec: spec, socket: socket}, nil
}

type vmMonitor struct {
	spec   *SandboxSpec
	socket string

	vir       *libvirt.Libvirt
	domain    libvirt.Domain
	name      string
	start     time.Time
	lastState string // human-readable domain state observed at Stop, for violation context
}

func (m *vmMonitor) Start() error {
	vir, err := kvm.Connect(m.socket)
	if err != nil {
		return ferr.New(ferr.KindNetwork, "sandbox.vmMonitor.Start", m.socket, err)
	}
	m.vir = vir
	m.name = fmt.Sprintf("forgecore-%s", m.spec.ActionID.Hex()[:16])

	if !kvm.IsValidVMName(m.name) {
		return ferr.New(ferr.KindConfig, "sandbox.vmMonitor.Start", m.name, nil)
	}

	xml := kvm.GenerateDomainXML(kvm.DomainXMLConfig{
		Name:           m.name,
		ImagePath:      m.spec.VMImagePath,
		MemoryKiB:      int(m.spec.Limits.MaxMemoryBytes / 1024),
		VCPUs:          int(m.spec.Limits.CPUShares),
		NetworkEnabled: !m.spec.NetworkOff,
	})

	dom, err := m.vir.DomainDefineXML(xml)
	if err != nil {
		return ferr.New(ferr.KindExecution, "sandbox.vmMonitor.Start", m.name, err)
	}
	m.domain = dom

	if err := m.vir.DomainCreate(dom); err != nil {
		return ferr.New(ferr.KindExecution, "sandbox.vmMonitor.Start", m.name, err)
	}
	m.start = time.Now()
	return nil
}

// AddProcess is a no-op for the vm backend: the action's local PID plays
// no part in the libvirt domain's own resource accounting.
func (m *vmMonitor) AddProcess(pid int) error { return nil }

func (m *vmMonitor) Snapshot() (Snapshot, error) {
	return Snapshot{CPUTime: time.Since(m.start)}, nil
}

func (m *vmMonitor) Stop() ([]ResourceViolation, error) {
	defer func() {
		_ = kvm.Disconnect(m.vir)
	}()

	var violations []ResourceViolation
	if m.spec.NetworkOff {
		if v := m.checkNetworkIsolation(); v != nil {
			violations = append(violations, *v)
		}
	}

	if state, _, err := m.vir.DomainGetState(m.domain, 0); err == nil {
		m.lastState = kvm.StateToString(state)
		if libvirt.DomainState(state) == libvirt.DomainRunning {
			_ = m.vir.DomainDestroy(m.domain)
		}
	}
	_ = m.vir.DomainUndefine(m.domain)

	snap, _ := m.Snapshot()
	if m.spec.Limits.MaxCPUTimeMs > 0 && snap.CPUTime.Milliseconds() > m.spec.Limits.MaxCPUTimeMs {
		violations = append(violations, ResourceViolation{
			Type: ResourceCPU, Actual: snap.CPUTime.Milliseconds(), Limit: m.spec.Limits.MaxCPUTimeMs,
			Message: fmt.Sprintf("vm wall-clock time exceeded the configured CPU time limit (domain was %s)", m.lastState),
		})
	}
	return violations, nil
}

// checkNetworkIsolation backs the hermeticity proof's network-isolation
// assertion (§4.9) for the vm backend: an action with NetworkOff set
// generates a domain XML with no interface device (xml.go), so there
// should be no MAC to extract and no DHCP lease to find. A non-empty
// result here means the domain somehow got network access anyway.
func (m *vmMonitor) checkNetworkIsolation() *ResourceViolation {
	desc, err := m.vir.DomainGetXMLDesc(m.domain, 0)
	if err != nil {
		return nil
	}
	mac := kvm.ExtractMACFromXML(desc)
	if mac == "" {
		return nil
	}
	lease, _ := kvm.GetDHCPLeaseForMAC(m.vir, "default", mac)
	return &ResourceViolation{
		Type:    ResourceNetIO,
		Message: fmt.Sprintf("network-isolated action %s attached interface %s (lease %s)", m.name, mac, lease),
	}
}
