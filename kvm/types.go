package kvm

import "fmt"

// Domain state constants, mirrored from libvirt's virDomainState for use in
// Stop() diagnostics without pulling the enum through every call site.
const (
	DomainNoState int32 = 0
	DomainRunning int32 = 1
	DomainBlocked int32 = 2
	DomainPaused  int32 = 3
	DomainShutoff int32 = 5
	DomainCrashed int32 = 6
)

// StateToString converts a domain state int to a readable string for the
// vm sandbox backend's shutdown log line.
func StateToString(state int32) string {
	switch state {
	case DomainRunning:
		return "running"
	case DomainPaused:
		return "paused"
	case DomainShutoff:
		return "shut off"
	case DomainCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("unknown (%d)", state)
	}
}
