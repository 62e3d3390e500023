package actioncache

import (
	"time"

	"github.com/forgecore/forgecore/pkg/hashing"
)

// OutputFile is one produced output recorded in a CacheEntry.
type OutputFile struct {
	Path    string
	Digest  hashing.Digest
	ExecBit bool
}

// Entry is the action cache's value type (§3 CacheEntry): fingerprint,
// timestamps, exit code, stdio (inlined when small, referenced by digest
// otherwise), output files, and execution metadata. Any cached entry's
// outputs are guaranteed to exist in the CAS (pkg/cas) by the writer.
type Entry struct {
	Fingerprint  hashing.Digest
	Timestamp    time.Time
	LastAccess   time.Time
	ExitCode     int
	StdoutInline []byte
	StdoutDigest hashing.Digest // set when StdoutInline is empty and output is large
	StderrInline []byte
	StderrDigest hashing.Digest
	Outputs      []OutputFile
	Metadata     map[string]string // execution metadata: duration, worker id, retry count, etc.
}

// contentDigest is the digest embedded in the on-disk encoding and checked
// on read to detect corruption (§4.3 failure modes).
func (e *Entry) contentDigest() hashing.Digest {
	h := hashing.New()
	h.Write(e.Fingerprint[:])
	h.Write(e.StdoutInline)
	h.Write(e.StdoutDigest[:])
	h.Write(e.StderrInline)
	h.Write(e.StderrDigest[:])
	for _, o := range e.Outputs {
		h.Write([]byte(o.Path))
		h.Write(o.Digest[:])
	}
	var exitBuf [4]byte
	exitBuf[0] = byte(e.ExitCode)
	h.Write(exitBuf[:])
	return h.Sum()
}
