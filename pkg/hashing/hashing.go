// Package hashing implements C1: streaming BLAKE3 digests over bytes and
// file trees, plus the canonical encodings that make an action or a tree a
// single reproducible fingerprint. Grounded on the BLAKE3-keyed CAS pattern
// seen in helios/cas.go (lukechampine.com/blake3) and thought-machine/please's
// remote CAS client, adapted to zeebo/blake3.
package hashing

import (
	"encoding/binary"
	"io"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/forgecore/forgecore/pkg/ferr"
)

// Size is the length in bytes of a forgecore digest.
const Size = 32

// Digest is a 32-byte BLAKE3 fingerprint, used interchangeably as an
// ArtifactId or ActionId (§3 of the design).
type Digest [Size]byte

// Hex renders the digest as lowercase hex, the form used for CAS paths and
// action-cache fingerprint filenames.
func (d Digest) Hex() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, Size*2)
	for i, b := range d {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

func (d Digest) IsZero() bool { return d == Digest{} }

// MarshalJSON renders the digest as its lowercase hex string, the form
// used everywhere else a digest crosses a wire or a proof bundle.
func (d Digest) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Hex() + `"`), nil
}

// UnmarshalJSON accepts the hex string form produced by MarshalJSON.
func (d *Digest) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return ferr.New(ferr.KindInternal, "hashing.Digest.UnmarshalJSON", "", nil)
	}
	s := string(b[1 : len(b)-1])
	if len(s) != Size*2 {
		return ferr.New(ferr.KindInternal, "hashing.Digest.UnmarshalJSON", s, nil)
	}
	for i := 0; i < Size; i++ {
		hi, ok1 := hexNibble(s[i*2])
		lo, ok2 := hexNibble(s[i*2+1])
		if !ok1 || !ok2 {
			return ferr.New(ferr.KindInternal, "hashing.Digest.UnmarshalJSON", s, nil)
		}
		d[i] = hi<<4 | lo
	}
	return nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// Hasher is the streaming incremental interface every component depends on.
type Hasher interface {
	io.Writer
	Sum() Digest
	Reset()
}

type hasher struct{ h *blake3.Hasher }

// New returns a fresh unkeyed streaming hasher.
func New() Hasher { return &hasher{h: blake3.New()} }

// NewKeyed returns a streaming hasher in keyed mode, used by the action
// cache to mix a workspace secret into every fingerprint (§4.3).
func NewKeyed(key [Size]byte) (Hasher, error) {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		return nil, ferr.New(ferr.KindInternal, "hashing.NewKeyed", "", err)
	}
	return &hasher{h: h}, nil
}

func (h *hasher) Write(p []byte) (int, error) { return h.h.Write(p) }
func (h *hasher) Reset()                      { h.h.Reset() }
func (h *hasher) Sum() Digest {
	var d Digest
	copy(d[:], h.h.Sum(nil))
	return d
}

// Sum computes the one-shot digest of b.
func Sum(b []byte) Digest {
	h := blake3.New()
	_, _ = h.Write(b)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// SumKeyed computes the one-shot keyed digest of b, used for the
// cross-workspace HMAC-style isolation construction.
func SumKeyed(key [Size]byte, b []byte) (Digest, error) {
	h, err := NewKeyed(key)
	if err != nil {
		return Digest{}, err
	}
	_, _ = h.Write(b)
	return h.Sum(), nil
}

// SumReader streams r through the hasher; I/O errors surface as a
// recoverable IOError per §4.1 and the function never returns a partial
// digest.
func SumReader(r io.Reader) (Digest, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, ferr.New(ferr.KindIO, "hashing.SumReader", "", err)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// DeriveKey derives a 32-byte subkey from key material for a given context
// string, using BLAKE3's key-derivation mode so one secret yields a
// distinct key per context string without reusing key material.
func DeriveKey(context string, material []byte) [Size]byte {
	h := blake3.NewDeriveKey(context)
	_, _ = h.Write(material)
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// TreeEntry is one (path, mode, content-digest) triple contributing to a
// tree digest.
type TreeEntry struct {
	Path   string // slash-separated, relative to the tree root
	Mode   uint32 // POSIX file mode bits relevant to hermeticity (exec bit etc.)
	Digest Digest
}

// SumTree computes BLAKE3 over the length-prefixed concatenation of
// (relative path, mode, content-digest) triples sorted lexicographically by
// path, per §4.1. Callers that already enumerated a filesystem pass their
// own entries through SumEntries; SumTree walks an fs.FS directly.
func SumTree(fsys fs.FS) (Digest, error) {
	var entries []TreeEntry
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		f, err := fsys.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		digest, err := SumReader(f)
		if err != nil {
			return err
		}
		entries = append(entries, TreeEntry{
			Path:   filepath.ToSlash(path),
			Mode:   uint32(info.Mode().Perm()),
			Digest: digest,
		})
		return nil
	})
	if err != nil {
		return Digest{}, ferr.New(ferr.KindIO, "hashing.SumTree", "", err)
	}
	return SumEntries(entries), nil
}

// SumEntries hashes a pre-collected, possibly unsorted set of tree entries.
func SumEntries(entries []TreeEntry) Digest {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := blake3.New()
	for _, e := range sorted {
		writeLenPrefixed(h, []byte(e.Path))
		var modeBuf [4]byte
		binary.LittleEndian.PutUint32(modeBuf[:], e.Mode)
		h.Write(modeBuf[:])
		h.Write(e.Digest[:])
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// ActionFingerprintInput is the canonical input to an action fingerprint:
// command, sorted environment, input digests (the declared input paths are
// not hashed), declared outputs, platform capabilities, timeout and
// optional salt (§3, §4.1).
type ActionFingerprintInput struct {
	Command   []byte
	Env       map[string]string
	Inputs    []TreeEntry // Path here is the declared input path
	Outputs   []string    // declared output paths
	Platform  map[string]string
	TimeoutMs int64
	Salt      []byte
}

// SumAction computes the action fingerprint per §4.1: BLAKE3 over the
// canonical serialization of (command, sorted env K=V pairs with NUL
// separators, sorted input digests, sorted declared output paths, platform
// key/value pairs, timeout-ms, optional salt). Renaming an input or
// reordering environment variables without semantic change must not change
// the digest; any other byte change must.
func SumAction(in ActionFingerprintInput) Digest {
	h := blake3.New()
	writeLenPrefixed(h, in.Command)

	envKeys := make([]string, 0, len(in.Env))
	for k := range in.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		writeLenPrefixed(h, []byte(k+"="+in.Env[k]))
		h.Write([]byte{0})
	}

	inputs := make([]TreeEntry, len(in.Inputs))
	copy(inputs, in.Inputs)
	sort.Slice(inputs, func(i, j int) bool { return string(inputs[i].Digest[:]) < string(inputs[j].Digest[:]) })
	for _, e := range inputs {
		h.Write(e.Digest[:])
	}

	outputs := make([]string, len(in.Outputs))
	copy(outputs, in.Outputs)
	sort.Strings(outputs)
	for _, o := range outputs {
		writeLenPrefixed(h, []byte(o))
	}

	platKeys := make([]string, 0, len(in.Platform))
	for k := range in.Platform {
		platKeys = append(platKeys, k)
	}
	sort.Strings(platKeys)
	for _, k := range platKeys {
		writeLenPrefixed(h, []byte(k))
		writeLenPrefixed(h, []byte(in.Platform[k]))
	}

	var timeoutBuf [8]byte
	binary.LittleEndian.PutUint64(timeoutBuf[:], uint64(in.TimeoutMs))
	h.Write(timeoutBuf[:])

	if len(in.Salt) > 0 {
		writeLenPrefixed(h, in.Salt)
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

func writeLenPrefixed(h *blake3.Hasher, b []byte) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}
