package actioncache

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/hashing"
)

// schemaVersion is bumped whenever the on-disk {fingerprint}.entry encoding
// changes (§6.3: "schema-versioned, length-prefixed binary encoding").
const schemaVersion = 1

func encodeEntry(e *Entry) []byte {
	var buf bytes.Buffer
	writeU32(&buf, schemaVersion)
	buf.Write(e.Fingerprint[:])
	writeI64(&buf, e.Timestamp.UnixNano())
	writeI64(&buf, e.LastAccess.UnixNano())
	writeU32(&buf, uint32(e.ExitCode))
	writeBytes(&buf, e.StdoutInline)
	buf.Write(e.StdoutDigest[:])
	writeBytes(&buf, e.StderrInline)
	buf.Write(e.StderrDigest[:])

	writeU32(&buf, uint32(len(e.Outputs)))
	for _, o := range e.Outputs {
		writeString(&buf, o.Path)
		buf.Write(o.Digest[:])
		if o.ExecBit {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	writeU32(&buf, uint32(len(e.Metadata)))
	for k, v := range e.Metadata {
		writeString(&buf, k)
		writeString(&buf, v)
	}

	// content digest trailer, checked on decode to detect corruption
	cd := e.contentDigest()
	buf.Write(cd[:])
	return buf.Bytes()
}

func decodeEntry(data []byte) (*Entry, error) {
	r := bytes.NewReader(data)
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, ferr.New(ferr.KindCache, "actioncache.decodeEntry", "", err)
	}
	if version != schemaVersion {
		return nil, ferr.New(ferr.KindCache, "actioncache.decodeEntry", "", ferr.ErrCorrupt).WithPromotable()
	}

	e := &Entry{Metadata: map[string]string{}}
	if _, err := readFull(r, e.Fingerprint[:]); err != nil {
		return nil, err
	}
	ts, err := readI64(r)
	if err != nil {
		return nil, err
	}
	e.Timestamp = time.Unix(0, ts)
	la, err := readI64(r)
	if err != nil {
		return nil, err
	}
	e.LastAccess = time.Unix(0, la)

	exit, err := readU32(r)
	if err != nil {
		return nil, err
	}
	e.ExitCode = int(exit)

	if e.StdoutInline, err = readBytes(r); err != nil {
		return nil, err
	}
	if _, err = readFull(r, e.StdoutDigest[:]); err != nil {
		return nil, err
	}
	if e.StderrInline, err = readBytes(r); err != nil {
		return nil, err
	}
	if _, err = readFull(r, e.StderrDigest[:]); err != nil {
		return nil, err
	}

	nOutputs, err := readU32(r)
	if err != nil {
		return nil, err
	}
	e.Outputs = make([]OutputFile, 0, nOutputs)
	for i := uint32(0); i < nOutputs; i++ {
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		var d hashing.Digest
		if _, err := readFull(r, d[:]); err != nil {
			return nil, err
		}
		execByte, err := r.ReadByte()
		if err != nil {
			return nil, ferr.New(ferr.KindCache, "actioncache.decodeEntry", "", err)
		}
		e.Outputs = append(e.Outputs, OutputFile{Path: path, Digest: d, ExecBit: execByte == 1})
	}

	nMeta, err := readU32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nMeta; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		e.Metadata[k] = v
	}

	var trailer hashing.Digest
	if _, err := readFull(r, trailer[:]); err != nil {
		return nil, err
	}
	if trailer != e.contentDigest() {
		return nil, ferr.New(ferr.KindCache, "actioncache.decodeEntry", "", ferr.ErrCorrupt).WithPromotable()
	}
	return e, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) { writeBytes(buf, []byte(s)) }

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil || n != len(b) {
		return n, ferr.New(ferr.KindCache, "actioncache.decodeEntry", "", ferr.ErrCorrupt).WithPromotable()
	}
	return n, nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, ferr.New(ferr.KindCache, "actioncache.decodeEntry", "", ferr.ErrCorrupt).WithPromotable()
	}
	return v, nil
}

func readI64(r *bytes.Reader) (int64, error) {
	var v int64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, ferr.New(ferr.KindCache, "actioncache.decodeEntry", "", ferr.ErrCorrupt).WithPromotable()
	}
	return v, nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
