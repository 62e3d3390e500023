package reapi

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/hashing"
)

// EncodeActionRequest serializes r per §6.4's compact binary wire format:
// {action-id (32 bytes), command (length-prefixed UTF-8), env (count +
// pairs), inputs (count + {artifact-id, declared-path, exec-bit}),
// outputs (count + {declared-path, is-directory}), capabilities
// (serialized), priority (1 byte), timeout (int64 ms)}.
func EncodeActionRequest(r *ActionRequest) []byte {
	var buf bytes.Buffer
	buf.Write(r.ActionID[:])
	writeString(&buf, r.Command)

	writeUint32(&buf, uint32(len(r.Env)))
	for k, v := range r.Env {
		writeString(&buf, k)
		writeString(&buf, v)
	}

	writeUint32(&buf, uint32(len(r.Inputs)))
	for _, in := range r.Inputs {
		buf.Write(in.ArtifactID[:])
		writeString(&buf, in.Path)
		writeBool(&buf, in.ExecBit)
	}

	writeUint32(&buf, uint32(len(r.Outputs)))
	for _, out := range r.Outputs {
		writeString(&buf, out.Path)
		writeBool(&buf, out.IsDirectory)
	}

	writeUint32(&buf, uint32(len(r.Capabilities)))
	for _, c := range r.Capabilities {
		writeString(&buf, c.Name)
		writeString(&buf, c.Value)
	}

	buf.WriteByte(r.Priority)
	writeInt64(&buf, r.TimeoutMs)

	return buf.Bytes()
}

// DecodeActionRequest is EncodeActionRequest's inverse; a malformed or
// truncated buffer surfaces as a non-retryable ConfigError rather than a
// partial ActionRequest.
func DecodeActionRequest(data []byte) (*ActionRequest, error) {
	r := bytes.NewReader(data)
	req := &ActionRequest{Env: map[string]string{}}

	if _, err := io.ReadFull(r, req.ActionID[:]); err != nil {
		return nil, wireErr("action-id", err)
	}
	cmd, err := readString(r)
	if err != nil {
		return nil, wireErr("command", err)
	}
	req.Command = cmd

	envCount, err := readUint32(r)
	if err != nil {
		return nil, wireErr("env-count", err)
	}
	for i := uint32(0); i < envCount; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, wireErr("env-key", err)
		}
		v, err := readString(r)
		if err != nil {
			return nil, wireErr("env-value", err)
		}
		req.Env[k] = v
	}

	inCount, err := readUint32(r)
	if err != nil {
		return nil, wireErr("input-count", err)
	}
	for i := uint32(0); i < inCount; i++ {
		var in InputSpec
		if _, err := io.ReadFull(r, in.ArtifactID[:]); err != nil {
			return nil, wireErr("input-artifact-id", err)
		}
		if in.Path, err = readString(r); err != nil {
			return nil, wireErr("input-path", err)
		}
		if in.ExecBit, err = readBool(r); err != nil {
			return nil, wireErr("input-exec-bit", err)
		}
		req.Inputs = append(req.Inputs, in)
	}

	outCount, err := readUint32(r)
	if err != nil {
		return nil, wireErr("output-count", err)
	}
	for i := uint32(0); i < outCount; i++ {
		var out OutputSpec
		if out.Path, err = readString(r); err != nil {
			return nil, wireErr("output-path", err)
		}
		if out.IsDirectory, err = readBool(r); err != nil {
			return nil, wireErr("output-is-directory", err)
		}
		req.Outputs = append(req.Outputs, out)
	}

	capCount, err := readUint32(r)
	if err != nil {
		return nil, wireErr("capability-count", err)
	}
	for i := uint32(0); i < capCount; i++ {
		var c Capability
		if c.Name, err = readString(r); err != nil {
			return nil, wireErr("capability-name", err)
		}
		if c.Value, err = readString(r); err != nil {
			return nil, wireErr("capability-value", err)
		}
		req.Capabilities = append(req.Capabilities, c)
	}

	priority, err := r.ReadByte()
	if err != nil {
		return nil, wireErr("priority", err)
	}
	req.Priority = priority

	timeout, err := readInt64(r)
	if err != nil {
		return nil, wireErr("timeout", err)
	}
	req.TimeoutMs = timeout

	return req, nil
}

func wireErr(field string, err error) error {
	return ferr.New(ferr.KindConfig, "reapi.DecodeActionRequest", field, err).
		WithRemedy(fmt.Sprintf("malformed ActionRequest wire data at %s", field))
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func parseHex(s string) (hashing.Digest, error) {
	var d hashing.Digest
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != hashing.Size {
		return d, ferr.New(ferr.KindConfig, "reapi.parseHex", s, err).WithRemedy("expected a 64-character hex digest")
	}
	copy(d[:], raw)
	return d, nil
}
