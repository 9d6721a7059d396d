// Package wire holds the length-prefixed binary primitives shared by the
// snapshot stream codec and the sync-server request/response codec (spec
// §4.7, §6): both need the same uint32/string/bytes/bool/timestamp
// framing, so it lives in one place rather than being copied twice.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/riftdb/riftdb/internal/hlc"
)

func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func WriteUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func WriteInt64(w io.Writer, v int64) error { return WriteUint64(w, uint64(v)) }

func ReadInt64(r io.Reader) (int64, error) {
	v, err := ReadUint64(r)
	return int64(v), err
}

func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func WriteString(w io.Writer, s string) error { return WriteBytes(w, []byte(s)) }

func ReadString(r io.Reader) (string, error) {
	b, err := ReadBytes(r)
	return string(b), err
}

func WriteBool(w io.Writer, b bool) error {
	v := byte(0)
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

func ReadBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] == 1, nil
}

func WriteTimestamp(w io.Writer, ts hlc.Timestamp) error {
	if err := WriteInt64(w, ts.Physical); err != nil {
		return err
	}
	if err := WriteUint32(w, uint32(ts.Logical)); err != nil {
		return err
	}
	return WriteString(w, ts.NodeID)
}

func ReadTimestamp(r io.Reader) (hlc.Timestamp, error) {
	var ts hlc.Timestamp
	physical, err := ReadInt64(r)
	if err != nil {
		return ts, err
	}
	logical, err := ReadUint32(r)
	if err != nil {
		return ts, err
	}
	node, err := ReadString(r)
	if err != nil {
		return ts, err
	}
	return hlc.Timestamp{Physical: physical, Logical: int32(logical), NodeID: node}, nil
}
