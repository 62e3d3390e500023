package actioncache

import "encoding/binary"

func encodeIndexRecord(r indexRecord) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.LastAccess))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.Size))
	return buf
}

func decodeIndexRecord(b []byte) indexRecord {
	if len(b) < 16 {
		return indexRecord{}
	}
	return indexRecord{
		LastAccess: int64(binary.LittleEndian.Uint64(b[0:8])),
		Size:       int64(binary.LittleEndian.Uint64(b[8:16])),
	}
}
