package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"time"
)

// Entry file format constants.
const (
	entryMagic      = "SPC1"
	entryVersion    = 2
	entryHeaderSize = 28

	flagNeverExpires = 1 << 0
	knownFlags       = flagNeverExpires
)

// EncodeEntry 将条目编码为带魔数、版本与校验和的二进制帧。
func EncodeEntry(e Entry) []byte {
	buf := make([]byte, entryHeaderSize+len(e.Value))

	copy(buf[0:4], entryMagic)
	buf[4] = entryVersion

	var (
		flags   byte
		seconds int64
		nanos   uint32
	)
	if e.NeverExpires() {
		flags |= flagNeverExpires
	} else {
		// 秒 + 纳秒分开存，UnixNano 只能表示 1678-2262 年
		seconds = e.ExpiresAt.Unix()
		nanos = uint32(e.ExpiresAt.Nanosecond())
	}
	buf[5] = flags
	// bytes 6-7 reserved

	binary.LittleEndian.PutUint64(buf[8:16], uint64(seconds))
	binary.LittleEndian.PutUint32(buf[16:20], nanos)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(e.Value)))
	binary.LittleEndian.PutUint32(buf[24:28], crc32.ChecksumIEEE(e.Value))
	copy(buf[entryHeaderSize:], e.Value)

	return buf
}

// DecodeEntry 解析 EncodeEntry 的输出。任何畸形输入都返回包装 ErrCorrupt 的错误，
// 返回的 Value 是独立拷贝，不与 data 共享内存。
func DecodeEntry(data []byte) (Entry, error) {
	if len(data) < entryHeaderSize {
		return Entry{}, fmt.Errorf("%w: short header (%d bytes)", ErrCorrupt, len(data))
	}
	if !bytes.Equal(data[0:4], []byte(entryMagic)) {
		return Entry{}, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if data[4] != entryVersion {
		return Entry{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[4])
	}

	flags := data[5]
	if flags&^knownFlags != 0 || data[6] != 0 || data[7] != 0 {
		return Entry{}, fmt.Errorf("%w: unknown flags", ErrCorrupt)
	}

	seconds := int64(binary.LittleEndian.Uint64(data[8:16]))
	nanos := binary.LittleEndian.Uint32(data[16:20])
	length := binary.LittleEndian.Uint32(data[20:24])
	checksum := binary.LittleEndian.Uint32(data[24:28])

	payload := data[entryHeaderSize:]
	if uint64(length) != uint64(len(payload)) || uint64(length) > math.MaxInt32 {
		return Entry{}, fmt.Errorf("%w: payload length %d, have %d", ErrCorrupt, length, len(payload))
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return Entry{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	entry := Entry{Value: append([]byte{}, payload...)}
	if flags&flagNeverExpires != 0 {
		if seconds != 0 || nanos != 0 {
			return Entry{}, fmt.Errorf("%w: expiry set on never-expiring entry", ErrCorrupt)
		}
		return entry, nil
	}
	if nanos >= uint32(time.Second) {
		return Entry{}, fmt.Errorf("%w: nanoseconds out of range (%d)", ErrCorrupt, nanos)
	}
	entry.ExpiresAt = time.Unix(seconds, int64(nanos))
	return entry, nil
}
