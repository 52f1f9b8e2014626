package utils

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
)

// Unmarshal decodes a packed little endian on-disk record into v.
func Unmarshal(data []byte, v interface{}) error {
	return restruct.Unpack(data, binary.LittleEndian, v)
}

// Marshal is the inverse of Unmarshal.
func Marshal(v interface{}) ([]byte, error) {
	return restruct.Pack(binary.LittleEndian, v)
}

func ReadEndianInt(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data)
}

func ReadEndianLong(data []byte) uint64 {
	return binary.LittleEndian.Uint64(data)
}

// AlignUp rounds offset up to the next multiple of align, which must be a
// power of two.
func AlignUp(offset int64, align int64) int64 {
	return (offset + align - 1) &^ (align - 1)
}
