package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec of a component.
type Compression uint8

const (
	// CompressionNone stores the component verbatim.
	CompressionNone Compression = 0
	// CompressionLZ4 is fast block compression for hot columns.
	CompressionLZ4 Compression = 1
	// CompressionZSTD trades speed for ratio; used for the document store.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

var errShortBlock = errors.New("compressed component truncated")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Component layout after the flag byte:
// [UncompressedSize uint32][CompressedSize uint32][Data...]
// CompressedSize 0 means the data did not compress and is stored verbatim.
const blockHeaderSize = 8

// compress encodes data with c, prefixed by the flag byte.
func compress(data []byte, c Compression) ([]byte, error) {
	if c == CompressionNone || len(data) == 0 {
		return append([]byte{byte(CompressionNone)}, data...), nil
	}

	var compressed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}

	out := make([]byte, 1+blockHeaderSize, 1+blockHeaderSize+len(data))
	out[0] = byte(c)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))

	// Keep incompressible data as is.
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		binary.LittleEndian.PutUint32(out[5:], 0)
		return append(out, data...), nil
	}
	binary.LittleEndian.PutUint32(out[5:], uint32(len(compressed)))
	return append(out, compressed...), nil
}

// decompress reverses compress.
func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errShortBlock
	}
	c := Compression(data[0])
	data = data[1:]
	if c == CompressionNone {
		return data, nil
	}
	if len(data) < blockHeaderSize {
		return nil, errShortBlock
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])
	data = data[blockHeaderSize:]

	if compressedSize == 0 {
		if uint32(len(data)) < uncompressedSize {
			return nil, errShortBlock
		}
		return data[:uncompressedSize], nil
	}
	if uint32(len(data)) < compressedSize {
		return nil, errShortBlock
	}
	data = data[:compressedSize]

	switch c {
	case CompressionLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != uncompressedSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != uncompressedSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}
