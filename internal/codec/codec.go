// Package codec serializes neuron pages into a compact, checksummed,
// compressed binary form and back.
//
// Layout:
//
//	magic "NRNP" | version u8 | compression u8 | compressed(payload | crc32le(payload))
//	payload = uvarint count, then per entry: uvarint layer | uvarint neuron | float32le score
package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/JakeFAU/neuronav/internal/neuron"
)

// Extension is the file extension used for encoded pages.
const Extension = ".nrnp"

const (
	magic          = "NRNP"
	version        = 1
	headerSize     = len(magic) + 2
	checksumSize   = 4
	minEntrySize   = 1 + 1 + 4
	maxDecodedSize = 64 << 20
)

// Codec encodes pages with a fixed compressor. Decoding reads the compressor
// from the header, so any Codec (or the package-level Decode) can read any page.
type Codec struct {
	compression Compression
}

// New returns a Codec using c.
func New(c Compression) (*Codec, error) {
	switch c {
	case CompressionZstd, CompressionLZ4, CompressionFlate:
		return &Codec{compression: c}, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

// Default is the zstd codec.
var Default = &Codec{compression: CompressionZstd}

// Compression reports the compressor used by Encode.
func (c *Codec) Compression() Compression {
	return c.compression
}

// Encode canonicalizes the page order and returns its encoded bytes.
func (c *Codec) Encode(page neuron.Page) ([]byte, error) {
	entries := neuron.NewPage(page.Entries()).Entries()

	raw := make([]byte, 0, binary.MaxVarintLen64+len(entries)*(2*binary.MaxVarintLen32+4)+checksumSize)
	raw = binary.AppendUvarint(raw, uint64(len(entries)))
	for _, e := range entries {
		raw = binary.AppendUvarint(raw, uint64(e.Target.Layer))
		raw = binary.AppendUvarint(raw, uint64(e.Target.Neuron))
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(e.Score))
	}
	raw = appendChecksum(raw)

	body, err := compress(c.compression, raw)
	if err != nil {
		return nil, fmt.Errorf("compress page: %w", err)
	}
	out := make([]byte, 0, headerSize+len(body))
	out = append(out, magic...)
	out = append(out, version, byte(c.compression))
	return append(out, body...), nil
}

// Decode parses bytes produced by Encode. Any structural mismatch is
// reported as neuron.ErrCorruptData.
func Decode(data []byte) (neuron.Page, error) {
	return DecodeFrom(bytes.NewReader(data))
}

// DecodeFrom stream-decodes a page from r.
func DecodeFrom(r io.Reader) (neuron.Page, error) {
	br := bufio.NewReader(r)
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return neuron.Page{}, corrupt("read header: %v", err)
	}
	if string(header[:len(magic)]) != magic {
		return neuron.Page{}, corrupt("bad magic %q", header[:len(magic)])
	}
	if header[len(magic)] != version {
		return neuron.Page{}, corrupt("unsupported version %d", header[len(magic)])
	}
	dr, closeFn, err := decompressor(Compression(header[len(magic)+1]), br)
	if err != nil {
		return neuron.Page{}, corrupt("%v", err)
	}
	defer closeFn()

	raw, err := io.ReadAll(io.LimitReader(dr, maxDecodedSize+1))
	if err != nil {
		return neuron.Page{}, corrupt("decompress: %v", err)
	}
	if len(raw) > maxDecodedSize {
		return neuron.Page{}, corrupt("payload exceeds %d bytes", maxDecodedSize)
	}
	return decodePayload(raw)
}

func decodePayload(raw []byte) (neuron.Page, error) {
	if len(raw) < checksumSize {
		return neuron.Page{}, corrupt("payload too short")
	}
	payload, sum := raw[:len(raw)-checksumSize], raw[len(raw)-checksumSize:]
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(sum) {
		return neuron.Page{}, corrupt("checksum mismatch")
	}

	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return neuron.Page{}, corrupt("bad entry count")
	}
	payload = payload[n:]
	if count > uint64(len(payload)/minEntrySize) {
		return neuron.Page{}, corrupt("entry count %d exceeds payload", count)
	}

	entries := make([]neuron.Importance, 0, count)
	for i := uint64(0); i < count; i++ {
		layer, err := readUint32(&payload)
		if err != nil {
			return neuron.Page{}, corrupt("entry %d layer: %v", i, err)
		}
		idx, err := readUint32(&payload)
		if err != nil {
			return neuron.Page{}, corrupt("entry %d neuron: %v", i, err)
		}
		if len(payload) < 4 {
			return neuron.Page{}, corrupt("entry %d score truncated", i)
		}
		score := math.Float32frombits(binary.LittleEndian.Uint32(payload))
		payload = payload[4:]
		entries = append(entries, neuron.Importance{
			Target: neuron.Index{Layer: layer, Neuron: idx},
			Score:  score,
		})
	}
	if len(payload) != 0 {
		return neuron.Page{}, corrupt("%d trailing bytes", len(payload))
	}
	return neuron.NewPage(entries), nil
}

func readUint32(buf *[]byte) (uint32, error) {
	v, n := binary.Uvarint(*buf)
	if n <= 0 {
		return 0, errors.New("bad varint")
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("value %d overflows uint32", v)
	}
	*buf = (*buf)[n:]
	return uint32(v), nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", neuron.ErrCorruptData, fmt.Sprintf(format, args...))
}

func appendChecksum(payload []byte) []byte {
	return binary.LittleEndian.AppendUint32(payload, crc32.ChecksumIEEE(payload))
}
