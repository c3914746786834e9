// Package wavfile parses, builds and stitches RIFF/WAVE containers at the
// byte level. PCM payloads are copied verbatim and never re-encoded.
package wavfile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/satriahrh/narrasi/domain/entities"
)

// HeaderSize is the size of a canonical PCM header with no extra chunks
const HeaderSize = 44

const pcmFormat = 1

// Format holds the fields of the "fmt " sub-chunk
type Format struct {
	AudioFormat   int
	Channels      int
	SampleRate    int
	BitsPerSample int
	ByteRate      int
	BlockAlign    int
}

// Asset is a parsed container. Data aliases the buffer passed to Parse.
type Asset struct {
	Format     Format
	Data       []byte
	DataOffset int
	DataSize   int
}

// PCM returns the payload region
func (a *Asset) PCM() []byte {
	return a.Data[a.DataOffset : a.DataOffset+a.DataSize]
}

// Header returns every byte that precedes the payload, including the
// "data" chunk id and size fields
func (a *Asset) Header() []byte {
	return a.Data[:a.DataOffset]
}

// Duration returns the payload length in seconds
func (a *Asset) Duration() float64 {
	return DurationOf(a.DataSize, a.Format)
}

// DurationOf converts a payload length into seconds for the given format
func DurationOf(payloadBytes int, f Format) float64 {
	if f.ByteRate <= 0 {
		return 0
	}
	return float64(payloadBytes) / float64(f.ByteRate)
}

func formatErr(format string, args ...interface{}) error {
	return &entities.FormatError{Reason: fmt.Sprintf(format, args...)}
}

// Parse validates a container and locates its fmt and data sub-chunks.
// Extra chunks (LIST, fact, ...) before the payload are tolerated.
func Parse(b []byte) (*Asset, error) {
	if len(b) < HeaderSize {
		return nil, formatErr("container is %d bytes, too small for a header", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, formatErr("missing RIFF/WAVE identifier")
	}

	fmtOffset := findChunk(b, "fmt ")
	if fmtOffset < 0 {
		return nil, formatErr("missing fmt sub-chunk")
	}
	if fmtOffset+8+16 > len(b) {
		return nil, formatErr("truncated fmt sub-chunk")
	}
	dataOffset := findChunk(b, "data")
	if dataOffset < 0 {
		return nil, formatErr("missing data sub-chunk")
	}
	if fmtOffset+8+16 > dataOffset {
		return nil, formatErr("fmt sub-chunk must precede data")
	}

	f := b[fmtOffset+8:]
	format := Format{
		AudioFormat:   int(binary.LittleEndian.Uint16(f[0:2])),
		Channels:      int(binary.LittleEndian.Uint16(f[2:4])),
		SampleRate:    int(binary.LittleEndian.Uint32(f[4:8])),
		ByteRate:      int(binary.LittleEndian.Uint32(f[8:12])),
		BlockAlign:    int(binary.LittleEndian.Uint16(f[12:14])),
		BitsPerSample: int(binary.LittleEndian.Uint16(f[14:16])),
	}
	if format.Channels == 0 || format.SampleRate == 0 || format.BitsPerSample == 0 {
		return nil, formatErr("fmt sub-chunk declares an empty format")
	}
	if format.ByteRate == 0 {
		format.ByteRate = format.SampleRate * format.Channels * format.BitsPerSample / 8
	}
	if format.BlockAlign == 0 {
		format.BlockAlign = format.Channels * format.BitsPerSample / 8
	}

	start := dataOffset + 8
	if start > len(b) {
		return nil, formatErr("truncated data sub-chunk")
	}
	size := int(binary.LittleEndian.Uint32(b[dataOffset+4 : dataOffset+8]))
	// Streamed encoders leave the size unset or larger than what was written.
	if size > len(b)-start || size < 0 {
		size = len(b) - start
	}

	return &Asset{
		Format:     format,
		Data:       b,
		DataOffset: start,
		DataSize:   size,
	}, nil
}

// findChunk walks the RIFF chunk list for id and falls back to a raw byte
// scan when a chunk size field is corrupt. Returns the offset of the
// chunk id or -1.
func findChunk(b []byte, id string) int {
	offset := 12
	for offset+8 <= len(b) {
		chunkID := string(b[offset : offset+4])
		if chunkID == id {
			return offset
		}
		chunkSize := int(binary.LittleEndian.Uint32(b[offset+4 : offset+8]))
		next := offset + 8 + chunkSize
		if chunkSize%2 != 0 {
			next++
		}
		if next <= offset || next > len(b) {
			break
		}
		offset = next
	}

	idx := bytes.Index(b[12:], []byte(id))
	if idx < 0 || 12+idx+8 > len(b) {
		return -1
	}
	return 12 + idx
}

// Build wraps raw PCM in a canonical 44-byte header
func Build(f Format, pcm []byte) []byte {
	if f.AudioFormat == 0 {
		f.AudioFormat = pcmFormat
	}
	if f.BlockAlign == 0 {
		f.BlockAlign = f.Channels * f.BitsPerSample / 8
	}
	if f.ByteRate == 0 {
		f.ByteRate = f.SampleRate * f.BlockAlign
	}

	out := make([]byte, HeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], uint16(f.AudioFormat))
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(f.ByteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(f.BlockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(f.BitsPerSample))
	copy(out[36:40], "data")
	copy(out[HeaderSize:], pcm)
	patchSizes(out, HeaderSize, len(pcm))
	return out
}

// PCM16Mono is the format most synthesis workers emit
func PCM16Mono(sampleRate int) Format {
	return Format{
		AudioFormat:   pcmFormat,
		Channels:      1,
		SampleRate:    sampleRate,
		BitsPerSample: 16,
		ByteRate:      sampleRate * 2,
		BlockAlign:    2,
	}
}

// patchSizes rewrites the RIFF size and the data size so that the header
// matches a payload of dataSize bytes starting at dataOffset
func patchSizes(out []byte, dataOffset, dataSize int) {
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	binary.LittleEndian.PutUint32(out[dataOffset-4:dataOffset], uint32(dataSize))
}

// Duration parses b and returns its playback length in seconds
func Duration(b []byte) (float64, error) {
	a, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return a.Duration(), nil
}

// alignedOffset converts a time in seconds to a frame-aligned byte offset
func alignedOffset(seconds float64, f Format) int {
	if seconds <= 0 {
		return 0
	}
	n := int(seconds * float64(f.ByteRate))
	if f.BlockAlign > 0 {
		n -= n % f.BlockAlign
	}
	return n
}
