package wavfile

import (
	"github.com/satriahrh/narrasi/domain/repositories"
)

// KeepRanges returns a container holding only the given time ranges in
// order. Cut points are snapped down to whole frames.
func KeepRanges(b []byte, keep []repositories.TimeRange) ([]byte, error) {
	a, err := Parse(b)
	if err != nil {
		return nil, err
	}
	pcm := a.PCM()

	total := 0
	spans := make([][2]int, 0, len(keep))
	for _, r := range keep {
		start := alignedOffset(r.Start, a.Format)
		end := alignedOffset(r.End, a.Format)
		if end > len(pcm) {
			end = len(pcm) - len(pcm)%max(a.Format.BlockAlign, 1)
		}
		if start >= end {
			continue
		}
		spans = append(spans, [2]int{start, end})
		total += end - start
	}

	out := make([]byte, a.DataOffset+total)
	n := copy(out, a.Header())
	for _, s := range spans {
		n += copy(out[n:], pcm[s[0]:s[1]])
	}
	patchSizes(out, a.DataOffset, total)
	return out, nil
}

// Piece is a time-contiguous slice of a larger container
type Piece struct {
	Data  []byte
	Start float64
}

// Split cuts a container into standalone pieces no larger than maxBytes
// and no longer than maxSeconds. A zero limit is ignored.
func Split(b []byte, maxBytes int, maxSeconds float64) ([]Piece, error) {
	a, err := Parse(b)
	if err != nil {
		return nil, err
	}

	limit := a.DataSize
	if maxBytes > 0 && maxBytes-HeaderSize < limit {
		limit = maxBytes - HeaderSize
	}
	if maxSeconds > 0 {
		if bySeconds := alignedOffset(maxSeconds, a.Format); bySeconds < limit {
			limit = bySeconds
		}
	}
	if align := a.Format.BlockAlign; align > 0 {
		limit -= limit % align
	}
	if limit <= 0 {
		return nil, formatErr("split limit smaller than one frame")
	}

	pcm := a.PCM()
	format := a.Format
	pieces := make([]Piece, 0, len(pcm)/limit+1)
	for offset := 0; offset < len(pcm); offset += limit {
		end := offset + limit
		if end > len(pcm) {
			end = len(pcm)
		}
		pieces = append(pieces, Piece{
			Data:  Build(format, pcm[offset:end]),
			Start: DurationOf(offset, format),
		})
	}
	if len(pieces) == 0 {
		pieces = append(pieces, Piece{Data: Build(format, nil)})
	}
	return pieces, nil
}
