package wavfile

import "context"

// Concatenate joins containers into one, using the first container's
// header as the canonical format. The output is allocated once.
func Concatenate(containers ...[]byte) ([]byte, error) {
	if len(containers) == 0 {
		return nil, formatErr("nothing to concatenate")
	}

	assets := make([]*Asset, 0, len(containers))
	total := 0
	for i, c := range containers {
		a, err := Parse(c)
		if err != nil {
			return nil, formatErrAt(i, err)
		}
		assets = append(assets, a)
		total += a.DataSize
	}

	first := assets[0]
	out := make([]byte, first.DataOffset+total)
	n := copy(out, first.Header())
	for _, a := range assets {
		n += copy(out[n:], a.PCM())
	}
	patchSizes(out, first.DataOffset, total)
	return out, nil
}

func formatErrAt(index int, err error) error {
	return formatErr("container %d: %v", index, err)
}

// Builder accumulates containers one at a time so that the caller can
// drop each input as soon as it has been appended.
type Builder struct {
	buf        []byte
	format     Format
	dataOffset int
	count      int
}

// Append parses a container and copies its payload onto the output
func (b *Builder) Append(container []byte) error {
	a, err := Parse(container)
	if err != nil {
		return err
	}
	if b.buf == nil {
		b.buf = make([]byte, 0, len(a.Header())+a.DataSize)
		b.buf = append(b.buf, a.Header()...)
		b.dataOffset = a.DataOffset
		b.format = a.Format
	}
	b.buf = append(b.buf, a.PCM()...)
	b.count++
	return nil
}

// Count returns the number of appended containers
func (b *Builder) Count() int { return b.count }

// PayloadSize returns the number of PCM bytes appended so far
func (b *Builder) PayloadSize() int {
	if b.buf == nil {
		return 0
	}
	return len(b.buf) - b.dataOffset
}

// Duration returns the accumulated duration in seconds
func (b *Builder) Duration() float64 {
	return DurationOf(b.PayloadSize(), b.format)
}

// Bytes finalizes the header and returns the container. The slice aliases
// the builder's buffer until the next Append.
func (b *Builder) Bytes() []byte {
	if b.buf == nil {
		return nil
	}
	patchSizes(b.buf, b.dataOffset, len(b.buf)-b.dataOffset)
	return b.buf
}

// Source is one persisted segment to be assembled
type Source struct {
	Path string
	// Size is the persisted byte size, used only to pre-size the output
	Size int64
}

// FetchFunc downloads a persisted container
type FetchFunc func(ctx context.Context, path string) ([]byte, error)

// AssembleStream concatenates persisted containers holding at most one
// downloaded input in memory at a time. The output buffer is pre-sized
// from the persisted sizes and grows if that estimate was short.
func AssembleStream(ctx context.Context, sources []Source, fetch FetchFunc) (*Asset, error) {
	if len(sources) == 0 {
		return nil, formatErr("nothing to assemble")
	}

	estimate := HeaderSize
	for _, s := range sources {
		if s.Size > HeaderSize {
			estimate += int(s.Size) - HeaderSize
		}
	}

	var (
		out        []byte
		format     Format
		dataOffset int
	)
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := fetch(ctx, src.Path)
		if err != nil {
			return nil, err
		}
		a, err := Parse(raw)
		if err != nil {
			return nil, formatErrAt(i, err)
		}
		if out == nil {
			capacity := estimate
			if capacity < a.DataOffset {
				capacity = a.DataOffset
			}
			out = make([]byte, 0, capacity)
			out = append(out, a.Header()...)
			format = a.Format
			dataOffset = a.DataOffset
		}
		out = append(out, a.PCM()...)
	}

	dataSize := len(out) - dataOffset
	patchSizes(out, dataOffset, dataSize)
	return &Asset{
		Format:     format,
		Data:       out,
		DataOffset: dataOffset,
		DataSize:   dataSize,
	}, nil
}
