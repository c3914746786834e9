package wavfile

import (
	"bytes"
	"math"
	"time"

	"github.com/go-audio/wav"

	"github.com/satriahrh/narrasi/domain/entities"
)

// SilentWindowRatio decodes the samples and returns the fraction of
// fixed-length windows whose RMS amplitude, normalized to full scale, is
// below threshold. Audio with no samples counts as fully silent.
//
// The container is validated by Parse and only its payload region is
// handed to the decoder, under a rebuilt header, so declared chunk sizes
// never drive allocation.
func SilentWindowRatio(b []byte, window time.Duration, threshold float64) (float64, error) {
	a, err := Parse(b)
	if err != nil {
		return 0, err
	}
	switch a.Format.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return 0, formatErr("unsupported bit depth %d", a.Format.BitsPerSample)
	}
	if a.Format.Channels > 32 {
		return 0, formatErr("unsupported channel count %d", a.Format.Channels)
	}
	if a.DataSize == 0 {
		return 1, nil
	}

	dec := wav.NewDecoder(bytes.NewReader(Build(a.Format, a.PCM())))
	if !dec.IsValidFile() {
		return 0, &entities.FormatError{Reason: "not a decodable PCM wav"}
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, &entities.FormatError{Reason: err.Error()}
	}
	if buf == nil || len(buf.Data) == 0 {
		return 1, nil
	}

	channels := 1
	sampleRate := int(dec.SampleRate)
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			sampleRate = buf.Format.SampleRate
		}
	}
	perWindow := int(float64(sampleRate)*window.Seconds()) * channels
	if perWindow < channels {
		perWindow = channels
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth == 0 {
		bitDepth = 16
	}
	fullScale := math.Pow(2, float64(bitDepth-1))

	windows, silent := 0, 0
	for start := 0; start < len(buf.Data); start += perWindow {
		end := start + perWindow
		if end > len(buf.Data) {
			end = len(buf.Data)
		}
		var sum float64
		for _, s := range buf.Data[start:end] {
			v := float64(s) / fullScale
			sum += v * v
		}
		rms := math.Sqrt(sum / float64(end-start))
		windows++
		if rms < threshold {
			silent++
		}
	}
	return float64(silent) / float64(windows), nil
}
