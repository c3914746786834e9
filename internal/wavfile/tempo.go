package wavfile

import (
	"encoding/binary"
	"math"
	"time"
)

const stretchWindow = 40 * time.Millisecond

// Stretch time-scales 16-bit PCM by factor using windowed overlap-add.
// A factor above 1 shortens the audio. Pitch is preserved.
func Stretch(b []byte, factor float64) ([]byte, error) {
	a, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if a.Format.BitsPerSample != 16 {
		return nil, formatErr("stretch needs 16-bit samples, got %d", a.Format.BitsPerSample)
	}
	if factor <= 0 {
		return nil, formatErr("stretch factor %v must be positive", factor)
	}
	if factor == 1 {
		return Build(a.Format, a.PCM()), nil
	}

	channels := max(a.Format.Channels, 1)
	frames := a.DataSize / (2 * channels)
	in := make([]float64, frames*channels)
	pcm := a.PCM()
	for i := range in {
		in[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	window := int(float64(a.Format.SampleRate) * stretchWindow.Seconds())
	if window < 4 {
		window = 4
	}
	window -= window % 2
	synthesisHop := window / 2
	analysisHop := float64(synthesisHop) * factor

	outFrames := int(float64(frames) / factor)
	out := make([]float64, (outFrames+window)*channels)
	weight := make([]float64, outFrames+window)
	hann := make([]float64, window)
	for i := range hann {
		hann[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(window))
	}

	for k := 0; ; k++ {
		src := int(float64(k) * analysisHop)
		dst := k * synthesisHop
		if src >= frames || dst >= outFrames {
			break
		}
		for i := 0; i < window && src+i < frames; i++ {
			w := hann[i]
			weight[dst+i] += w
			for c := 0; c < channels; c++ {
				out[(dst+i)*channels+c] += w * in[(src+i)*channels+c]
			}
		}
	}

	result := make([]byte, outFrames*channels*2)
	for f := 0; f < outFrames; f++ {
		w := weight[f]
		if w < 1e-3 {
			w = 1
		}
		for c := 0; c < channels; c++ {
			v := math.Round(out[f*channels+c] / w)
			v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
			binary.LittleEndian.PutUint16(result[(f*channels+c)*2:], uint16(int16(v)))
		}
	}
	return Build(a.Format, result), nil
}
