package capture

import (
	"math"
	"math/cmplx"
)

// Analyser parameters. They reproduce a browser AnalyserNode with its
// default dB range so levels look the same in every front end.
const (
	fftSize   = 256
	smoothing = 0.8
	minDB     = -100.0
	maxDB     = -30.0
)

// analyser turns the latest window of samples into byte-scaled frequency
// magnitudes. Not safe for concurrent use.
type analyser struct {
	window []float64
	prev   []float64
	buf    []complex128
}

func newAnalyser() *analyser {
	a := &analyser{
		window: make([]float64, fftSize),
		prev:   make([]float64, fftSize/2),
		buf:    make([]complex128, fftSize),
	}
	// Blackman, alpha 0.16.
	for n := range a.window {
		x := 2 * math.Pi * float64(n) / fftSize
		a.window[n] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return a
}

// frequencyData fills out (len fftSize/2) with magnitudes mapped to 0..255.
// samples shorter than fftSize are zero-padded at the front.
func (a *analyser) frequencyData(samples []int16, out []uint8) {
	pad := fftSize - len(samples)
	for i := range a.buf {
		var v float64
		if j := i - pad; j >= 0 {
			v = float64(samples[j]) / 32768
		}
		a.buf[i] = complex(v*a.window[i], 0)
	}
	fft(a.buf)

	for k := range a.prev {
		mag := cmplx.Abs(a.buf[k]) / fftSize
		a.prev[k] = smoothing*a.prev[k] + (1-smoothing)*mag
		out[k] = toByte(a.prev[k])
	}
}

func toByte(mag float64) uint8 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - minDB) / (maxDB - minDB)
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// fft is an in-place iterative radix-2 transform; len(x) must be a power
// of two.
func fft(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := range size / 2 {
				u := x[start+k]
				v := x[start+k+size/2] * w
				x[start+k] = u + v
				x[start+k+size/2] = u - v
				w *= step
			}
		}
	}
}

// average returns the mean of data.
func average(data []uint8) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum int
	for _, v := range data {
		sum += int(v)
	}
	return float64(sum) / float64(len(data))
}
