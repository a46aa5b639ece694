package analyzer

import "math"

// band covers FFT bins [lo, hi] inclusive around a centre frequency.
type band struct {
	center float64
	lo, hi int
}

// octaveBands lays out 1/perOctave-octave bands anchored on 440 Hz whose
// centres fall inside [minFreq, maxFreq]. Bins are computed for an fftSize
// window at sampleRate.
func octaveBands(perOctave int, minFreq, maxFreq float64, fftSize, sampleRate int) []band {
	if perOctave <= 0 || minFreq <= 0 || maxFreq <= minFreq || fftSize < 2 || sampleRate <= 0 {
		return nil
	}
	nyquist := float64(sampleRate) / 2
	if maxFreq > nyquist {
		maxFreq = nyquist
	}
	binHz := float64(sampleRate) / float64(fftSize)
	maxBin := fftSize / 2
	halfStep := math.Pow(2, 1/(2*float64(perOctave)))

	first := int(math.Ceil(float64(perOctave) * math.Log2(minFreq/440)))
	last := int(math.Floor(float64(perOctave) * math.Log2(maxFreq/440)))

	out := make([]band, 0, last-first+1)
	for k := first; k <= last; k++ {
		center := 440 * math.Pow(2, float64(k)/float64(perOctave))
		lo := int(math.Ceil(center / halfStep / binHz))
		hi := int(math.Floor(center * halfStep / binHz))
		if lo > hi {
			// Band narrower than one bin: use the nearest bin.
			lo = int(math.Round(center / binHz))
			hi = lo
		}
		lo = clampInt(lo, 1, maxBin)
		hi = clampInt(hi, lo, maxBin)
		out = append(out, band{center: center, lo: lo, hi: hi})
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// dbScale maps a linear magnitude into [0, 1] over [minDB, maxDB].
func dbScale(mag, minDB, maxDB float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := (db - minDB) / (maxDB - minDB)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
