package analyzer

import "math"

// fft performs an in-place radix-2 Cooley-Tukey FFT on complex data.
// len(re) and len(im) must be equal and a power of 2.
func fft(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	j := 0
	for i := 1; i < n; i++ {
		bit := n >> 1
		for j&bit != 0 {
			j ^= bit
			bit >>= 1
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := -2.0 * math.Pi / float64(size)
		// Twiddles advance by rotation instead of a Sin/Cos pair per butterfly.
		si, sr := math.Sincos(step)
		for i := 0; i < n; i += size {
			wr, wi := 1.0, 0.0
			for k := 0; k < half; k++ {
				a := i + k
				b := a + half
				tr := wr*re[b] - wi*im[b]
				ti := wr*im[b] + wi*re[b]
				re[b] = re[a] - tr
				im[b] = im[a] - ti
				re[a] += tr
				im[a] += ti
				wr, wi = wr*sr-wi*si, wr*si+wi*sr
			}
		}
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// blackman returns symmetric Blackman window coefficients of length n.
func blackman(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	den := float64(n - 1)
	for i := range w {
		x := 2 * math.Pi * float64(i) / den
		w[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return w
}
