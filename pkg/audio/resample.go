package audio

// Resample converts mono PCM16 samples between sample rates using linear
// interpolation. This is the narrowband/wideband boundary: the telephony leg
// runs at 8 kHz while the recognition and generation legs run at 16/24 kHz.
//
// Linear interpolation is adequate for speech at these ratios and keeps the
// conversion a pure function.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	outLen := len(samples) * toRate / fromRate
	if outLen == 0 {
		outLen = 1
	}
	out := make([]int16, outLen)

	step := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// ResampleBytes is Resample over little-endian PCM16 bytes.
func ResampleBytes(data []byte, fromRate, toRate int) []byte {
	return Int16ToBytes(Resample(BytesToInt16(data), fromRate, toRate))
}
