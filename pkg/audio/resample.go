package audio

// Resample converts 16-bit mono PCM from srcRate to dstRate using linear
// interpolation, without carrying state. Use the stateful types below for
// frame-by-frame streams. If srcRate == dstRate the input is returned
// unchanged.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Upsampler2x doubles the sample rate of 16-bit mono PCM by linear
// interpolation, carrying the last sample across calls so the interpolation
// is continuous at frame boundaries. Create one per stream; not designed for
// shared use across goroutines.
type Upsampler2x struct {
	last   int16
	primed bool
}

// Process upsamples a frame of little-endian int16 PCM. Output is always
// exactly twice the input sample count: for each input sample the midpoint
// with its predecessor is emitted first, then the sample itself.
func (u *Upsampler2x) Process(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	prev := u.last
	if !u.primed {
		// No predecessor for the very first sample; seed with itself.
		prev = int16(pcm[0]) | int16(pcm[1])<<8
		u.primed = true
	}
	out := make([]byte, n*4)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		mid := int16((int32(prev) + int32(s)) / 2)
		out[i*4] = byte(mid)
		out[i*4+1] = byte(mid >> 8)
		out[i*4+2] = byte(s)
		out[i*4+3] = byte(s >> 8)
		prev = s
	}
	u.last = prev
	return out
}

// Reset clears the carried sample so the next frame starts a fresh stream.
func (u *Upsampler2x) Reset() {
	u.last = 0
	u.primed = false
}

// Downsampler reduces the sample rate of 16-bit mono PCM by an integer
// factor, averaging each group of factor samples. Samples left over when a
// frame is not a multiple of the factor are carried into the next call.
// Create one per stream; not designed for shared use across goroutines.
type Downsampler struct {
	factor int
	rem    []byte
}

// NewDownsampler returns a Downsampler decimating by the given factor.
// A factor below 2 passes audio through unchanged.
func NewDownsampler(factor int) *Downsampler {
	if factor < 1 {
		factor = 1
	}
	return &Downsampler{factor: factor}
}

// Process downsamples a frame of little-endian int16 PCM.
func (d *Downsampler) Process(pcm []byte) []byte {
	if d.factor == 1 {
		return pcm
	}
	buf := pcm
	if len(d.rem) > 0 {
		buf = make([]byte, 0, len(d.rem)+len(pcm))
		buf = append(buf, d.rem...)
		buf = append(buf, pcm...)
		d.rem = nil
	}
	samples := len(buf) / 2
	groups := samples / d.factor
	consumed := groups * d.factor * 2
	if rest := buf[consumed : samples*2]; len(rest) > 0 {
		d.rem = append([]byte(nil), rest...)
	}

	out := make([]byte, groups*2)
	for g := range groups {
		var sum int32
		for j := range d.factor {
			idx := (g*d.factor + j) * 2
			sum += int32(int16(buf[idx]) | int16(buf[idx+1])<<8)
		}
		avg := int16(sum / int32(d.factor))
		out[g*2] = byte(avg)
		out[g*2+1] = byte(avg >> 8)
	}
	return out
}

// Reset drops any carried samples.
func (d *Downsampler) Reset() {
	d.rem = nil
}
