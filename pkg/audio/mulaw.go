package audio

// G.711 µ-law codec for 8 kHz telephony media. Inbound frames arrive as 160
// µ-law bytes per 20 ms; each byte expands to one little-endian int16 sample.

const (
	muLawBias = 0x84
	muLawClip = 32635
)

var muLawDecodeTable [256]int16

func init() {
	for i := range muLawDecodeTable {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

// DecodeMuLaw expands µ-law bytes into little-endian int16 PCM. The output is
// always exactly twice the input length.
func DecodeMuLaw(mu []byte) []byte {
	out := make([]byte, len(mu)*2)
	for i, b := range mu {
		s := muLawDecodeTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeMuLaw compresses little-endian int16 PCM into µ-law bytes. A trailing
// odd byte is ignored.
func EncodeMuLaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = encodeMuLawSample(s)
	}
	return out
}

func decodeMuLawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	sample := ((int32(mantissa)<<3 + muLawBias) << exponent) - muLawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

func encodeMuLawSample(s int16) byte {
	v := int32(s)
	sign := byte(0)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	// v is now in [0x84, 0x7FFF]; the segment is the position of the highest
	// set bit counted from bit 7.
	var exponent byte
	for exponent = 7; exponent > 0; exponent-- {
		if v&(0x80<<exponent) != 0 {
			break
		}
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}
