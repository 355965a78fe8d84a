package audio

import "encoding/binary"

// TelephonySampleRate is the rate of G.711 media streams.
const TelephonySampleRate = 8000

// FrameBytes is one 20 ms G.711 frame at 8 kHz.
const FrameBytes = 160

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MulawEncode converts PCM16LE samples to G.711 mu-law bytes.
func MulawEncode(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = linearToMulaw(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// MulawDecode converts G.711 mu-law bytes to PCM16LE samples.
func MulawDecode(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(mulawToLinear(b)))
	}
	return out
}

func linearToMulaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

func mulawToLinear(b byte) int16 {
	u := ^b
	sign := u & 0x80
	exponent := int(u>>4) & 0x07
	mantissa := int(u & 0x0F)
	s := ((mantissa << 3) + mulawBias) << exponent
	s -= mulawBias
	if sign != 0 {
		return int16(-s)
	}
	return int16(s)
}

// Resample converts mono PCM16LE between sample rates by linear interpolation.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(pcm) < 2 {
		return pcm
	}
	in := len(pcm) / 2
	n := int(int64(in) * int64(toRate) / int64(fromRate))
	out := make([]byte, n*2)
	sample := func(i int) float64 {
		if i >= in {
			i = in - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	step := float64(fromRate) / float64(toRate)
	for i := 0; i < n; i++ {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		v := sample(j)*(1-frac) + sample(j+1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
