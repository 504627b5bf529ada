package audio

// G.711 companding, ITU-T reference segment layout.

const (
	mulawBias = 0x84
	mulawClip = 32635
)

func mulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + mulawBias
	value <<= uint(exp)
	value -= mulawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
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
	exp := 7
	for mask := 0x4000; s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := (s >> (exp + 3)) & 0x0F
	return ^byte(sign | exp<<4 | mant)
}

var alawSegEnd = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	seg := int(a&0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= uint(seg - 1)
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

func linearToAlaw(sample int16) byte {
	v := int(sample) >> 3
	mask := byte(0xD5)
	if v < 0 {
		mask = 0x55
		v = -v - 1
	}
	seg := 0
	for seg < len(alawSegEnd) && v > alawSegEnd[seg] {
		seg++
	}
	if seg >= len(alawSegEnd) {
		return 0x7F ^ mask
	}
	aval := byte(seg << 4)
	if seg < 2 {
		aval |= byte(v>>1) & 0x0F
	} else {
		aval |= byte(v>>uint(seg)) & 0x0F
	}
	return aval ^ mask
}

func decodeMulaw(in []byte) []int16 {
	out := make([]int16, len(in))
	for i, b := range in {
		out[i] = mulawToLinear(b)
	}
	return out
}

func encodeMulaw(in []int16) []byte {
	out := make([]byte, len(in))
	for i, s := range in {
		out[i] = linearToMulaw(s)
	}
	return out
}

func decodeAlaw(in []byte) []int16 {
	out := make([]int16, len(in))
	for i, b := range in {
		out[i] = alawToLinear(b)
	}
	return out
}

func encodeAlaw(in []int16) []byte {
	out := make([]byte, len(in))
	for i, s := range in {
		out[i] = linearToAlaw(s)
	}
	return out
}
