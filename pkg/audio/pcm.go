package audio

// DecodeS16LE decodes little-endian signed 16-bit PCM from pcm into dst and
// returns the number of samples written. A trailing odd byte is ignored; the
// caller is expected to carry it over to the next read.
func DecodeS16LE(dst []Sample, pcm []byte) int {
	n := min(len(dst), len(pcm)/2)
	for i := range n {
		dst[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return n
}

// EncodeS16LE appends the little-endian encoding of samples to dst.
func EncodeS16LE(dst []byte, samples []Sample) []byte {
	for _, s := range samples {
		dst = append(dst, byte(s), byte(uint16(s)>>8))
	}
	return dst
}
