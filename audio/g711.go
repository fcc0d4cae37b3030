package audio

import "github.com/zaf/g711"

// G.711 mu-law, the payload format of PCMU (RTP payload type 0).

// ULawSilence is the encoded value of a zero sample.
const ULawSilence byte = 0xFF

func LinearToULaw(sample int16) byte {
	return g711.EncodeUlawFrame(sample)
}

func ULawToLinear(u byte) int16 {
	return g711.DecodeUlawFrame(u)
}

// EncodeULaw converts little endian PCM16 into mu-law bytes.
func EncodeULaw(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm)
}

// DecodeULaw converts mu-law bytes into little endian PCM16.
func DecodeULaw(ulaw []byte) []byte {
	return g711.DecodeUlaw(ulaw)
}
