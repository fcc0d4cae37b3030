package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

// Telephony PCM: 16-bit little endian, mono, 8000 Hz.
const (
	SampleRate      = 8000
	FrameDuration   = 20 // ms
	SamplesPerFrame = SampleRate * FrameDuration / 1000
)

func writeWAVHeader(buf *bytes.Buffer, dataSize uint32) {
	// RIFF header
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, dataSize+36) // File size - 8
	buf.WriteString("WAVE")

	// Format chunk
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           // Chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))            // Audio format (PCM)
	binary.Write(buf, binary.LittleEndian, uint16(1))            // Number of channels (mono)
	binary.Write(buf, binary.LittleEndian, uint32(SampleRate))   // Sample rate
	binary.Write(buf, binary.LittleEndian, uint32(SampleRate*2)) // Byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))            // Block align
	binary.Write(buf, binary.LittleEndian, uint16(16))           // Bits per sample

	// Data chunk
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataSize)
}

// PCMToWAV wraps raw telephony PCM into a WAV file.
func PCMToWAV(pcmData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writeWAVHeader(&buf, uint32(len(pcmData)))
	buf.Write(pcmData)
	return buf.Bytes(), nil
}

// StreamingPCMToWAVWriter wraps an io.Writer to convert streaming PCM to WAV.
// The header advertises the maximum size since the length is unknown.
type StreamingPCMToWAVWriter struct {
	writer        io.Writer
	headerWritten bool
	totalBytes    int
}

func NewStreamingPCMToWAVWriter(writer io.Writer) *StreamingPCMToWAVWriter {
	return &StreamingPCMToWAVWriter{
		writer: writer,
	}
}

func (w *StreamingPCMToWAVWriter) Write(pcmData []byte) (int, error) {
	if !w.headerWritten {
		var header bytes.Buffer
		writeWAVHeader(&header, 0xFFFFFFFF-36)
		if _, err := w.writer.Write(header.Bytes()); err != nil {
			return 0, err
		}
		w.headerWritten = true
	}

	n, err := w.writer.Write(pcmData)
	w.totalBytes += n
	return n, err
}

// Written reports how many PCM bytes went through after the header.
func (w *StreamingPCMToWAVWriter) Written() int {
	return w.totalBytes
}

// Samples16 encodes samples as little endian PCM.
func Samples16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RingTone synthesises one ring cadence: 440+480 Hz for on, silence for off.
func RingTone(onMillis, offMillis int) []byte {
	on := SampleRate * onMillis / 1000
	off := SampleRate * offMillis / 1000
	samples := make([]int16, on+off)
	for i := 0; i < on; i++ {
		t := float64(i) / SampleRate
		v := 0.25 * (math.Sin(2*math.Pi*440*t) + math.Sin(2*math.Pi*480*t))
		samples[i] = int16(v * math.MaxInt16)
	}
	return Samples16(samples)
}
