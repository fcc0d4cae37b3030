//go:build linux

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/pion/mediadevices"
	mdaudio "github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"

	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

type microphoneProvider struct{}

func newMicrophoneProvider() CaptureProvider {
	return microphoneProvider{}
}

// Acquire opens the default microphone through pion/mediadevices.
func (microphoneProvider) Acquire(ctx context.Context) (Capture, error) {
	type result struct {
		capture Capture
		err     error
	}
	done := make(chan result, 1)

	go func() {
		stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Audio: func(c *mediadevices.MediaTrackConstraints) {
				c.SampleRate = prop.Int(SampleRate)
				c.ChannelCount = prop.Int(1)
			},
		})
		if err != nil {
			done <- result{err: fmt.Errorf("%w: %v", types.ErrCaptureUnavailable, err)}
			return
		}
		tracks := stream.GetAudioTracks()
		if len(tracks) == 0 {
			done <- result{err: fmt.Errorf("%w: no audio track", types.ErrCaptureUnavailable)}
			return
		}
		track, ok := tracks[0].(*mediadevices.AudioTrack)
		if !ok {
			tracks[0].Close()
			done <- result{err: fmt.Errorf("%w: unexpected track type %T", types.ErrCaptureUnavailable, tracks[0])}
			return
		}
		done <- result{capture: &microphoneCapture{track: track, reader: track.NewReader(false)}}
	}()

	select {
	case res := <-done:
		return res.capture, res.err
	case <-ctx.Done():
		// a grant that arrives after cancellation is released
		go func() {
			if res := <-done; res.capture != nil {
				res.capture.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

type microphoneCapture struct {
	track  *mediadevices.AudioTrack
	reader mdaudio.Reader

	mutex   sync.Mutex
	pending []byte
	once    sync.Once
}

func (m *microphoneCapture) Read(p []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for len(m.pending) == 0 {
		chunk, release, err := m.reader.Read()
		if err != nil {
			return 0, err
		}
		m.pending = append(m.pending, encodeChunk(chunk)...)
		release()
	}

	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *microphoneCapture) Close() error {
	var err error
	m.once.Do(func() { err = m.track.Close() })
	return err
}

// encodeChunk downmixes to the first channel, decimates to 8 kHz and
// encodes mu-law.
func encodeChunk(chunk wave.Audio) []byte {
	info := chunk.ChunkInfo()
	step := 1
	if info.SamplingRate > SampleRate {
		step = info.SamplingRate / SampleRate
	}
	channels := max(info.Channels, 1)

	out := make([]byte, 0, info.Len/step+1)
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		for i := 0; i < info.Len; i += step {
			out = append(out, LinearToULaw(c.Data[i*channels]))
		}
	case *wave.Float32Interleaved:
		for i := 0; i < info.Len; i += step {
			v := c.Data[i*channels]
			v = min(max(v, -1), 1)
			out = append(out, LinearToULaw(int16(v*32767)))
		}
	}
	return out
}
