package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// DefaultMediaTimeout is how long a bound call may go without far end audio
// before its media path is reported failed.
const DefaultMediaTimeout = 10 * time.Second

// Stream is the negotiated media of one dialog, carrying mu-law payloads.
type Stream interface {
	AudioReader() (io.Reader, error)
	AudioWriter() (io.Writer, error)
}

// Coordinator owns local capture and remote playback for every call that
// has media. Each call gets one pipeline, keyed by session id.
type Coordinator struct {
	provider     CaptureProvider
	sinks        SinkFactory
	clock        clock.Clock
	mediaTimeout time.Duration
	logger       zerolog.Logger

	onChange func(types.MediaPipelineState)

	mutex     sync.Mutex
	pipelines map[string]*pipeline
}

type pipeline struct {
	sessionID    string
	connectivity types.Connectivity
	capture      Capture
	sink         io.WriteCloser
	bound        bool
	muted        atomic.Bool
	held         atomic.Bool
	receiving    atomic.Bool
	lastPacket   atomic.Int64
	stopChan     chan struct{}
}

type CoordinatorOptions struct {
	// MediaTimeout defaults to DefaultMediaTimeout.
	MediaTimeout time.Duration
	Clock        clock.Clock
	Logger       zerolog.Logger
}

func NewCoordinator(provider CaptureProvider, sinks SinkFactory, opts CoordinatorOptions) *Coordinator {
	if sinks == nil {
		sinks = DiscardSinks
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = DefaultMediaTimeout
	}
	return &Coordinator{
		provider:     provider,
		sinks:        sinks,
		clock:        opts.Clock,
		mediaTimeout: opts.MediaTimeout,
		logger:       opts.Logger.With().Str("component", "media").Logger(),
		pipelines:    make(map[string]*pipeline),
	}
}

// OnChange registers the connectivity listener. Call before first use.
func (c *Coordinator) OnChange(fn func(types.MediaPipelineState)) {
	c.onChange = fn
}

func (c *Coordinator) notify(sessionID string, connectivity types.Connectivity) {
	if c.onChange != nil {
		c.onChange(types.MediaPipelineState{SessionID: sessionID, Connectivity: connectivity})
	}
}

// begin creates the pipeline for a session that starts negotiating media
// and reports whether it did. Nothing is created once ctx is done.
func (c *Coordinator) begin(ctx context.Context, sessionID string) (*pipeline, bool, error) {
	c.mutex.Lock()
	if err := ctx.Err(); err != nil {
		c.mutex.Unlock()
		return nil, false, fmt.Errorf("capture for %s: %w", sessionID, err)
	}
	p, exists := c.pipelines[sessionID]
	if !exists {
		p = &pipeline{
			sessionID:    sessionID,
			connectivity: types.ConnectivityNegotiating,
			stopChan:     make(chan struct{}),
		}
		c.pipelines[sessionID] = p
	}
	c.mutex.Unlock()

	if !exists {
		c.notify(sessionID, types.ConnectivityNegotiating)
	}
	return p, !exists, nil
}

// drop removes a pipeline that never got capture or remote media.
func (c *Coordinator) drop(p *pipeline) {
	c.mutex.Lock()
	if c.pipelines[p.sessionID] != p || p.bound || p.capture != nil {
		c.mutex.Unlock()
		return
	}
	delete(c.pipelines, p.sessionID)
	close(p.stopChan)
	c.mutex.Unlock()

	c.notify(p.sessionID, types.ConnectivityNone)
}

// AcquireLocalAudio opens local capture for the session. A grant that
// arrives after ctx is done or after ReleaseAll is closed and discarded,
// and a pipeline created for a failed acquisition is dropped.
func (c *Coordinator) AcquireLocalAudio(ctx context.Context, sessionID string) (Capture, error) {
	p, created, err := c.begin(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	capture, err := c.provider.Acquire(ctx)
	if err != nil {
		if created {
			c.drop(p)
		}
		if !errors.Is(err, types.ErrCaptureUnavailable) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", types.ErrCaptureUnavailable, err)
		}
		return nil, err
	}

	c.mutex.Lock()
	if c.pipelines[sessionID] != p || ctx.Err() != nil {
		c.mutex.Unlock()
		capture.Close()
		if created {
			c.drop(p)
		}
		c.logger.Debug().Str("call_id", sessionID).Msg("Discarding late capture grant")
		return nil, fmt.Errorf("capture for %s: %w", sessionID, types.ErrSessionNotFound)
	}
	if p.capture != nil {
		p.capture.Close()
	}
	p.capture = capture
	c.mutex.Unlock()

	return capture, nil
}

// BindRemote attaches the session's negotiated stream: local capture goes
// out to the far end and far end audio plays on a new sink.
func (c *Coordinator) BindRemote(sessionID string, stream Stream) error {
	c.mutex.Lock()
	p, exists := c.pipelines[sessionID]
	if !exists {
		c.mutex.Unlock()
		return types.ErrSessionNotFound
	}
	if p.bound {
		c.mutex.Unlock()
		return fmt.Errorf("media already bound for call %s", sessionID)
	}
	p.bound = true
	capture := p.capture
	c.mutex.Unlock()

	reader, err := stream.AudioReader()
	if err != nil {
		return fmt.Errorf("failed to get audio reader for call %s: %w", sessionID, err)
	}
	writer, err := stream.AudioWriter()
	if err != nil {
		return fmt.Errorf("failed to get audio writer for call %s: %w", sessionID, err)
	}
	sink, err := c.sinks(sessionID)
	if err != nil {
		c.logger.Warn().Err(err).Str("call_id", sessionID).Msg("Playback sink unavailable, discarding remote audio")
		sink, _ = DiscardSinks(sessionID)
	}

	c.mutex.Lock()
	if c.pipelines[sessionID] != p {
		c.mutex.Unlock()
		sink.Close()
		return types.ErrSessionNotFound
	}
	p.sink = sink
	p.lastPacket.Store(c.clock.Now().UnixNano())
	c.mutex.Unlock()

	go c.watchMedia(p, c.clock.Ticker(c.mediaTimeout/4))
	if capture != nil {
		go c.streamLocalToRemote(p, capture, writer)
	}
	go c.streamRemoteToLocal(p, reader, sink)

	c.logger.Debug().Str("call_id", sessionID).Msg("Media bound")
	return nil
}

// streamLocalToRemote sends captured frames to the far end. Held calls send
// nothing; muted calls send silence so the far end keeps its media timers.
func (c *Coordinator) streamLocalToRemote(p *pipeline, capture Capture, writer io.Writer) {
	buffer := make([]byte, SamplesPerFrame)
	silence := make([]byte, SamplesPerFrame)
	for i := range silence {
		silence[i] = ULawSilence
	}

	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		n, err := capture.Read(buffer)
		if err != nil {
			if !c.stopped(p) {
				c.logger.Warn().Err(err).Str("call_id", p.sessionID).Msg("Capture ended")
			}
			return
		}
		if n == 0 || p.held.Load() {
			continue
		}

		frame := buffer[:n]
		if p.muted.Load() {
			frame = silence[:n]
		}
		if _, err := writer.Write(frame); err != nil {
			if !c.stopped(p) {
				c.logger.Warn().Err(err).Str("call_id", p.sessionID).Msg("Write to remote failed")
			}
			return
		}
	}
}

// streamRemoteToLocal plays far end audio. Arriving audio marks the media
// path connected; a read error while the call is up marks it failed.
func (c *Coordinator) streamRemoteToLocal(p *pipeline, reader io.Reader, sink io.Writer) {
	buffer := make([]byte, 1024)
	wav := NewStreamingPCMToWAVWriter(sink)

	for {
		n, err := reader.Read(buffer)
		if n > 0 {
			p.lastPacket.Store(c.clock.Now().UnixNano())
			if !p.receiving.Swap(true) {
				c.setConnectivity(p, types.ConnectivityConnected)
			}
			if !p.held.Load() {
				if _, werr := wav.Write(DecodeULaw(buffer[:n])); werr != nil {
					c.logger.Debug().Err(werr).Str("call_id", p.sessionID).Msg("Playback write failed")
				}
			}
		}
		if err != nil {
			if c.stopped(p) {
				return
			}
			if errors.Is(err, io.EOF) {
				c.logger.Debug().Str("call_id", p.sessionID).Msg("Remote audio ended")
				return
			}
			c.logger.Warn().Err(err).Str("call_id", p.sessionID).Msg("Remote audio failed")
			p.receiving.Store(false)
			c.setConnectivity(p, types.ConnectivityFailed)
			return
		}
	}
}

func (c *Coordinator) stopped(p *pipeline) bool {
	select {
	case <-p.stopChan:
		return true
	default:
		return false
	}
}

// watchMedia reports the media path failed once a call that is not held
// goes MediaTimeout without far end audio. The next packet recovers it.
func (c *Coordinator) watchMedia(p *pipeline, ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
		}
		if p.held.Load() {
			continue
		}
		silent := c.clock.Now().Sub(time.Unix(0, p.lastPacket.Load()))
		if silent < c.mediaTimeout {
			continue
		}
		p.receiving.Store(false)
		c.setConnectivity(p, types.ConnectivityFailed)
	}
}

func (c *Coordinator) setConnectivity(p *pipeline, connectivity types.Connectivity) {
	c.mutex.Lock()
	if c.pipelines[p.sessionID] != p || p.connectivity == connectivity {
		c.mutex.Unlock()
		return
	}
	p.connectivity = connectivity
	c.mutex.Unlock()

	c.logger.Debug().Str("call_id", p.sessionID).Str("connectivity", string(connectivity)).Msg("Media connectivity changed")
	c.notify(p.sessionID, connectivity)
}

func (c *Coordinator) SetMuted(sessionID string, muted bool) error {
	p, err := c.get(sessionID)
	if err != nil {
		return err
	}
	p.muted.Store(muted)
	return nil
}

func (c *Coordinator) SetHeld(sessionID string, held bool) error {
	p, err := c.get(sessionID)
	if err != nil {
		return err
	}
	if !held {
		// silence while held does not count against the resumed call
		p.lastPacket.Store(c.clock.Now().UnixNano())
	}
	p.held.Store(held)
	return nil
}

func (c *Coordinator) get(sessionID string) (*pipeline, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	p, exists := c.pipelines[sessionID]
	if !exists {
		return nil, types.ErrSessionNotFound
	}
	return p, nil
}

func (c *Coordinator) Connectivity(sessionID string) types.Connectivity {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if p, exists := c.pipelines[sessionID]; exists {
		return p.connectivity
	}
	return types.ConnectivityNone
}

// ReleaseAll tears down both directions for the session. Safe to call more
// than once and for sessions that never had media.
func (c *Coordinator) ReleaseAll(sessionID string) {
	c.mutex.Lock()
	p, exists := c.pipelines[sessionID]
	if !exists {
		c.mutex.Unlock()
		return
	}
	delete(c.pipelines, sessionID)
	close(p.stopChan)
	capture, sink := p.capture, p.sink
	c.mutex.Unlock()

	if capture != nil {
		if err := capture.Close(); err != nil {
			c.logger.Debug().Err(err).Str("call_id", sessionID).Msg("Capture close")
		}
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			c.logger.Debug().Err(err).Str("call_id", sessionID).Msg("Sink close")
		}
	}

	c.logger.Debug().Str("call_id", sessionID).Msg("Media released")
	c.notify(sessionID, types.ConnectivityNone)
}

// Active returns the number of sessions holding media resources.
func (c *Coordinator) Active() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.pipelines)
}
