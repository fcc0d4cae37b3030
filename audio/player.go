package audio

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Ringer plays the local alert while an incoming call rings. One alert at a
// time; Start and Stop are idempotent.
type Ringer struct {
	sinks    SinkFactory
	clock    clock.Clock
	interval time.Duration
	tone     []byte
	logger   zerolog.Logger

	mutex    sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

func NewRinger(sinks SinkFactory, clk clock.Clock, interval time.Duration, logger zerolog.Logger) *Ringer {
	if sinks == nil {
		sinks = DiscardSinks
	}
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = 4 * time.Second
	}
	tone, _ := PCMToWAV(RingTone(2000, 0))
	return &Ringer{
		sinks:    sinks,
		clock:    clk,
		interval: interval,
		tone:     tone,
		logger:   logger.With().Str("component", "ringer").Logger(),
	}
}

func (r *Ringer) Start() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.stopChan != nil {
		return
	}
	r.stopChan = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(r.stopChan, r.done)
}

// Stop silences the alert and waits for the current playback to finish.
func (r *Ringer) Stop() {
	r.mutex.Lock()
	stopChan, done := r.stopChan, r.done
	r.stopChan, r.done = nil, nil
	r.mutex.Unlock()

	if stopChan == nil {
		return
	}
	close(stopChan)
	<-done
}

func (r *Ringer) Ringing() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.stopChan != nil
}

func (r *Ringer) loop(stopChan <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.play()
	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			r.play()
		}
	}
}

func (r *Ringer) play() {
	sink, err := r.sinks("ring")
	if err != nil {
		r.logger.Warn().Err(err).Msg("Ring alert unavailable")
		return
	}
	defer sink.Close()

	if _, err := sink.Write(r.tone); err != nil {
		r.logger.Debug().Err(err).Msg("Ring alert write failed")
	}
}
