// Package clock estimates the offset between a local and a remote clock from
// four-timestamp probe exchanges and schedules the next probe.
package clock

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/replication/pkg/sequence"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("clock: invalid config")

// Config tunes the sample windows and the probe schedule.
type Config struct {
	// RoundTripSamples bounds the round-trip window.
	RoundTripSamples int `json:"round_trip_samples" yaml:"round_trip_samples"`
	// OffsetSamples bounds the offset window.
	OffsetSamples int `json:"offset_samples" yaml:"offset_samples"`
	// OutlierThreshold is the number of round-trip standard deviations a
	// sample may deviate before its offset is ignored.
	OutlierThreshold float64       `json:"outlier_threshold" yaml:"outlier_threshold"`
	MinSyncDelay     time.Duration `json:"min_sync_delay" yaml:"min_sync_delay"`
	MaxSyncDelay     time.Duration `json:"max_sync_delay" yaml:"max_sync_delay"`
}

// DefaultConfig keeps ten samples of each kind and probes every one to ten
// seconds.
func DefaultConfig() Config {
	return Config{
		RoundTripSamples: 10,
		OffsetSamples:    10,
		OutlierThreshold: 2.0,
		MinSyncDelay:     time.Second,
		MaxSyncDelay:     10 * time.Second,
	}
}

// Validate reports the first inconsistent field.
func (c Config) Validate() error {
	switch {
	case c.RoundTripSamples <= 0, c.OffsetSamples <= 0:
		return errors.Wrap(ErrInvalidConfig, "sample windows must be positive")
	case c.OutlierThreshold <= 0:
		return errors.Wrap(ErrInvalidConfig, "outlier threshold must be positive")
	case c.MinSyncDelay < 0, c.MaxSyncDelay < c.MinSyncDelay:
		return errors.Wrap(ErrInvalidConfig, "sync delays must satisfy 0 <= min <= max")
	}
	return nil
}

// window keeps a bounded set of samples together with their running sum and
// sum of squared deviations, so mean and variance cost O(1) per sample.
type window struct {
	ring *sequence.Ring[time.Duration]
	sum  time.Duration
	mean float64
	m2   float64
}

func newWindow(capacity int) *window {
	return &window{ring: sequence.NewRing[time.Duration](capacity)}
}

func (w *window) add(x time.Duration) {
	old, evicted := w.ring.Push(x)
	if evicted {
		w.remove(old, w.ring.Len())
	}
	n := float64(w.ring.Len())
	w.sum += x
	delta := float64(x) - w.mean
	w.mean += delta / n
	w.m2 += delta * (float64(x) - w.mean)
}

// remove drops x from the statistics of a window holding n samples, x among
// them, before the replacement is folded in.
func (w *window) remove(x time.Duration, n int) {
	w.sum -= x
	if n <= 1 {
		w.mean, w.m2 = 0, 0
		return
	}
	prev := w.mean
	w.mean = (prev*float64(n) - float64(x)) / float64(n-1)
	w.m2 -= (float64(x) - prev) * (float64(x) - w.mean)
	if w.m2 < 0 {
		w.m2 = 0
	}
}

func (w *window) len() int { return w.ring.Len() }

func (w *window) average() time.Duration {
	if w.len() == 0 {
		return 0
	}
	return w.sum / time.Duration(w.len())
}

// stddev is the population standard deviation in nanoseconds.
func (w *window) stddev() float64 {
	if w.len() == 0 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.len()))
}

// Synchronizer is safe for concurrent use, though one probing loop per peer
// pair is the expected caller.
type Synchronizer struct {
	cfg Config

	mu         sync.Mutex
	roundTrips *window
	offsets    *window
	lastSync   time.Time
}

// NewSynchronizer fills zero fields of cfg from DefaultConfig.
func NewSynchronizer(cfg Config) *Synchronizer {
	def := DefaultConfig()
	if cfg.RoundTripSamples <= 0 {
		cfg.RoundTripSamples = def.RoundTripSamples
	}
	if cfg.OffsetSamples <= 0 {
		cfg.OffsetSamples = def.OffsetSamples
	}
	if cfg.OutlierThreshold <= 0 {
		cfg.OutlierThreshold = def.OutlierThreshold
	}
	if cfg.MinSyncDelay <= 0 && cfg.MaxSyncDelay <= 0 {
		cfg.MinSyncDelay, cfg.MaxSyncDelay = def.MinSyncDelay, def.MaxSyncDelay
	}
	if cfg.MaxSyncDelay < cfg.MinSyncDelay {
		cfg.MaxSyncDelay = cfg.MinSyncDelay
	}
	return &Synchronizer{
		cfg:        cfg,
		roundTrips: newWindow(cfg.RoundTripSamples),
		offsets:    newWindow(cfg.OffsetSamples),
	}
}

// RecordSyncResult folds one probe exchange into the estimate. The four
// times are: request sent (local), request received (remote), response sent
// (remote), response received (local). It reports whether the offset sample
// was kept; round-trip statistics are updated either way.
func (s *Synchronizer) RecordSyncResult(sentRequest, receivedRequest, sentResponse, receivedResponse time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSync = receivedResponse
	roundTrip := receivedResponse.Sub(sentRequest)
	s.roundTrips.add(roundTrip)

	deviation := math.Abs(float64(roundTrip) - s.roundTrips.mean)
	if deviation > s.roundTrips.stddev()*s.cfg.OutlierThreshold {
		return false
	}

	offset := (receivedRequest.Sub(sentRequest) + sentResponse.Sub(receivedResponse)) / 2
	s.offsets.add(offset)
	return true
}

// AvgOffset is the mean of the kept offset samples, remote minus local.
func (s *Synchronizer) AvgOffset() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets.average()
}

// RemoteTime maps a local time onto the remote clock.
func (s *Synchronizer) RemoteTime(local time.Time) time.Time {
	return local.Add(s.AvgOffset())
}

// LastSyncTime is when the last probe response arrived.
func (s *Synchronizer) LastSyncTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// NextSyncTime schedules the next probe between MinSyncDelay and MaxSyncDelay
// after the last one. A stable round trip pushes it towards the maximum. With
// no samples the next probe is due immediately.
func (s *Synchronizer) NextSyncTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roundTrips.len() == 0 {
		return s.lastSync
	}
	return s.lastSync.Add(s.delay())
}

func (s *Synchronizer) delay() time.Duration {
	var cov float64
	if s.roundTrips.mean != 0 {
		cov = s.roundTrips.stddev() / s.roundTrips.mean
	}
	lo, hi := float64(s.cfg.MinSyncDelay), float64(s.cfg.MaxSyncDelay)
	d := lo + (hi-lo)*(1-cov)
	return time.Duration(math.Min(math.Max(d, lo), hi))
}

// RoundTripMean is the mean of the round-trip window.
func (s *Synchronizer) RoundTripMean() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundTrips.average()
}

// RoundTripStdDev is the population standard deviation of the round-trip
// window.
func (s *Synchronizer) RoundTripStdDev() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.roundTrips.stddev())
}

// Samples returns the number of round-trip and offset samples held.
func (s *Synchronizer) Samples() (roundTrips, offsets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundTrips.len(), s.offsets.len()
}
