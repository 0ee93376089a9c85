// Package capture records mono audio from the default input device with
// malgo and delivers it as 16 kHz float32 chunks.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/visage/pkg/audio"
)

// ErrStarted is returned by Start on a capturer that is already running.
var ErrStarted = errors.New("capture: already started")

// PeriodMillis is the requested device period.
const PeriodMillis = 32

// Capturer streams microphone audio to a callback. The device callback only
// copies into a lock-free ring; a consumer goroutine resamples and invokes
// the callback, so a slow consumer drops periods instead of stalling the
// audio thread.
type Capturer struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	deviceRate int
	onChunk    func([]float32)

	ring      *ring
	resampler *audio.StreamResampler
	running   atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
	log     *slog.Logger
}

// New initialises the audio backend. onChunk receives every captured period
// resampled to [audio.TargetSampleRate]; it runs on a single goroutine.
func New(onChunk func([]float32)) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", err)
	}
	return &Capturer{
		ctx:     ctx,
		onChunk: onChunk,
		ring:    &ring{},
		stop:    make(chan struct{}),
		log:     slog.Default().With("component", "capture"),
	}, nil
}

// Start opens the default capture device and begins streaming.
func (c *Capturer) Start() error {
	if c.device != nil {
		return ErrStarted
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = audio.TargetSampleRate
	cfg.PeriodSizeInMilliseconds = PeriodMillis

	device, err := malgo.InitDevice(c.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			if !c.running.Load() {
				return
			}
			if !c.ring.pushLE(in) {
				if n := c.ring.Dropped(); n%100 == 1 {
					c.log.Warn("capture ring full, dropping audio", "dropped_periods", n)
				}
			}
		},
	})
	if err != nil {
		return fmt.Errorf("capture: init device: %w", err)
	}
	c.device = device
	c.deviceRate = int(device.SampleRate())
	if c.deviceRate != audio.TargetSampleRate {
		c.log.Info("resampling microphone input", "from", c.deviceRate, "to", audio.TargetSampleRate)
	}
	c.resampler, err = audio.NewStreamResampler(c.deviceRate, audio.TargetSampleRate)
	if err != nil {
		device.Uninit()
		c.device = nil
		return fmt.Errorf("capture: %w", err)
	}

	c.running.Store(true)
	c.wg.Add(1)
	go c.consume()

	if err := device.Start(); err != nil {
		c.Stop()
		return fmt.Errorf("capture: start device: %w", err)
	}
	c.log.Info("capture started", "device_rate", c.deviceRate, "period_ms", PeriodMillis)
	return nil
}

func (c *Capturer) consume() {
	defer c.wg.Done()
	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()

	for {
		if samples := c.ring.pop(); samples != nil {
			c.deliver(samples)
			continue
		}
		select {
		case <-c.stop:
			return
		case <-idle.C:
		}
	}
}

// deliver resamples one device period and hands the result to onChunk.
// Resampler state carries over between periods.
func (c *Capturer) deliver(samples []float32) {
	out := c.resampler.Process(samples)
	if c.onChunk != nil && len(out) > 0 {
		c.onChunk(out)
	}
}

// Stop halts the device and waits for the consumer to exit. Buffered
// periods not yet delivered are discarded.
func (c *Capturer) Stop() {
	c.running.Store(false)
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.wg.Wait()

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
}

// Dropped returns how many device periods were lost to a slow consumer.
func (c *Capturer) Dropped() uint64 { return c.ring.Dropped() }

// Close stops capture and releases the audio backend.
func (c *Capturer) Close() error {
	c.Stop()
	if c.ctx == nil {
		return nil
	}
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx = nil
	return err
}
