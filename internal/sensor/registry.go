package sensor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-node/internal/driver"
	"github.com/nerrad567/gray-logic-node/internal/gpio"
)

// Defaults applied by New.
const (
	DefaultPollInterval  = 30 * time.Second
	DefaultStaleAfter    = 2 * time.Minute
	DefaultRemoteTimeout = 2 * time.Second
)

var errNoProcessor = errors.New("sensor: no remote processor")

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Provider builds sensor drivers. driver.Catalog implements it.
type Provider interface {
	NewSensor(cfg driver.Config) (driver.Sensor, error)
}

type slot struct {
	cfg         Config
	drv         driver.Sensor
	lastValue   float64
	lastQuality driver.Quality
	lastRead    time.Time
	lastAttempt time.Time
	stats       Stats
}

// Registry owns the configured sensor slots. Each slot holds its gpio as
// OwnerSensor in the arbiter and exclusively owns its driver.
//
// Hybrid (Pi-enhanced) slots resolve reads through the remote Processor
// first and fall back to the local driver on error or timeout. Reads hold
// the registry lock for their duration, including the remote call.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.Mutex
	arbiter  *gpio.Arbiter
	provider Provider
	max      int
	slots    map[int]*slot

	processor     Processor
	remoteTimeout time.Duration
	pollInterval  time.Duration
	staleAfter    time.Duration
	stats         Stats

	metrics *registryMetrics
	logger  Logger
	now     func() time.Time
}

// New creates a registry allowing at most maxSensors slots.
func New(arbiter *gpio.Arbiter, provider Provider, maxSensors int) *Registry {
	return &Registry{
		arbiter:       arbiter,
		provider:      provider,
		max:           maxSensors,
		slots:         make(map[int]*slot),
		remoteTimeout: DefaultRemoteTimeout,
		pollInterval:  DefaultPollInterval,
		staleAfter:    DefaultStaleAfter,
		logger:        noopLogger{},
		now:           time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// SetProcessor wires the remote processor used by Pi-enhanced slots and
// the bound on each remote call. A nil processor makes every hybrid read
// fall back.
func (r *Registry) SetProcessor(p Processor, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processor = p
	if timeout > 0 {
		r.remoteTimeout = timeout
	}
}

// SetPollInterval sets the default interval used by Poll.
func (r *Registry) SetPollInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.pollInterval = d
	}
}

// SetStaleAfter sets the age after which a slot without a successful read
// is reported Stale.
func (r *Registry) SetStaleAfter(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.staleAfter = d
	}
}

// SetMetrics registers the registry's Prometheus collectors with reg.
func (r *Registry) SetMetrics(reg prometheus.Registerer) error {
	m, err := newRegistryMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering sensor metrics: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
	m.setConfigured(len(r.slots))
	return nil
}

func tag(gpioNum int) string {
	return fmt.Sprintf("sensor:%d", gpioNum)
}

// Configure creates or replaces the slot on cfg.GPIO. A pin held by an
// actuator is ErrPinOwnedByActuator; other arbiter refusals are returned
// as-is. If the new driver fails to begin, no slot remains on the gpio.
func (r *Registry) Configure(ctx context.Context, cfg Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prior, replacing := r.slots[cfg.GPIO]
	if !replacing && len(r.slots) >= r.max {
		return fmt.Errorf("%w (%d)", ErrCapacity, r.max)
	}
	if r.arbiter.OwnerOf(cfg.GPIO) == gpio.OwnerActuator {
		return fmt.Errorf("%w: gpio %d (%s)", ErrPinOwnedByActuator, cfg.GPIO, r.arbiter.TagOf(cfg.GPIO))
	}
	t := tag(cfg.GPIO)
	if err := r.arbiter.CanClaim(cfg.GPIO, gpio.OwnerSensor, t); err != nil {
		return err
	}

	drv, err := r.provider.NewSensor(cfg.driverConfig())
	if err != nil {
		return fmt.Errorf("building %s driver: %w", cfg.Type, err)
	}

	if replacing {
		r.teardown(prior)
	}
	if err := r.arbiter.Claim(cfg.GPIO, gpio.OwnerSensor, t); err != nil {
		return err
	}
	if err := drv.Begin(cfg.driverConfig()); err != nil {
		r.release(cfg.GPIO)
		r.metrics.setConfigured(len(r.slots))
		return fmt.Errorf("starting %s driver on gpio %d: %w", cfg.Type, cfg.GPIO, err)
	}

	r.slots[cfg.GPIO] = &slot{cfg: cfg, drv: drv, lastQuality: driver.QualityStale}
	r.metrics.setConfigured(len(r.slots))
	r.logger.Info("sensor configured",
		"gpio", cfg.GPIO, "type", cfg.Type, "name", cfg.Name, "pi_enhanced", cfg.PiEnhanced, "replaced", replacing)
	return nil
}

// teardown ends the driver and releases the gpio. Caller holds r.mu.
func (r *Registry) teardown(s *slot) {
	if err := r.destroy(s); err != nil {
		r.logger.Warn("ending sensor driver failed", "gpio", s.cfg.GPIO, "error", err)
	}
	r.release(s.cfg.GPIO)
	delete(r.slots, s.cfg.GPIO)
}

func (r *Registry) destroy(s *slot) error {
	if d, ok := r.provider.(driver.Destroyer); ok {
		return d.Destroy(s.cfg.driverConfig(), s.drv)
	}
	return s.drv.End()
}

func (r *Registry) release(pin int) {
	if err := r.arbiter.Release(pin); err != nil {
		r.logger.Warn("releasing gpio failed", "gpio", pin, "error", err)
	}
}

// Remove ends the slot's driver and releases its gpio.
func (r *Registry) Remove(_ context.Context, gpioNum int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[gpioNum]
	if !ok {
		return fmt.Errorf("%w: gpio %d", ErrNotConfigured, gpioNum)
	}
	r.teardown(s)
	r.metrics.setConfigured(len(r.slots))
	r.logger.Info("sensor removed", "gpio", gpioNum)
	return nil
}

// Read resolves one measurement. A value outside the driver's valid range
// is ErrInvalidReading and does not count as a successful read.
func (r *Registry) Read(ctx context.Context, gpioNum int) (Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[gpioNum]
	if !ok {
		return Reading{}, fmt.Errorf("%w: gpio %d", ErrNotConfigured, gpioNum)
	}
	return r.read(ctx, s, r.now())
}

// read is the hybrid resolution path. Caller holds r.mu.
func (r *Registry) read(ctx context.Context, s *slot, now time.Time) (Reading, error) {
	s.lastAttempt = now
	rd := Reading{
		GPIO:      s.cfg.GPIO,
		Type:      s.cfg.Type,
		Name:      s.cfg.Name,
		SubzoneID: s.cfg.SubzoneID,
		Unit:      s.drv.Unit(),
		Source:    SourceLocal,
		Timestamp: now,
	}
	haveQuality := false

	if s.cfg.PiEnhanced {
		res, err := r.remote(ctx, s, now)
		s.stats.RequestsTotal++
		r.stats.RequestsTotal++
		r.metrics.remote(s.cfg.GPIO, err == nil)
		if err == nil {
			s.stats.RequestsSuccessRemote++
			r.stats.RequestsSuccessRemote++
			rd.Value = res.Value
			rd.Source = SourceRemote
			if res.Unit != "" {
				rd.Unit = res.Unit
			}
			rd.Quality, haveQuality = parseQuality(res.Quality)
		} else {
			s.stats.FallbackUses++
			r.stats.FallbackUses++
			r.logger.Debug("remote processing failed, using local driver", "gpio", s.cfg.GPIO, "error", err)
		}
	}

	if rd.Source == SourceLocal {
		v, err := s.drv.Read(ctx)
		if err != nil {
			return Reading{}, fmt.Errorf("reading gpio %d: %w", s.cfg.GPIO, err)
		}
		if !s.drv.Valid(v) {
			r.metrics.invalidReading(s.cfg.GPIO)
			return Reading{}, fmt.Errorf("%w: gpio %d value %g", ErrInvalidReading, s.cfg.GPIO, v)
		}
		rd.Value = v
	}
	if !haveQuality {
		rd.Quality = s.drv.Quality(rd.Value)
	}

	s.lastValue = rd.Value
	s.lastQuality = rd.Quality
	s.lastRead = now
	return rd, nil
}

// remote reads the raw value locally and asks the processor to convert it
// within remoteTimeout. A result the driver considers invalid is an error.
func (r *Registry) remote(ctx context.Context, s *slot, now time.Time) (RemoteResult, error) {
	if r.processor == nil {
		return RemoteResult{}, errNoProcessor
	}

	var (
		raw float64
		err error
	)
	if rr, ok := s.drv.(driver.RawReader); ok {
		raw, err = rr.ReadRaw(ctx)
	} else {
		raw, err = s.drv.Read(ctx)
	}
	if err != nil {
		return RemoteResult{}, fmt.Errorf("raw read: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()
	res, err := r.processor.Process(rctx, RemoteRequest{
		GPIO:       s.cfg.GPIO,
		SensorType: s.cfg.Type,
		RawValue:   raw,
		Timestamp:  now.UTC(),
	})
	if err != nil {
		return RemoteResult{}, err
	}
	if !s.drv.Valid(res.Value) {
		return RemoteResult{}, fmt.Errorf("%w: remote value %g", ErrInvalidReading, res.Value)
	}
	return res, nil
}

// Poll reads every slot whose poll interval has elapsed since its last
// attempt, in gpio order. Failed reads are joined into the returned error;
// successful readings are returned regardless.
func (r *Registry) Poll(ctx context.Context, now time.Time) ([]Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		out  []Reading
		errs []error
	)
	for _, g := range r.gpios() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		s := r.slots[g]
		interval := r.pollInterval
		if s.cfg.PollIntervalMS > 0 {
			interval = time.Duration(s.cfg.PollIntervalMS) * time.Millisecond
		}
		if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < interval {
			continue
		}
		rd, err := r.read(ctx, s, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, rd)
	}
	return out, errors.Join(errs...)
}

// gpios returns configured gpios in ascending order. Caller holds r.mu.
func (r *Registry) gpios() []int {
	out := make([]int, 0, len(r.slots))
	for g := range r.slots {
		out = append(out, g)
	}
	sort.Ints(out)
	return out
}

// HasSensorOn reports whether a slot exists on gpio.
func (r *Registry) HasSensorOn(gpioNum int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.slots[gpioNum]
	return ok
}

// Config returns the slot's configuration.
func (r *Registry) Config(gpioNum int) (Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[gpioNum]
	if !ok {
		return Config{}, false
	}
	return s.cfg, true
}

// Info returns the slot's published view with quality evaluated now.
func (r *Registry) Info(gpioNum int) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[gpioNum]
	if !ok {
		return Info{}, false
	}
	return r.info(s, r.now()), true
}

func (r *Registry) info(s *slot, now time.Time) Info {
	in := Info{
		GPIO:       s.cfg.GPIO,
		Type:       s.cfg.Type,
		Name:       s.cfg.Name,
		SubzoneID:  s.cfg.SubzoneID,
		PiEnhanced: s.cfg.PiEnhanced,
		Library:    s.cfg.Library,
		Unit:       s.drv.Unit(),
		LastValue:  s.lastValue,
		Quality:    r.quality(s, now),
		Stats:      s.stats,
	}
	if !s.lastRead.IsZero() {
		t := s.lastRead
		in.LastRead = &t
	}
	return in
}

// quality is Stale when the last successful read is missing or older than
// staleAfter, whatever the driver said at the time.
func (r *Registry) quality(s *slot, now time.Time) driver.Quality {
	if s.lastRead.IsZero() || now.Sub(s.lastRead) > r.staleAfter {
		return driver.QualityStale
	}
	return s.lastQuality
}

// List returns every slot's info in gpio order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := make([]Info, 0, len(r.slots))
	for _, g := range r.gpios() {
		out = append(out, r.info(r.slots[g], now))
	}
	return out
}

// Stats returns the registry-wide hybrid counters. They survive slot removal.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Count returns the number of configured slots.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// LibraryInUse reports whether any slot's driver came from the named library.
func (r *Registry) LibraryInUse(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.cfg.Library == name {
			return true
		}
	}
	return false
}
