package sensor

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// Source produces readings from a sensor device
type Source interface {
	// Read performs a single reading. The returned reading carries no
	// sensor metadata; the Reader stamps it.
	Read() (*models.Reading, error)

	// Close releases device resources
	Close() error
}

// ErrorCodeSensorFailure marks readings produced by a failing device
const ErrorCodeSensorFailure = "SENSOR_FAILURE"

// Profile holds one value per measurement field
type Profile struct {
	Temperature float64 `yaml:"temperature"`
	Weight      float64 `yaml:"weight"`
	Moisture    float64 `yaml:"moisture"`
	Pressure    float64 `yaml:"pressure"`
}

// SimulatorConfig parameterizes the simulated sensor
type SimulatorConfig struct {
	Base               Profile `yaml:"base"`
	Variation          Profile `yaml:"variation"`
	Noise              float64 `yaml:"noise"`
	AnomalyProbability float64 `yaml:"anomaly_probability"`
	WeatherProbability float64 `yaml:"weather_probability"`
	FailureProbability float64 `yaml:"failure_probability"`
	BatteryDrainPerHr  float64 `yaml:"battery_drain_per_hour"`
	Seed               uint64  `yaml:"seed"`
}

// DefaultSimulatorConfig returns a storage room profile: 22°C, 50 kg,
// 45% moisture at sea level pressure
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Base:               Profile{Temperature: 22, Weight: 50, Moisture: 45, Pressure: 101325},
		Variation:          Profile{Temperature: 5, Weight: 10, Moisture: 15, Pressure: 1000},
		Noise:              0.1,
		AnomalyProbability: 0.05,
		WeatherProbability: 0.1,
		BatteryDrainPerHr:  0.5,
	}
}

// Validate checks probabilities and variations
func (c SimulatorConfig) Validate() error {
	for name, p := range map[string]float64{
		"anomaly_probability": c.AnomalyProbability,
		"weather_probability": c.WeatherProbability,
		"failure_probability": c.FailureProbability,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, p)
		}
	}
	if c.Noise < 0 {
		return fmt.Errorf("noise must not be negative")
	}
	if c.Variation.Temperature < 0 || c.Variation.Weight < 0 || c.Variation.Moisture < 0 || c.Variation.Pressure < 0 {
		return fmt.Errorf("variation must not be negative")
	}
	return nil
}

// Simulator is a Source generating plausible readings with a daily
// temperature cycle, moisture moving against temperature, random anomalies
// and an optional failure mode that emits out of range readings.
type Simulator struct {
	cfg   SimulatorConfig
	start time.Time
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulator. A zero seed draws a random one.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulator{
		cfg:   cfg,
		start: time.Now(),
		now:   time.Now,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Read generates one reading
func (s *Simulator) Read() (*models.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if s.cfg.FailureProbability > 0 && s.rng.Float64() < s.cfg.FailureProbability {
		return &models.Reading{
			Timestamp:   now,
			Temperature: math.NaN(),
			Weight:      -999,
			Moisture:    150,
			Pressure:    0,
			ErrorCode:   ErrorCodeSensorFailure,
		}, nil
	}

	// +1 at 06:00, -1 at 18:00
	cycle := math.Sin(2 * math.Pi * float64(now.Hour()) / 24)

	temp := s.cfg.Base.Temperature + cycle*3 + s.spread(s.cfg.Variation.Temperature) + s.noise(1)
	if s.chance(s.cfg.AnomalyProbability) {
		temp += s.uniform(-10, 15)
	}

	weight := s.cfg.Base.Weight + s.spread(s.cfg.Variation.Weight) + s.noise(0.5)
	if s.chance(s.cfg.AnomalyProbability / 2) {
		weight += s.uniform(-20, 20)
	}

	moisture := s.cfg.Base.Moisture - cycle*5 + s.spread(s.cfg.Variation.Moisture) + s.noise(1)
	if s.chance(s.cfg.AnomalyProbability) {
		moisture += s.uniform(-20, 25)
	}

	pressure := s.cfg.Base.Pressure + s.spread(s.cfg.Variation.Pressure) + s.noise(10)
	if s.chance(s.cfg.WeatherProbability) {
		pressure += s.uniform(-2000, 2000)
	}

	reading := &models.Reading{Timestamp: now}
	for f, v := range map[models.Field]float64{
		models.FieldTemperature: temp,
		models.FieldWeight:      weight,
		models.FieldMoisture:    moisture,
		models.FieldPressure:    pressure,
	} {
		rng := f.Range()
		reading.SetValue(f, round2(math.Max(rng.Min, math.Min(rng.Max, v))))
	}

	battery := round2(math.Max(0, math.Min(100, 100-s.cfg.BatteryDrainPerHr*now.Sub(s.start).Hours())))
	signal := round2(-60 + s.rng.NormFloat64()*5)
	reading.BatteryLevel = &battery
	reading.SignalStrength = &signal

	return reading, nil
}

// Close is a no-op for the simulator
func (s *Simulator) Close() error {
	return nil
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

// spread draws uniformly from [-width/2, width/2]
func (s *Simulator) spread(width float64) float64 {
	if width == 0 {
		return 0
	}
	return s.uniform(-width/2, width/2)
}

func (s *Simulator) noise(scale float64) float64 {
	if s.cfg.Noise == 0 {
		return 0
	}
	return s.rng.NormFloat64() * s.cfg.Noise * scale
}

func (s *Simulator) chance(p float64) bool {
	return p > 0 && s.rng.Float64() < p
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
