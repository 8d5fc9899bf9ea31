package risk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sniperswing/internal/domain"
	"sniperswing/internal/ports"
)

func mustSizer(t *testing.T, cfg Config) *Sizer {
	t.Helper()
	s, err := NewSizer(cfg)
	require.NoError(t, err)
	return s
}

func TestSizerSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRiskPerTrade = 10000
	cfg.StopLossFraction = 0.01
	cfg.MinLots = 1
	cfg.MaxLots = 10

	tests := []struct {
		name     string
		price    float64
		tier     domain.SignalTier
		stats    *domain.PerformanceStats
		lotSize  int
		expected int
	}{
		{
			name:  "neutral factor",
			price: 200,
			tier:  domain.TierValid,
			// 10000 / (200 * 0.01) = 5000 units, 100 full lots, capped at 10.
			lotSize:  50,
			expected: 500,
		},
		{
			name:     "scaling factor shrinks size",
			price:    200,
			tier:     domain.TierValid,
			stats:    &domain.PerformanceStats{ScalingFactor: 0.5},
			lotSize:  1000,
			expected: 2000, // 5000 * 0.5 = 2500 units, 2 whole lots
		},
		{
			name:     "scaling factor grows size",
			price:    200,
			tier:     domain.TierStrong,
			stats:    &domain.PerformanceStats{ScalingFactor: 2.0},
			lotSize:  1500,
			expected: 9000, // 10000 units, 6 whole lots
		},
		{
			name:     "weak tier takes the haircut",
			price:    200,
			tier:     domain.TierWeak,
			stats:    &domain.PerformanceStats{ScalingFactor: 1.0},
			lotSize:  1000,
			expected: 3000, // 5000 * 0.75 = 3750 units, 3 whole lots
		},
		{
			name:     "budget below one lot refuses with zero",
			price:    200,
			tier:     domain.TierValid,
			lotSize:  6000,
			expected: 0,
		},
		{
			name:     "runaway factor is re-clamped",
			price:    200,
			tier:     domain.TierStrong,
			stats:    &domain.PerformanceStats{ScalingFactor: 50},
			lotSize:  1000,
			expected: 10000, // clamped to 5.0: 25000 units, 25 lots, capped at 10
		},
		{
			name:     "zero factor falls back to neutral",
			price:    200,
			tier:     domain.TierValid,
			stats:    &domain.PerformanceStats{},
			lotSize:  1000,
			expected: 5000,
		},
	}

	s := mustSizer(t, cfg)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Size(tt.price, tt.tier, tt.stats, tt.lotSize)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			if tt.lotSize > 0 && got > 0 {
				assert.Zero(t, got%tt.lotSize, "quantity must be a whole number of lots")
			}
		})
	}
}

func TestSizerSizeRejectsBadInput(t *testing.T) {
	s := mustSizer(t, DefaultConfig())

	_, err := s.Size(0, domain.TierValid, nil, 50)
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))

	_, err = s.Size(200, domain.TierValid, nil, 0)
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))

	_, err = s.Size(200, domain.TierNone, nil, 50)
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))
}

func TestSizerStopLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLossFraction = 0.01
	s := mustSizer(t, cfg)

	assert.InDelta(t, 198.0, s.StopLevel(200, domain.Long), 0.0001)
	assert.InDelta(t, 202.0, s.StopLevel(200, domain.Short), 0.0001)
}

func TestSizerValidateEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOpenPositions = 2
	cfg.MaxTradesPerDay = 3
	s := mustSizer(t, cfg)

	assert.NoError(t, s.ValidateEntry(domain.TierValid, 1, 2))

	err := s.ValidateEntry(domain.TierNone, 0, 0)
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))

	err = s.ValidateEntry(domain.TierStrong, 2, 0)
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))

	err = s.ValidateEntry(domain.TierStrong, 0, 3)
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))
}

func TestSizerValidateEntryUnlimitedDailyCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerDay = 0
	s := mustSizer(t, cfg)

	assert.NoError(t, s.ValidateEntry(domain.TierValid, 0, 1000))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "zero risk", mutate: func(c *Config) { c.MaxRiskPerTrade = 0 }, expectError: true},
		{name: "stop fraction out of range", mutate: func(c *Config) { c.StopLossFraction = 1.5 }, expectError: true},
		{name: "inverted lot bounds", mutate: func(c *Config) { c.MaxLots = 0 }, expectError: true},
		{name: "modifier above one", mutate: func(c *Config) { c.WeakTierModifier = 1.2 }, expectError: true},
		{name: "inverted factor clamp", mutate: func(c *Config) { c.MaxFactor = 0.1 }, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
