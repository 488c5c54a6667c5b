package dex

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes how a simulated venue prices and executes swaps.
type Profile struct {
	Name              string  `yaml:"name"`
	BasePrice         float64 `yaml:"basePrice"`
	PriceLow          float64 `yaml:"priceLow"`  // lower bound of the quote multiplier
	PriceHigh         float64 `yaml:"priceHigh"` // upper bound of the quote multiplier
	Fee               float64 `yaml:"fee"`       // decimal, e.g. 0.003 = 0.3%
	QuoteLatencyMinMs int     `yaml:"quoteLatencyMinMs"`
	QuoteLatencyMaxMs int     `yaml:"quoteLatencyMaxMs"`
	SwapLatencyMinMs  int     `yaml:"swapLatencyMinMs"`
	SwapLatencyMaxMs  int     `yaml:"swapLatencyMaxMs"`
	ExecPriceLow      float64 `yaml:"execPriceLow"`
	ExecPriceHigh     float64 `yaml:"execPriceHigh"`
	FailureRate       float64 `yaml:"failureRate"`
}

type profileFile struct {
	Venues []Profile `yaml:"venues"`
}

// DefaultProfiles returns the built-in raydium and meteora venues.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"raydium": {
			Name:              "raydium",
			BasePrice:         100,
			PriceLow:          0.98,
			PriceHigh:         1.02,
			Fee:               0.003,
			QuoteLatencyMinMs: 150,
			QuoteLatencyMaxMs: 250,
			SwapLatencyMinMs:  2000,
			SwapLatencyMaxMs:  3000,
			ExecPriceLow:      0.99,
			ExecPriceHigh:     1.01,
			FailureRate:       0.01,
		},
		"meteora": {
			Name:              "meteora",
			BasePrice:         100,
			PriceLow:          0.97,
			PriceHigh:         1.02,
			Fee:               0.002,
			QuoteLatencyMinMs: 150,
			QuoteLatencyMaxMs: 250,
			SwapLatencyMinMs:  2000,
			SwapLatencyMaxMs:  3000,
			ExecPriceLow:      0.99,
			ExecPriceHigh:     1.01,
			FailureRate:       0.01,
		},
	}
}

// LoadProfiles reads venue profiles from a YAML file and overlays them on the
// defaults. An empty path returns the defaults.
func LoadProfiles(path string) (map[string]Profile, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read venue profiles: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse venue profiles: %w", err)
	}
	for _, p := range file.Venues {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("venue %q: %w", p.Name, err)
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}

// Validate checks that a profile can produce positive prices.
func (p Profile) Validate() error {
	switch {
	case p.Name == "":
		return errors.New("name is required")
	case p.BasePrice <= 0:
		return errors.New("basePrice must be > 0")
	case p.PriceLow <= 0 || p.PriceHigh < p.PriceLow:
		return errors.New("priceLow must be > 0 and <= priceHigh")
	case p.ExecPriceLow <= 0 || p.ExecPriceHigh < p.ExecPriceLow:
		return errors.New("execPriceLow must be > 0 and <= execPriceHigh")
	case p.Fee < 0 || p.Fee >= 1:
		return errors.New("fee must be in [0,1)")
	case p.FailureRate < 0 || p.FailureRate > 1:
		return errors.New("failureRate must be in [0,1]")
	}
	return nil
}

// NewSimProviders builds simulated providers for names, in order.
func NewSimProviders(names []string, profiles map[string]Profile) ([]Provider, error) {
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		p, ok := profiles[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
		}
		out = append(out, NewSimVenue(p))
	}
	return out, nil
}
