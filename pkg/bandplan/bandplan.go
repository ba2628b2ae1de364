package bandplan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Band struct {
	Name   string  `yaml:"name" json:"name"`
	MinKHz float64 `yaml:"min_khz" json:"min_khz"`
	MaxKHz float64 `yaml:"max_khz" json:"max_khz"`
}

type Plan struct {
	Bands []Band `yaml:"bands" json:"bands"`
}

// Load reads a band plan from a yaml file, falling back to the built-in plan
// when no path is given.
func Load(path string) (Plan, error) {
	if path == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Default(), err
	}
	var plan Plan
	if err := yaml.Unmarshal(content, &plan); err != nil {
		return Plan{}, err
	}
	if len(plan.Bands) == 0 {
		return Plan{}, fmt.Errorf("band plan empty")
	}
	return plan, nil
}

// ForFrequency returns the band containing the given frequency in kHz.
func (p Plan) ForFrequency(khz float64) (Band, bool) {
	for _, b := range p.Bands {
		if khz >= b.MinKHz && khz <= b.MaxKHz {
			return b, true
		}
	}
	return Band{}, false
}

// Normalize maps a free-form band label ("20M", " 20m ") onto the plan's
// canonical lowercase name. Unknown labels come back lowercased unchanged.
func (p Plan) Normalize(name string) string {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	for _, b := range p.Bands {
		if b.Name == trimmed {
			return b.Name
		}
	}
	return trimmed
}

// Default covers the HF/VHF/UHF allocations the supported services report.
func Default() Plan {
	return Plan{Bands: []Band{
		{Name: "160m", MinKHz: 1800, MaxKHz: 2000},
		{Name: "80m", MinKHz: 3500, MaxKHz: 4000},
		{Name: "60m", MinKHz: 5250, MaxKHz: 5450},
		{Name: "40m", MinKHz: 7000, MaxKHz: 7300},
		{Name: "30m", MinKHz: 10100, MaxKHz: 10150},
		{Name: "20m", MinKHz: 14000, MaxKHz: 14350},
		{Name: "17m", MinKHz: 18068, MaxKHz: 18168},
		{Name: "15m", MinKHz: 21000, MaxKHz: 21450},
		{Name: "12m", MinKHz: 24890, MaxKHz: 24990},
		{Name: "10m", MinKHz: 28000, MaxKHz: 29700},
		{Name: "6m", MinKHz: 50000, MaxKHz: 54000},
		{Name: "4m", MinKHz: 70000, MaxKHz: 70500},
		{Name: "2m", MinKHz: 144000, MaxKHz: 148000},
		{Name: "70cm", MinKHz: 420000, MaxKHz: 450000},
		{Name: "23cm", MinKHz: 1240000, MaxKHz: 1300000},
	}}
}
