package health

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Weights are the per-dimension blend weights. They are normalized by
// their sum when blending, so they need not sum to exactly 1.
type Weights struct {
	Payment    float64 `yaml:"payment"`
	Engagement float64 `yaml:"engagement"`
	Support    float64 `yaml:"support"`
	Growth     float64 `yaml:"growth"`
}

// DefaultWeights returns the standard blend.
func DefaultWeights() Weights {
	return Weights{Payment: 0.40, Engagement: 0.25, Support: 0.20, Growth: 0.15}
}

// LoadWeights reads a YAML weight override file. An empty path returns
// the defaults.
func LoadWeights(path string) (Weights, error) {
	if path == "" {
		return DefaultWeights(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, eris.Wrapf(err, "health: read weights %s", path)
	}
	w := DefaultWeights()
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Weights{}, eris.Wrapf(err, "health: parse weights %s", path)
	}
	if w.Payment < 0 || w.Engagement < 0 || w.Support < 0 || w.Growth < 0 {
		return Weights{}, eris.New("health: weights must be non-negative")
	}
	if w.Payment+w.Engagement+w.Support+w.Growth <= 0 {
		return Weights{}, eris.New("health: weights must not all be zero")
	}
	return w, nil
}
