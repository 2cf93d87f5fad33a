package mdmonitor

import (
	"fmt"

	"github.com/prometheus/common/model"
)

// Snapshot metric label names (spec.md makes no metrics claim; this is
// a SPEC_FULL.md addition giving the monitor's already-collected
// per-array state a typed label surface instead of raw strings).
const (
	labelArray     = model.LabelName("array")
	labelContainer = model.LabelName("container")
)

// Metric is one array's point-in-time gauge snapshot with validated
// Prometheus labels.
type Metric struct {
	Labels         model.LabelSet
	Active         float64
	Working        float64
	Failed         float64
	Spare          float64
	RebuildPercent float64
}

// NewMetric builds a label-validated Metric from a Snapshot, returning
// an error if the array/container name is not a legal Prometheus label
// value (model.LabelSet.Validate enforces UTF-8 well-formedness; names
// are free-form strings, not restricted to the label-name charset).
func NewMetric(s Snapshot) (Metric, error) {
	ls := model.LabelSet{
		labelArray: model.LabelValue(s.Array),
	}
	if s.Container != "" {
		ls[labelContainer] = model.LabelValue(s.Container)
	}
	if err := ls.Validate(); err != nil {
		return Metric{}, fmt.Errorf("mdmonitor: invalid metric labels for array %q: %w", s.Array, err)
	}

	rebuild := float64(-1)
	if s.RebuildPercent >= 0 {
		rebuild = float64(s.RebuildPercent)
	}

	return Metric{
		Labels:         ls,
		Active:         float64(s.Active),
		Working:        float64(s.Working),
		Failed:         float64(s.Failed),
		Spare:          float64(s.Spare),
		RebuildPercent: rebuild,
	}, nil
}
