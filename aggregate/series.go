package aggregate

import (
	"encoding/json"
	"fmt"
)

// Series holds per-trial attribute values of one (allocator, benchmark)
// pair.
type Series struct {
	Target     string
	Workload   string
	Attributes []string
	// Values maps each attribute to its values in trial order.
	Values map[string][]float64
	// Average selects the reduced JSON form.
	Average bool
}

// Sweep maps registry names to series. A nil entry marks a failed pair.
type Sweep map[string]*Series

// Trials returns the number of collected trials.
func (s *Series) Trials() int {
	if len(s.Attributes) == 0 {
		return 0
	}

	return len(s.Values[s.Attributes[0]])
}

// Mean returns the arithmetic mean of attr over all trials.
func (s *Series) Mean(attr string) (float64, error) {
	values, ok := s.Values[attr]
	if !ok || len(values) == 0 {
		return 0, fmt.Errorf("%s/%s: no values for %s", s.Target, s.Workload, attr)
	}

	return mean(values), nil
}

// MarshalJSON encodes {attr: mean} when averaging and {attr: [v...]}
// otherwise.
func (s *Series) MarshalJSON() ([]byte, error) {
	if !s.Average {
		return json.Marshal(s.Values)
	}

	means := make(map[string]float64, len(s.Values))
	for attr, values := range s.Values {
		if len(values) == 0 {
			continue
		}
		means[attr] = mean(values)
	}

	return json.Marshal(means)
}

// mean is sum over count, except that identical samples reduce to the
// sample itself: 0.1+0.1+0.1 is not 0.3 in binary floating point.
func mean(values []float64) float64 {
	var sum float64
	same := true
	for _, v := range values {
		sum += v
		same = same && v == values[0]
	}

	if same {
		return values[0]
	}

	return sum / float64(len(values))
}
