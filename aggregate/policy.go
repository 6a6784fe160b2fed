package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrUnknownPolicy = errors.New("unknown aggregation policy")
	ErrInvalidPolicy = errors.New("invalid aggregation policy parameters")
)

const (
	DefaultThreshold   = 0.4907
	DefaultOffset      = 0.001
	DefaultSensitivity = 2000.0

	// EmptyScoreSentinel is the average used when no photo was scored.
	EmptyScoreSentinel = -1.0
)

// PolicyKind selects how an average raw score maps to a probability.
type PolicyKind string

const (
	// PolicyAnomaly treats lower scores as more authentic.
	PolicyAnomaly PolicyKind = "anomaly"
	// PolicySimilarity treats scores above zero as authentic.
	PolicySimilarity PolicyKind = "similarity"
)

func (k PolicyKind) IsValid() bool {
	switch k {
	case PolicyAnomaly, PolicySimilarity:
		return true
	}
	return false
}

// ParsePolicyKind converts a configuration value to a PolicyKind.
func ParsePolicyKind(s string) (PolicyKind, error) {
	k := PolicyKind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
	return k, nil
}

// Policy is a tagged scoring strategy. Threshold applies to PolicyAnomaly;
// Offset and Sensitivity apply to PolicySimilarity.
type Policy struct {
	Kind        PolicyKind
	Threshold   float64
	Offset      float64
	Sensitivity float64
}

// AnomalyPolicy returns an anomaly policy with the given decision threshold.
func AnomalyPolicy(threshold float64) Policy {
	return Policy{Kind: PolicyAnomaly, Threshold: threshold}
}

// SimilarityPolicy returns a similarity policy.
func SimilarityPolicy(offset, sensitivity float64) Policy {
	return Policy{Kind: PolicySimilarity, Offset: offset, Sensitivity: sensitivity}
}

// DefaultPolicy returns the policy of the given kind with default parameters.
func DefaultPolicy(kind PolicyKind) Policy {
	if kind == PolicySimilarity {
		return SimilarityPolicy(DefaultOffset, DefaultSensitivity)
	}
	return AnomalyPolicy(DefaultThreshold)
}

func (p Policy) Validate() error {
	switch p.Kind {
	case PolicyAnomaly:
		if p.Threshold <= 0 {
			return fmt.Errorf("%w: threshold must be positive", ErrInvalidPolicy)
		}
	case PolicySimilarity:
		if p.Sensitivity <= 0 {
			return fmt.Errorf("%w: sensitivity must be positive", ErrInvalidPolicy)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, p.Kind)
	}
	return nil
}

// RawProbability applies the policy formula to avg without clamping or rounding.
func (p Policy) RawProbability(avg float64) float64 {
	switch p.Kind {
	case PolicySimilarity:
		adjusted := avg + p.Offset
		if adjusted > 0 {
			return 50 + 50*(1-math.Exp(-adjusted*p.Sensitivity))
		}
		return 50 - 50*(1-math.Exp(adjusted*p.Sensitivity))
	default:
		if avg <= p.Threshold {
			ratio := avg / p.Threshold
			return 100 - 25*ratio*ratio
		}
		return 75 * math.Exp(-(avg-p.Threshold)/p.Threshold)
	}
}

// Probability maps avg to an integer percentage in [0, 100].
func (p Policy) Probability(avg float64) int {
	raw := p.RawProbability(avg)
	if math.IsNaN(raw) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, raw))))
}

// Mean averages scores in key order, returning EmptyScoreSentinel for an empty set.
func Mean(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return EmptyScoreSentinel
	}

	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sum float64
	for _, k := range keys {
		sum += scores[k]
	}
	return sum / float64(len(scores))
}
