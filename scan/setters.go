package scan

import (
	"github.com/medguard-ai/medguard/aggregate"
	"github.com/medguard-ai/medguard/vectordb"
)

func AttachPhoto(role Role, ref string) UpdateSetter {
	return func(j *Job) error {
		return j.AttachPhoto(role, ref)
	}
}

func RecordScore(role Role, score float64, matches []vectordb.Match) UpdateSetter {
	return func(j *Job) error {
		return j.RecordScore(role, score, matches)
	}
}

func Finalize(res *aggregate.Result) UpdateSetter {
	return func(j *Job) error {
		return j.Finalize(res)
	}
}

// FinalizeWith computes the result from the job's stored scores inside the
// same critical section that completes it.
func FinalizeWith(engine *aggregate.Engine, policy aggregate.Policy) UpdateSetter {
	return func(j *Job) error {
		if j.Status == StatusFailed {
			return ErrJobTerminal
		}
		return j.Finalize(engine.Aggregate(policy, j.AggregationInput()))
	}
}

func Fail(reason string) UpdateSetter {
	return func(j *Job) error {
		return j.Fail(reason)
	}
}

// Chain applies setters in order, stopping at the first error.
func Chain(setters ...UpdateSetter) UpdateSetter {
	return func(j *Job) error {
		for _, s := range setters {
			if err := s(j); err != nil {
				return err
			}
		}
		return nil
	}
}
