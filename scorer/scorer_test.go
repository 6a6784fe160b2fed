package scorer

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/medguard-ai/medguard/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRunner returns canned process output and records the last invocation.
type stubRunner struct {
	stdout, stderr string
	err            error
	name           string
	args           []string
}

func (r *stubRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.name = name
	r.args = args
	return []byte(r.stdout), []byte(r.stderr), r.err
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestParseReport(t *testing.T) {
	t.Run("real prediction", func(t *testing.T) {
		out, err := ParseReport("a.jpg", []byte("Using device: cpu\n--- Inference Result ---\nPrediction: REAL\nConfidence Score: 0.0123\n"))
		require.NoError(t, err)
		assert.Equal(t, LabelReal, out.Label)
		assert.InDelta(t, 0.0123, out.RawScore, 1e-12)
	})

	t.Run("negative score", func(t *testing.T) {
		out, err := ParseReport("a.jpg", []byte("Prediction: FAKE\nConfidence Score: -0.6000"))
		require.NoError(t, err)
		assert.Equal(t, LabelFake, out.Label)
		assert.InDelta(t, -0.6, out.RawScore, 1e-12)
	})

	t.Run("missing score", func(t *testing.T) {
		_, err := ParseReport("a.jpg", []byte("Prediction: REAL"))
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("malformed score", func(t *testing.T) {
		_, err := ParseReport("a.jpg", []byte("Prediction: REAL\nConfidence Score: 1.2.3"))
		assert.ErrorIs(t, err, ErrParse)

		var scoreErr *Error
		require.True(t, errors.As(err, &scoreErr))
		assert.Equal(t, "a.jpg", scoreErr.Image)
	})
}

func TestProcessScorer_WithStubRunner(t *testing.T) {
	t.Run("expands image placeholder", func(t *testing.T) {
		runner := &stubRunner{stdout: "Prediction: REAL\nConfidence Score: 0.2"}
		s := NewProcessScorer(runner, ProcessConfig{})

		out, err := s.Score(context.Background(), "/tmp/front.jpg")
		require.NoError(t, err)
		assert.Equal(t, 0.2, out.RawScore)
		assert.Equal(t, DefaultCommand, runner.name)
		assert.Equal(t, []string{"inference.py", "--image", "/tmp/front.jpg"}, runner.args)
	})

	t.Run("spawn failure is unavailable", func(t *testing.T) {
		runner := &stubRunner{err: exec.ErrNotFound}
		s := NewProcessScorer(runner, ProcessConfig{Command: "missing"})

		_, err := s.Score(context.Background(), "x.jpg")
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, err, exec.ErrNotFound)
	})
}

func TestProcessScorer_WithExecRunner(t *testing.T) {
	requireShell(t)
	runner := ExecRunner{Logger: logger.NewTestLogger()}

	t.Run("parses process output", func(t *testing.T) {
		s := NewProcessScorer(runner, ProcessConfig{
			Command: "sh",
			Args:    []string{"-c", `echo "scoring $0"; echo "Prediction: REAL"; echo "Confidence Score: 0.3100"`, ImagePlaceholder},
		})
		out, err := s.Score(context.Background(), "front.jpg")
		require.NoError(t, err)
		assert.Equal(t, LabelReal, out.Label)
		assert.InDelta(t, 0.31, out.RawScore, 1e-12)
	})

	t.Run("non-zero exit is scorer failure", func(t *testing.T) {
		s := NewProcessScorer(runner, ProcessConfig{
			Command: "sh",
			Args:    []string{"-c", "echo model missing >&2; exit 3"},
		})
		_, err := s.Score(context.Background(), "front.jpg")
		require.ErrorIs(t, err, ErrScorerFailure)
		assert.Contains(t, err.Error(), "model missing")
	})

	t.Run("unparseable output is parse error", func(t *testing.T) {
		s := NewProcessScorer(runner, ProcessConfig{
			Command: "sh",
			Args:    []string{"-c", "echo hello"},
		})
		_, err := s.Score(context.Background(), "front.jpg")
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("slow process is killed", func(t *testing.T) {
		s := NewProcessScorer(runner, ProcessConfig{
			Command: "sh",
			Args:    []string{"-c", "sleep 10"},
			Timeout: 100 * time.Millisecond,
		})
		start := time.Now()
		_, err := s.Score(context.Background(), "front.jpg")
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("missing executable is unavailable", func(t *testing.T) {
		s := NewProcessScorer(runner, ProcessConfig{Command: "/nonexistent/medguard-scorer"})
		_, err := s.Score(context.Background(), "front.jpg")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("caller cancellation is returned as is", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s := NewProcessScorer(runner, ProcessConfig{Command: "sh", Args: []string{"-c", "sleep 10"}})
		_, err := s.Score(ctx, "front.jpg")
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimeout)
	})
}

func TestFuncAndStatic(t *testing.T) {
	f := Func(func(ctx context.Context, imageRef string) (Outcome, error) {
		return Outcome{RawScore: float64(len(imageRef))}, nil
	})
	out, err := f.Score(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 3.0, out.RawScore)

	s := Static{
		Outcomes: map[string]Outcome{"front": {Label: LabelFake, RawScore: 0.9}},
		Default:  Outcome{Label: LabelReal, RawScore: 0.1},
	}
	out, err = s.Score(context.Background(), "front")
	require.NoError(t, err)
	assert.Equal(t, LabelFake, out.Label)
	out, err = s.Score(context.Background(), "back")
	require.NoError(t, err)
	assert.Equal(t, 0.1, out.RawScore)
}
