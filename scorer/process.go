package scorer

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout = 120 * time.Second
	DefaultCommand = "python"

	// ImagePlaceholder in an argument is replaced with the image path.
	ImagePlaceholder = "{image}"
)

// DefaultArgs runs the bundled inference script.
var DefaultArgs = []string{"inference.py", "--image", ImagePlaceholder}

var (
	predictionPattern = regexp.MustCompile(`Prediction: (FAKE|REAL)`)
	scorePattern      = regexp.MustCompile(`Confidence Score: (-?[\d.]+)`)
)

// ProcessConfig configures an external scorer command.
type ProcessConfig struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// ProcessScorer runs an external model once per image and parses its report.
type ProcessScorer struct {
	runner  Runner
	command string
	args    []string
	timeout time.Duration
}

// NewProcessScorer creates a scorer running cfg through runner. Zero config
// values fall back to the defaults.
func NewProcessScorer(runner Runner, cfg ProcessConfig) *ProcessScorer {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if len(cfg.Args) == 0 {
		cfg.Args = DefaultArgs
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &ProcessScorer{
		runner:  runner,
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		timeout: cfg.Timeout,
	}
}

func (s *ProcessScorer) Score(ctx context.Context, imageRef string) (Outcome, error) {
	stdout, err := runProcess(ctx, s.runner, s.command, expandArgs(s.args, imageRef), s.timeout, imageRef)
	if err != nil {
		return Outcome{}, err
	}
	return ParseReport(imageRef, stdout)
}

// ParseReport extracts the prediction and confidence score from scorer stdout.
func ParseReport(imageRef string, stdout []byte) (Outcome, error) {
	text := string(stdout)
	pred := predictionPattern.FindStringSubmatch(text)
	score := scorePattern.FindStringSubmatch(text)
	if pred == nil || score == nil {
		return Outcome{}, newError(ErrParse, imageRef, "missing prediction or confidence score", nil)
	}

	raw, err := strconv.ParseFloat(score[1], 64)
	if err != nil {
		return Outcome{}, newError(ErrParse, imageRef, "malformed confidence score "+strconv.Quote(score[1]), err)
	}

	return Outcome{Label: Label(pred[1]), RawScore: raw}, nil
}

func expandArgs(args []string, imageRef string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, ImagePlaceholder, imageRef)
	}
	return out
}

// runProcess runs one bounded command and classifies its failure.
func runProcess(ctx context.Context, runner Runner, command string, args []string, timeout time.Duration, imageRef string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, err := runner.Run(runCtx, command, args...)
	if err == nil {
		return stdout, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, newError(ErrTimeout, imageRef, "killed after "+timeout.String(), err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, newError(ErrScorerFailure, imageRef, strings.TrimSpace(tail(string(stderr), 2<<10)), err)
	}
	return nil, newError(ErrUnavailable, imageRef, "could not start "+command, err)
}
