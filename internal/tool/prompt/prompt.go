package prompt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/tool"
)

// ConfirmerConfig is the configuration of the terminal confirmer.
type ConfirmerConfig struct {
	In     io.Reader
	Out    io.Writer
	Logger log.Logger
}

func (c *ConfirmerConfig) defaults() error {
	if c.In == nil {
		return fmt.Errorf("input is required")
	}
	if c.Out == nil {
		c.Out = io.Discard
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "prompt.Confirmer"})
	return nil
}

// Confirmer asks for the approval of gated steps on a terminal. Questions are
// serialized so parallel steps never interleave their prompts.
type Confirmer struct {
	in     *bufio.Reader
	out    io.Writer
	logger log.Logger
	mu     sync.Mutex
}

// NewConfirmer returns a new terminal confirmer.
func NewConfirmer(cfg ConfirmerConfig) (*Confirmer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Confirmer{
		in:     bufio.NewReader(cfg.In),
		out:    cfg.Out,
		logger: cfg.Logger,
	}, nil
}

var _ tool.Confirmer = &Confirmer{}

type answer struct {
	line string
	err  error
}

// Confirm prints the step and waits for a `y` or `yes` answer. A closed input
// returns an error so the step waits for a later resume.
func (c *Confirmer) Confirm(ctx context.Context, req tool.ConfirmRequest) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	params, err := json.Marshal(req.Params)
	if err != nil {
		params = []byte(fmt.Sprintf("%v", req.Params))
	}
	fmt.Fprintf(c.out, "\nStep %s of task %s requires approval\n", req.StepID, req.TaskID)
	fmt.Fprintf(c.out, "  tool:   %s\n", req.Tool)
	fmt.Fprintf(c.out, "  params: %s\n", params)
	fmt.Fprintf(c.out, "Approve? [y/N]: ")

	answers := make(chan answer, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		answers <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-answers:
		if a.err != nil && a.line == "" {
			return false, fmt.Errorf("could not read answer: %w", a.err)
		}
		reply := strings.ToLower(strings.TrimSpace(a.line))
		approved := reply == "y" || reply == "yes"
		c.logger.WithValues(log.Kv{"step-id": req.StepID, "approved": approved}).Debugf("Step confirmation answered")
		return approved, nil
	}
}
