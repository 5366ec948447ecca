package provider

import (
	"context"
	"errors"
	"fmt"
)

// Action tells a Chain what to do after a step fails.
type Action int

const (
	// Abort stops the chain and returns the step's error.
	Abort Action = iota
	// Next moves on to the following step.
	Next
	// Succeed treats the failure as success.
	Succeed
)

// Step is one strategy in a fallback chain. OnError classifies its failures;
// nil means any failure moves on to the next step.
type Step struct {
	Name    string
	Run     func(ctx context.Context) error
	OnError func(err error) Action
}

// Chain runs strategies in order until one succeeds.
type Chain struct {
	Name  string
	Steps []Step
}

var ErrChainExhausted = errors.New("provider: all strategies failed")

// Run returns the name of the step that completed the chain.
func (c Chain) Run(ctx context.Context) (string, error) {
	var errs []error
	for _, step := range c.Steps {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := step.Run(ctx)
		if err == nil {
			return step.Name, nil
		}

		action := Next
		if step.OnError != nil {
			action = step.OnError(err)
		}
		switch action {
		case Succeed:
			return step.Name, nil
		case Abort:
			return step.Name, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
	}
	return "", fmt.Errorf("%s: %w: %w", c.Name, ErrChainExhausted, errors.Join(errs...))
}
