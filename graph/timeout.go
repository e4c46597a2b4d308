package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// nodeTimeout determines the timeout for a node based on precedence:
// 1. WithNodeTimeout (per-node override)
// 2. WithDefaultNodeTimeout (engine-wide default)
// 3. 0 (no timeout)
func nodeTimeout(spec *nodeSpec, defaultTimeout time.Duration) time.Duration {
	if spec.timeout > 0 {
		return spec.timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeNode runs a node under its timeout.
//
// A node that overruns its deadline fails with an EngineError coded
// NODE_TIMEOUT, whatever the node itself returned.
func executeNode(ctx context.Context, spec *nodeSpec, state State, rc RunContext, defaultTimeout time.Duration) (State, error) {
	timeout := nodeTimeout(spec, defaultTimeout)
	if timeout == 0 {
		return spec.node.Run(ctx, state, rc)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	partial, err := spec.node.Run(timeoutCtx, state, rc)
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", spec.name, timeout),
			Code:    "NODE_TIMEOUT",
			Cause:   context.DeadlineExceeded,
		}
	}
	return partial, err
}
