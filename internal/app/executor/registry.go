package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"novacore/internal/domain/mission"
	"novacore/internal/errors"
	"novacore/internal/logging"
)

// NodeExecutor runs one node's logic against the run's ExecutionContext.
// Implementations must read inputs only via ctx.NodeOutputs/Variables/
// ResolveExpr, return ok=false for user-visible failures, and never
// mutate ec.Mission.
type NodeExecutor func(ctx context.Context, node mission.Node, ec *mission.ExecutionContext) mission.NodeOutput

// Registry maps a node type discriminant to its executor. Unregistered
// types surface as NO_EXECUTOR at traversal time rather than aborting
// the run.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]NodeExecutor
	logger    logging.Logger
}

// NewRegistry builds an empty Registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{executors: make(map[string]NodeExecutor), logger: logging.OrNop(logger)}
}

// Register installs exec for nodeType, wrapping it with panic recovery so
// a thrown error inside an executor becomes an EXECUTOR_EXCEPTION output
// instead of crashing the run.
func (r *Registry) Register(nodeType string, exec NodeExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = r.wrap(nodeType, exec)
}

func (r *Registry) wrap(nodeType string, exec NodeExecutor) NodeExecutor {
	return func(ctx context.Context, node mission.Node, ec *mission.ExecutionContext) (output mission.NodeOutput) {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("executor %s panicked: %v\n%s", nodeType, rec, debug.Stack())
				mErr := errors.NewMissionError("EXECUTOR_EXCEPTION", fmt.Sprintf("%v", rec))
				output = mission.NodeOutput{OK: false, Error: mErr.Message, ErrorCode: mErr.Code}
			}
		}()
		return exec(ctx, node, ec)
	}
}

// Get returns the executor registered for nodeType.
func (r *Registry) Get(nodeType string) (NodeExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[nodeType]
	return exec, ok
}
