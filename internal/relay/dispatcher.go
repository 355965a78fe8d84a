package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyberguardng/voicegateway/internal/policy"
	"github.com/cyberguardng/voicegateway/internal/protocol"
)

const (
	outcomeOK              = "ok"
	outcomeError           = "error"
	outcomeTimeout         = "timeout"
	outcomePanic           = "panic"
	outcomeUnknownFunction = "unknown_function"

	maxLoggedArguments = 256
)

var errFunctionPanicked = errors.New("function handler panicked")

type functionErrorOutput struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func errorOutput(message string) string {
	raw, _ := json.Marshal(functionErrorOutput{Status: "error", Message: message})
	return string(raw)
}

// dispatchFunctionCall answers one function call off the coordinator
// goroutine. Every call gets exactly one output item, then the model is asked
// to continue its response.
func (c *call) dispatchFunctionCall(fc protocol.FunctionCallDone, log *slog.Logger) {
	log = log.With("function", fc.Name, "function_call_id", fc.CallID)
	log.Info("function call", "arguments", policy.ForLog(fc.Arguments, maxLoggedArguments))

	known := c.toolNames[fc.Name]
	c.sup.Go("function_call", func() error {
		started := time.Now()
		output, outcome := c.runFunction(fc, known)
		c.gw.Metrics.ObserveFunctionCall(fc.Name, outcome, time.Since(started))
		if outcome != outcomeOK {
			log.Warn("function call failed", "outcome", outcome, "duration", time.Since(started))
		} else {
			log.Debug("function call answered", "duration", time.Since(started))
		}

		if !c.toBackend.enqueue(protocol.NewFunctionCallOutput(fc.CallID, output)) {
			return nil
		}
		c.toBackend.enqueue(protocol.NewResponseCreate())
		return nil
	})
}

func (c *call) runFunction(fc protocol.FunctionCallDone, known bool) (output, outcome string) {
	handler := c.gw.Functions
	if handler == nil || !known {
		return errorOutput(fmt.Sprintf("unknown function %q", fc.Name)), outcomeUnknownFunction
	}

	timeout := c.gw.Config.FunctionCallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	type result struct {
		output string
		err    error
	}
	// Buffered so a handler finishing after the timeout does not block.
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", errFunctionPanicked, r)}
			}
		}()
		out, err := handler.Call(ctx, fc.Name, fc.Arguments)
		done <- result{output: out, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case errors.Is(res.err, errFunctionPanicked):
			return errorOutput("the lookup failed unexpectedly"), outcomePanic
		case errors.Is(res.err, context.DeadlineExceeded):
			return errorOutput("the lookup timed out"), outcomeTimeout
		case res.err != nil:
			return errorOutput(res.err.Error()), outcomeError
		default:
			return res.output, outcomeOK
		}
	case <-ctx.Done():
		return errorOutput("the lookup timed out"), outcomeTimeout
	}
}
