package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/chainflow-io/chainflow/internal/engine"
)

// KindAuthorizeDevice adds a device key to a user's multisig wallet. A failed
// submission is compensated by a rollback before the workflow settles failed.
const KindAuthorizeDevice = "authorizeDevice"

func authorizeDeviceGraph() *engine.Graph {
	return &engine.Graph{
		WorkflowKind: KindAuthorizeDevice,
		Family:       FamilyAuxWorkflow,
		Entry:        "authorizeDeviceInit",
		Steps: map[string]engine.StepConfig{
			"authorizeDeviceInit": {
				Kind:      "authorizeDeviceInit",
				OnSuccess: []string{"authorizeDevicePerformTransaction"},
			},
			"authorizeDevicePerformTransaction": {
				Kind:      "authorizeDevicePerformTransaction",
				OnSuccess: []string{"authorizeDeviceVerifyTransaction"},
				OnFailure: "rollbackAuthorizeDeviceTransaction",
			},
			"authorizeDeviceVerifyTransaction": {
				Kind:         "authorizeDeviceVerifyTransaction",
				OnSuccess:    []string{engine.KindMarkSuccess},
				OnFailure:    "rollbackAuthorizeDeviceTransaction",
				ReadDataFrom: []string{"authorizeDevicePerformTransaction"},
				Retry: &engine.RetryConfig{
					MaxRetryCount:    30,
					RetryIntervalMin: 2 * time.Second,
					RetryIntervalMax: 30 * time.Second,
				},
			},
			"rollbackAuthorizeDeviceTransaction": {
				Kind:      "rollbackAuthorizeDeviceTransaction",
				OnSuccess: []string{engine.KindMarkFailure},
			},
			engine.KindMarkSuccess: {Kind: engine.KindMarkSuccess},
			engine.KindMarkFailure: {Kind: engine.KindMarkFailure},
		},
	}
}

func RegisterAuthorizeDevice(registry *engine.Registry, submitter TxSubmitter) error {
	return registry.RegisterFlow(authorizeDeviceGraph(), map[string]engine.StepHandler{
		"authorizeDeviceInit":                engine.StepHandlerFunc(noopDone),
		"authorizeDevicePerformTransaction":  authorizeDevicePerform(submitter),
		"authorizeDeviceVerifyTransaction":   confirmStep(submitter),
		"rollbackAuthorizeDeviceTransaction": rollbackAuthorizeDevice(submitter),
		engine.KindMarkSuccess:               engine.StepHandlerFunc(noopDone),
		engine.KindMarkFailure:               engine.StepHandlerFunc(noopDone),
	})
}

func authorizeDevicePerform(submitter TxSubmitter) engine.StepHandler {
	return engine.StepHandlerFunc(func(ctx context.Context, input engine.StepInput) (engine.StepOutcome, error) {
		if _, err := requireString(input.Params, "multisigAddress"); err != nil {
			return engine.StepOutcome{}, err
		}
		if _, err := requireString(input.Params, "deviceAddress"); err != nil {
			return engine.StepOutcome{}, err
		}
		txHash, err := submitter.Submit(ctx, "authorizeDevice", input.Params)
		if err != nil {
			return engine.StepOutcome{}, engine.TransientError(
				fmt.Errorf("submit authorizeDevice: %w", err),
				map[string]any{"multisigAddress": input.Params["multisigAddress"]},
			)
		}
		return engine.StepOutcome{
			Status: engine.OutcomeDone,
			Data:   map[string]any{"transactionHash": txHash},
		}, nil
	})
}

// rollbackAuthorizeDevice restores the device entry to its pre-workflow
// status. It settles the workflow failed through its markFailure successor.
func rollbackAuthorizeDevice(submitter TxSubmitter) engine.StepHandler {
	return engine.StepHandlerFunc(func(ctx context.Context, input engine.StepInput) (engine.StepOutcome, error) {
		txHash, err := submitter.Submit(ctx, "revokeDevice", input.Params)
		if err != nil {
			return engine.StepOutcome{}, engine.TransientError(
				fmt.Errorf("submit revokeDevice rollback: %w", err), nil,
			)
		}
		return engine.StepOutcome{
			Status: engine.OutcomeDone,
			Data:   map[string]any{"rollbackTransactionHash": txHash},
		}, nil
	})
}
