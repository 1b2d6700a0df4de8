package workflows

import (
	"context"
	"fmt"

	"github.com/chainflow-io/chainflow/internal/engine"
)

// KindTokenSetup provisions the branded token economy contracts for one
// client: organization, branded token, utility branded token, and the
// internal actor whitelist, verified end to end.
const KindTokenSetup = "tokenSetup"

func tokenSetupGraph() *engine.Graph {
	return &engine.Graph{
		WorkflowKind: KindTokenSetup,
		Family:       FamilyAuxWorkflow,
		Entry:        "tokenSetupInit",
		Steps: map[string]engine.StepConfig{
			"tokenSetupInit": {
				Kind:      "tokenSetupInit",
				OnSuccess: []string{"generateTokenAddresses"},
			},
			"generateTokenAddresses": {
				Kind:      "generateTokenAddresses",
				OnSuccess: []string{"deployTokenOrganization"},
				OnFailure: engine.KindMarkFailure,
			},
			"deployTokenOrganization": {
				Kind:      "deployTokenOrganization",
				OnSuccess: []string{"deployBrandedToken"},
				OnFailure: engine.KindMarkFailure,
			},
			"deployBrandedToken": {
				Kind:         "deployBrandedToken",
				OnSuccess:    []string{"deployUtilityBrandedToken"},
				OnFailure:    engine.KindMarkFailure,
				ReadDataFrom: []string{"generateTokenAddresses", "deployTokenOrganization"},
			},
			"deployUtilityBrandedToken": {
				Kind:         "deployUtilityBrandedToken",
				OnSuccess:    []string{"setInternalActorForOwner", "setInternalActorForTokenRule"},
				OnFailure:    engine.KindMarkFailure,
				ReadDataFrom: []string{"generateTokenAddresses", "deployBrandedToken"},
			},
			"setInternalActorForOwner": {
				Kind:         "setInternalActorForOwner",
				OnSuccess:    []string{"verifyTokenSetup"},
				OnFailure:    engine.KindMarkFailure,
				ReadDataFrom: []string{"deployUtilityBrandedToken"},
			},
			"setInternalActorForTokenRule": {
				Kind:         "setInternalActorForTokenRule",
				OnSuccess:    []string{"verifyTokenSetup"},
				OnFailure:    engine.KindMarkFailure,
				ReadDataFrom: []string{"deployUtilityBrandedToken"},
			},
			"verifyTokenSetup": {
				Kind:         "verifyTokenSetup",
				OnSuccess:    []string{engine.KindMarkSuccess},
				OnFailure:    engine.KindMarkFailure,
				ReadDataFrom: []string{"setInternalActorForOwner", "setInternalActorForTokenRule"},
			},
			engine.KindMarkSuccess: {Kind: engine.KindMarkSuccess},
			engine.KindMarkFailure: {Kind: engine.KindMarkFailure},
		},
	}
}

func RegisterTokenSetup(registry *engine.Registry, submitter TxSubmitter) error {
	return registry.RegisterFlow(tokenSetupGraph(), map[string]engine.StepHandler{
		"tokenSetupInit":               engine.StepHandlerFunc(noopDone),
		"generateTokenAddresses":       engine.StepHandlerFunc(generateTokenAddresses),
		"deployTokenOrganization":      submitStep(submitter, "deployTokenOrganization"),
		"deployBrandedToken":           submitStep(submitter, "deployBrandedToken"),
		"deployUtilityBrandedToken":    submitStep(submitter, "deployUtilityBrandedToken"),
		"setInternalActorForOwner":     submitStepAs(submitter, "setInternalActorForOwner", "ownerTransactionHash"),
		"setInternalActorForTokenRule": submitStepAs(submitter, "setInternalActorForTokenRule", "tokenRuleTransactionHash"),
		"verifyTokenSetup":             verifyTokenSetup(submitter),
		engine.KindMarkSuccess:         engine.StepHandlerFunc(noopDone),
		engine.KindMarkFailure:         engine.StepHandlerFunc(noopDone),
	})
}

// generateTokenAddresses precomputes the deterministic addresses the later
// deploy steps will use, keyed on the token holder and symbol.
func generateTokenAddresses(_ context.Context, input engine.StepInput) (engine.StepOutcome, error) {
	owner, err := requireString(input.Params, "tokenHolderAddress")
	if err != nil {
		return engine.StepOutcome{}, err
	}
	symbol, err := requireString(input.Params, "tokenSymbol")
	if err != nil {
		return engine.StepOutcome{}, err
	}
	seed := fmt.Sprintf("%s:%s:%d", owner, symbol, input.WorkflowID)
	return engine.StepOutcome{
		Status: engine.OutcomeDone,
		Data: map[string]any{
			"organizationAddress":        deriveAddress(seed, "organization"),
			"brandedTokenAddress":        deriveAddress(seed, "brandedToken"),
			"utilityBrandedTokenAddress": deriveAddress(seed, "utilityBrandedToken"),
		},
	}, nil
}

// verifyTokenSetup joins the two whitelist branches and confirms both of
// their transactions mined successfully. The siblings record their hashes
// under distinct keys so the merged params carry both.
func verifyTokenSetup(submitter TxSubmitter) engine.StepHandler {
	keys := []string{"ownerTransactionHash", "tokenRuleTransactionHash"}
	return engine.StepHandlerFunc(func(ctx context.Context, input engine.StepInput) (engine.StepOutcome, error) {
		for _, key := range keys {
			txHash, err := requireString(input.Params, key)
			if err != nil {
				return engine.StepOutcome{}, err
			}
			receipt, err := submitter.Receipt(ctx, txHash)
			if err != nil {
				return engine.StepOutcome{}, engine.TransientError(
					fmt.Errorf("fetch receipt for %s: %w", txHash, err),
					map[string]any{"transactionHash": txHash},
				)
			}
			if receipt == nil {
				return engine.StepOutcome{Status: engine.OutcomePending}, nil
			}
			if !receipt.Succeeded() {
				return engine.StepOutcome{}, engine.PermanentError(
					fmt.Errorf("token setup transaction %s reverted", txHash),
					map[string]any{"transactionHash": txHash},
				)
			}
		}
		return engine.StepOutcome{
			Status: engine.OutcomeDone,
			Data:   map[string]any{"verified": true},
		}, nil
	})
}
