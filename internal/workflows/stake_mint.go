package workflows

import (
	"time"

	"github.com/chainflow-io/chainflow/internal/engine"
)

// KindStPrimeStakeAndMint moves base tokens through the gateway: stake on the
// origin chain, prove the stake on the auxiliary chain, then mint. Every step
// submits or confirms exactly one transaction.
const KindStPrimeStakeAndMint = "stPrimeStakeAndMint"

// stakeRetry covers the confirmation steps that wait on cross-chain
// finality; those legitimately take minutes.
var stakeRetry = engine.RetryConfig{
	MaxRetryCount:    60,
	RetryIntervalMin: 10 * time.Second,
	RetryIntervalMax: 2 * time.Minute,
}

func stPrimeStakeAndMintGraph() *engine.Graph {
	linear := func(kind string, next string, readFrom ...string) engine.StepConfig {
		return engine.StepConfig{
			Kind:         kind,
			OnSuccess:    []string{next},
			OnFailure:    engine.KindMarkFailure,
			ReadDataFrom: readFrom,
		}
	}
	steps := map[string]engine.StepConfig{
		"stPrimeStakeAndMintInit": {
			Kind:      "stPrimeStakeAndMintInit",
			OnSuccess: []string{"approveGatewayComposer"},
		},
		"approveGatewayComposer":  linear("approveGatewayComposer", "executeStPrimeStake"),
		"executeStPrimeStake":     linear("executeStPrimeStake", "checkStakeStatus", "approveGatewayComposer"),
		"checkStakeStatus":        linear("checkStakeStatus", "commitStateRoot", "executeStPrimeStake"),
		"commitStateRoot":         linear("commitStateRoot", "proveGatewayOnCoGateway"),
		"proveGatewayOnCoGateway": linear("proveGatewayOnCoGateway", "confirmStakeIntent", "commitStateRoot"),
		"confirmStakeIntent":      linear("confirmStakeIntent", "progressStake", "executeStPrimeStake"),
		"progressStake":           linear("progressStake", "progressMint", "executeStPrimeStake"),
		"progressMint":            linear("progressMint", engine.KindMarkSuccess, "executeStPrimeStake"),
		engine.KindMarkSuccess:    {Kind: engine.KindMarkSuccess},
		engine.KindMarkFailure:    {Kind: engine.KindMarkFailure},
	}
	for _, kind := range []string{"checkStakeStatus", "confirmStakeIntent", "progressStake", "progressMint"} {
		cfg := steps[kind]
		retry := stakeRetry
		cfg.Retry = &retry
		steps[kind] = cfg
	}
	return &engine.Graph{
		WorkflowKind: KindStPrimeStakeAndMint,
		Family:       FamilyAuxWorkflow,
		Entry:        "stPrimeStakeAndMintInit",
		Steps:        steps,
	}
}

func RegisterStPrimeStakeAndMint(registry *engine.Registry, submitter TxSubmitter) error {
	return registry.RegisterFlow(stPrimeStakeAndMintGraph(), map[string]engine.StepHandler{
		"stPrimeStakeAndMintInit": engine.StepHandlerFunc(noopDone),
		"approveGatewayComposer":  submitStep(submitter, "approveGatewayComposer"),
		"executeStPrimeStake":     submitStep(submitter, "executeStPrimeStake"),
		"checkStakeStatus":        confirmStep(submitter),
		"commitStateRoot":         submitStep(submitter, "commitStateRoot"),
		"proveGatewayOnCoGateway": submitStep(submitter, "proveGatewayOnCoGateway"),
		"confirmStakeIntent":      submitStep(submitter, "confirmStakeIntent"),
		"progressStake":           submitStep(submitter, "progressStake"),
		"progressMint":            submitStep(submitter, "progressMint"),
		engine.KindMarkSuccess:    engine.StepHandlerFunc(noopDone),
		engine.KindMarkFailure:    engine.StepHandlerFunc(noopDone),
	})
}
