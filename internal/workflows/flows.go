package workflows

import (
	"context"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/chainflow-io/chainflow/internal/chain"
	"github.com/chainflow-io/chainflow/internal/engine"
)

// FamilyAuxWorkflow is the topic family shared by the shipped auxiliary chain
// workflows; each chain scope gets its own topic under it.
const FamilyAuxWorkflow = "auxWorkflow"

// TxSubmitter abstracts transaction submission so workflow handlers can be
// tested without a chain node.
type TxSubmitter interface {
	Submit(ctx context.Context, intent string, params map[string]any) (string, error)
	Receipt(ctx context.Context, txHash string) (*chain.Receipt, error)
}

// rpcSubmitter drives a JSON-RPC node. The intent names which contract call
// the transaction carries; the node resolves it from the prepared calldata.
type rpcSubmitter struct {
	client *chain.Client
}

func NewRPCSubmitter(client *chain.Client) TxSubmitter {
	return &rpcSubmitter{client: client}
}

func (s *rpcSubmitter) Submit(ctx context.Context, intent string, params map[string]any) (string, error) {
	tx := chain.TxRequest{
		From:  stringOrEmpty(params, "from"),
		To:    stringOrEmpty(params, "to"),
		Data:  stringOrEmpty(params, intent+"Data"),
		Value: stringOrEmpty(params, "value"),
	}
	if tx.Data == "" {
		tx.Data = stringOrEmpty(params, "data")
	}
	return s.client.SendTransaction(ctx, tx)
}

func (s *rpcSubmitter) Receipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	return s.client.TransactionReceipt(ctx, txHash)
}

// RegisterAll wires every shipped workflow kind into the registry.
func RegisterAll(registry *engine.Registry, submitter TxSubmitter) error {
	if err := RegisterTokenSetup(registry, submitter); err != nil {
		return err
	}
	if err := RegisterAuthorizeDevice(registry, submitter); err != nil {
		return err
	}
	if err := RegisterStPrimeStakeAndMint(registry, submitter); err != nil {
		return err
	}
	return nil
}

// noopDone serves init and terminal steps. The router does the real work for
// terminals: completing markSuccess or markFailure settles the workflow.
func noopDone(_ context.Context, _ engine.StepInput) (engine.StepOutcome, error) {
	return engine.StepOutcome{Status: engine.OutcomeDone}, nil
}

// submitStep returns a handler that submits one transaction and records its
// hash for descendants to read.
func submitStep(submitter TxSubmitter, intent string) engine.StepHandler {
	return submitStepAs(submitter, intent, "transactionHash")
}

// submitStepAs is submitStep with an explicit output key. Fan-out siblings
// must use distinct keys so a joining step sees every hash after the merge.
func submitStepAs(submitter TxSubmitter, intent string, dataKey string) engine.StepHandler {
	return engine.StepHandlerFunc(func(ctx context.Context, input engine.StepInput) (engine.StepOutcome, error) {
		txHash, err := submitter.Submit(ctx, intent, input.Params)
		if err != nil {
			return engine.StepOutcome{}, engine.TransientError(
				fmt.Errorf("submit %s: %w", intent, err),
				map[string]any{"intent": intent},
			)
		}
		return engine.StepOutcome{
			Status: engine.OutcomeDone,
			Data:   map[string]any{dataKey: txHash},
		}, nil
	})
}

// confirmStep returns a handler that waits for the ancestor's transaction to
// mine. A missing receipt keeps the step pending; a reverted one fails it.
func confirmStep(submitter TxSubmitter) engine.StepHandler {
	return engine.StepHandlerFunc(func(ctx context.Context, input engine.StepInput) (engine.StepOutcome, error) {
		txHash, err := requireString(input.Params, "transactionHash")
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
				fmt.Errorf("transaction %s reverted", txHash),
				map[string]any{"transactionHash": txHash, "blockNumber": receipt.BlockNumber},
			)
		}
		return engine.StepOutcome{
			Status: engine.OutcomeDone,
			Data: map[string]any{
				"transactionHash": txHash,
				"blockNumber":     receipt.BlockNumber,
			},
		}, nil
	})
}

// deriveAddress produces a deterministic address from a transaction hash and a
// label, matching how counterfactual contract addresses are precomputed.
func deriveAddress(seed string, label string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(seed))
	h.Write([]byte(label))
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", engine.ValidationError(
			fmt.Errorf("missing required parameter %q", key),
			map[string]any{"parameter": key},
		)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", engine.ValidationError(
			fmt.Errorf("parameter %q must be a non-empty string", key),
			map[string]any{"parameter": key},
		)
	}
	return s, nil
}

func stringOrEmpty(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
