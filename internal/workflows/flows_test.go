package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/chainflow-io/chainflow/internal/chain"
	"github.com/chainflow-io/chainflow/internal/engine"
)

type mockSubmitter struct {
	SubmitFunc  func(ctx context.Context, intent string, params map[string]any) (string, error)
	ReceiptFunc func(ctx context.Context, txHash string) (*chain.Receipt, error)
}

func (m *mockSubmitter) Submit(ctx context.Context, intent string, params map[string]any) (string, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, intent, params)
	}
	return "0xhash", nil
}
func (m *mockSubmitter) Receipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	if m.ReceiptFunc != nil {
		return m.ReceiptFunc(ctx, txHash)
	}
	return &chain.Receipt{TransactionHash: txHash, Status: "0x1"}, nil
}

func TestRegisterAll_GraphsAndHandlersValidate(t *testing.T) {
	registry := engine.NewRegistry()
	if err := RegisterAll(registry, &mockSubmitter{}); err != nil {
		t.Fatalf("RegisterAll returned error: %v", err)
	}
	if err := registry.Validate(); err != nil {
		t.Fatalf("shipped workflows failed validation: %v", err)
	}
	families := registry.Families()
	if len(families) != 1 || families[0] != FamilyAuxWorkflow {
		t.Fatalf("expected the single %s family, got %v", FamilyAuxWorkflow, families)
	}
	for _, kind := range []string{KindTokenSetup, KindAuthorizeDevice, KindStPrimeStakeAndMint} {
		if _, ok := registry.Graph(kind); !ok {
			t.Fatalf("workflow kind %s not registered", kind)
		}
	}
}

func TestGenerateTokenAddresses_DeterministicPerWorkflow(t *testing.T) {
	input := engine.StepInput{
		WorkflowID: 42,
		Params: map[string]any{
			"tokenHolderAddress": "0xdead",
			"tokenSymbol":        "CFT",
		},
	}
	first, err := generateTokenAddresses(context.Background(), input)
	if err != nil {
		t.Fatalf("generateTokenAddresses returned error: %v", err)
	}
	second, err := generateTokenAddresses(context.Background(), input)
	if err != nil {
		t.Fatalf("generateTokenAddresses returned error: %v", err)
	}
	for _, key := range []string{"organizationAddress", "brandedTokenAddress", "utilityBrandedTokenAddress"} {
		addr, ok := first.Data[key].(string)
		if !ok || len(addr) != 42 || addr[:2] != "0x" {
			t.Fatalf("%s must be a 20 byte hex address, got %v", key, first.Data[key])
		}
		if first.Data[key] != second.Data[key] {
			t.Fatalf("%s must be deterministic", key)
		}
	}
	if first.Data["organizationAddress"] == first.Data["brandedTokenAddress"] {
		t.Fatal("distinct labels must derive distinct addresses")
	}

	otherWf := input
	otherWf.WorkflowID = 43
	third, _ := generateTokenAddresses(context.Background(), otherWf)
	if third.Data["organizationAddress"] == first.Data["organizationAddress"] {
		t.Fatal("different workflows must derive different addresses")
	}
}

func TestGenerateTokenAddresses_RequiresParams(t *testing.T) {
	_, err := generateTokenAddresses(context.Background(), engine.StepInput{Params: map[string]any{}})
	var herr *engine.HandlerError
	if !errors.As(err, &herr) || herr.Class != engine.ClassValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConfirmStep_Outcomes(t *testing.T) {
	input := engine.StepInput{Params: map[string]any{"transactionHash": "0xabc"}}

	t.Run("unmined transaction is pending", func(t *testing.T) {
		handler := confirmStep(&mockSubmitter{
			ReceiptFunc: func(ctx context.Context, txHash string) (*chain.Receipt, error) {
				return nil, nil
			},
		})
		out, err := handler.Handle(context.Background(), input)
		if err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
		if out.Status != engine.OutcomePending {
			t.Fatalf("expected pending, got %v", out.Status)
		}
	})

	t.Run("mined transaction completes", func(t *testing.T) {
		handler := confirmStep(&mockSubmitter{
			ReceiptFunc: func(ctx context.Context, txHash string) (*chain.Receipt, error) {
				return &chain.Receipt{TransactionHash: txHash, Status: "0x1", BlockNumber: "0x10"}, nil
			},
		})
		out, err := handler.Handle(context.Background(), input)
		if err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
		if out.Status != engine.OutcomeDone || out.Data["blockNumber"] != "0x10" {
			t.Fatalf("unexpected outcome: %+v", out)
		}
	})

	t.Run("reverted transaction is permanent", func(t *testing.T) {
		handler := confirmStep(&mockSubmitter{
			ReceiptFunc: func(ctx context.Context, txHash string) (*chain.Receipt, error) {
				return &chain.Receipt{TransactionHash: txHash, Status: "0x0"}, nil
			},
		})
		_, err := handler.Handle(context.Background(), input)
		var herr *engine.HandlerError
		if !errors.As(err, &herr) || herr.Class != engine.ClassPermanent {
			t.Fatalf("expected permanent error, got %v", err)
		}
	})

	t.Run("rpc failure is transient", func(t *testing.T) {
		handler := confirmStep(&mockSubmitter{
			ReceiptFunc: func(ctx context.Context, txHash string) (*chain.Receipt, error) {
				return nil, errors.New("connection refused")
			},
		})
		_, err := handler.Handle(context.Background(), input)
		var herr *engine.HandlerError
		if !errors.As(err, &herr) || herr.Class != engine.ClassTransient {
			t.Fatalf("expected transient error, got %v", err)
		}
	})

	t.Run("missing hash is validation", func(t *testing.T) {
		handler := confirmStep(&mockSubmitter{})
		_, err := handler.Handle(context.Background(), engine.StepInput{Params: map[string]any{}})
		var herr *engine.HandlerError
		if !errors.As(err, &herr) || herr.Class != engine.ClassValidation {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestVerifyTokenSetup_ChecksBothBranchTransactions(t *testing.T) {
	// Run both whitelist siblings and merge their outputs the way the joining
	// step receives them after readDataFrom.
	merged := map[string]any{}
	for intent, key := range map[string]string{
		"setInternalActorForOwner":     "ownerTransactionHash",
		"setInternalActorForTokenRule": "tokenRuleTransactionHash",
	} {
		handler := submitStepAs(&mockSubmitter{
			SubmitFunc: func(ctx context.Context, intent string, params map[string]any) (string, error) {
				return "0x" + intent, nil
			},
		}, intent, key)
		out, err := handler.Handle(context.Background(), engine.StepInput{Params: map[string]any{}})
		if err != nil {
			t.Fatalf("sibling %s returned error: %v", intent, err)
		}
		for k, v := range out.Data {
			merged[k] = v
		}
	}
	if len(merged) != 2 || merged["ownerTransactionHash"] == merged["tokenRuleTransactionHash"] {
		t.Fatalf("siblings must record distinct hashes under distinct keys, got %+v", merged)
	}

	t.Run("both mined completes", func(t *testing.T) {
		var checked []string
		handler := verifyTokenSetup(&mockSubmitter{
			ReceiptFunc: func(ctx context.Context, txHash string) (*chain.Receipt, error) {
				checked = append(checked, txHash)
				return &chain.Receipt{TransactionHash: txHash, Status: "0x1"}, nil
			},
		})
		out, err := handler.Handle(context.Background(), engine.StepInput{Params: merged})
		if err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
		if out.Status != engine.OutcomeDone {
			t.Fatalf("expected done, got %v", out.Status)
		}
		if len(checked) != 2 || checked[0] == checked[1] {
			t.Fatalf("both sibling transactions must be checked, got %v", checked)
		}
	})

	t.Run("reverted owner transaction is permanent", func(t *testing.T) {
		handler := verifyTokenSetup(&mockSubmitter{
			ReceiptFunc: func(ctx context.Context, txHash string) (*chain.Receipt, error) {
				status := "0x1"
				if txHash == merged["ownerTransactionHash"] {
					status = "0x0"
				}
				return &chain.Receipt{TransactionHash: txHash, Status: status}, nil
			},
		})
		_, err := handler.Handle(context.Background(), engine.StepInput{Params: merged})
		var herr *engine.HandlerError
		if !errors.As(err, &herr) || herr.Class != engine.ClassPermanent {
			t.Fatalf("expected permanent error, got %v", err)
		}
	})

	t.Run("unmined token rule transaction is pending", func(t *testing.T) {
		handler := verifyTokenSetup(&mockSubmitter{
			ReceiptFunc: func(ctx context.Context, txHash string) (*chain.Receipt, error) {
				if txHash == merged["tokenRuleTransactionHash"] {
					return nil, nil
				}
				return &chain.Receipt{TransactionHash: txHash, Status: "0x1"}, nil
			},
		})
		out, err := handler.Handle(context.Background(), engine.StepInput{Params: merged})
		if err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
		if out.Status != engine.OutcomePending {
			t.Fatalf("expected pending, got %v", out.Status)
		}
	})

	t.Run("missing branch hash is validation", func(t *testing.T) {
		handler := verifyTokenSetup(&mockSubmitter{})
		_, err := handler.Handle(context.Background(), engine.StepInput{
			Params: map[string]any{"ownerTransactionHash": merged["ownerTransactionHash"]},
		})
		var herr *engine.HandlerError
		if !errors.As(err, &herr) || herr.Class != engine.ClassValidation {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestSubmitStep_RecordsTransactionHash(t *testing.T) {
	var gotIntent string
	handler := submitStep(&mockSubmitter{
		SubmitFunc: func(ctx context.Context, intent string, params map[string]any) (string, error) {
			gotIntent = intent
			return "0xfeed", nil
		},
	}, "deployBrandedToken")

	out, err := handler.Handle(context.Background(), engine.StepInput{Params: map[string]any{}})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if gotIntent != "deployBrandedToken" {
		t.Fatalf("unexpected intent %q", gotIntent)
	}
	if out.Data["transactionHash"] != "0xfeed" {
		t.Fatalf("submission must record its hash, got %+v", out.Data)
	}
}
