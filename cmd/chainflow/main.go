package main

import (
	"log/slog"
	"os"

	"github.com/chainflow-io/chainflow/internal/chain"
	"github.com/chainflow-io/chainflow/internal/config"
	"github.com/chainflow-io/chainflow/internal/engine"
	"github.com/chainflow-io/chainflow/internal/workflows"
	"github.com/chainflow-io/chainflow/pkg/chainflow"
)

func main() {

	chainflow.SetupLogger()

	chainID := config.GetSystemSettingString(config.CHAIN_ID)
	client := chain.NewClient(config.GetSystemSettingString(config.CHAIN_RPC_URL), chainID)
	submitter := workflows.NewRPCSubmitter(client)

	registry := engine.NewRegistry()
	if err := workflows.RegisterAll(registry, submitter); err != nil {
		slog.Error("Failed to register workflows", "error", err)
		os.Exit(1)
	}

	if err := chainflow.Start(registry, nil); err != nil {
		slog.Error("Engine exited with error", "error", err)
		os.Exit(1)
	}
}
