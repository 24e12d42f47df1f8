package blockchain

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/agrimrv/backend/internal/config"
)

func NewLedgerFromConfig(cfg config.Config, index IdempotencyIndex, logger *slog.Logger) (Ledger, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.LedgerMode))
	if mode == "" || mode == "stub" {
		return NewStubLedger(cfg.LedgerChainID), nil
	}
	if mode != "rpc" {
		return nil, fmt.Errorf("invalid LEDGER_MODE: %s", cfg.LedgerMode)
	}
	return NewRPCLedger(RPCLedgerConfig{
		HTTPURL:         cfg.LedgerRPCURL,
		FromAddress:     cfg.LedgerFromAddress,
		RegistryAddress: cfg.LedgerRegistryAddress,
		GasLimit:        cfg.LedgerGasLimit,
		ChainID:         cfg.LedgerChainID,
		Timeout:         cfg.LedgerCallTimeout,
	}, index, logger)
}
