package blockchain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var anchorSelector = functionSelector("anchor(bytes32)")

type RPCLedgerConfig struct {
	HTTPURL         string
	FromAddress     string
	RegistryAddress string
	GasLimit        uint64
	ChainID         string
	Timeout         time.Duration
}

// RPCLedger anchors profile hashes by calling anchor(bytes32) on the registry
// contract through an EVM JSON-RPC node. The node signs with FromAddress.
//
// Each key is bound to one signed transaction with a pinned nonce before the
// first broadcast. A retry after an ambiguous failure rebroadcasts those exact
// bytes, so the node either reports them as known or mines them once.
type RPCLedger struct {
	rpc          *jsonRPCClient
	fromAddress  string
	registryAddr string
	gasLimit     uint64
	chainID      string
	index        IdempotencyIndex
	logger       *slog.Logger

	// signMu keeps two keys from being signed against the same pending nonce
	// by this process.
	signMu sync.Mutex
}

var errNonceConsumed = errors.New("nonce already consumed")

func NewRPCLedger(cfg RPCLedgerConfig, index IdempotencyIndex, logger *slog.Logger) (*RPCLedger, error) {
	if strings.TrimSpace(cfg.HTTPURL) == "" {
		return nil, fmt.Errorf("missing LEDGER_RPC_URL")
	}
	if !addressPattern.MatchString(strings.TrimSpace(cfg.FromAddress)) {
		return nil, fmt.Errorf("invalid LEDGER_FROM_ADDRESS")
	}
	if !addressPattern.MatchString(strings.TrimSpace(cfg.RegistryAddress)) {
		return nil, fmt.Errorf("invalid LEDGER_REGISTRY_ADDRESS")
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 120000
	}
	if index == nil {
		index = NewMemoryIndex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCLedger{
		rpc:          newJSONRPCClient(cfg.HTTPURL, cfg.Timeout),
		fromAddress:  strings.TrimSpace(cfg.FromAddress),
		registryAddr: strings.TrimSpace(cfg.RegistryAddress),
		gasLimit:     cfg.GasLimit,
		chainID:      strings.TrimSpace(cfg.ChainID),
		index:        index,
		logger:       logger,
	}, nil
}

func (l *RPCLedger) ChainID() string {
	return l.chainID
}

func (l *RPCLedger) Submit(ctx context.Context, idempotencyKey string, payload []byte) (string, error) {
	key := strings.ToLower(strings.TrimSpace(idempotencyKey))
	if key == "" {
		return "", ErrMissingKey
	}
	if want := "0x" + keccakHex(payload); want != key {
		return "", fmt.Errorf("%w: payload does not match idempotency key", ErrRejected)
	}

	res, ok, err := l.index.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("idempotency lookup: %w", err)
	}
	if !ok {
		if res, err = l.reserve(ctx, key); err != nil {
			return "", err
		}
	}

	err = l.broadcast(ctx, res)
	if errors.Is(err, errNonceConsumed) {
		return l.recoverConsumedNonce(ctx, key, res)
	}
	if err != nil {
		return "", err
	}
	return res.TxRef, nil
}

// reserve signs a fresh transaction for key and pins it in the index. Nothing
// has been broadcast when it fails, so the caller may retry freely.
func (l *RPCLedger) reserve(ctx context.Context, key string) (Reservation, error) {
	l.signMu.Lock()
	defer l.signMu.Unlock()

	signed, err := l.sign(ctx, key)
	if err != nil {
		return Reservation{}, err
	}
	res, won, err := l.index.Reserve(ctx, key, signed)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency reserve: %w", err)
	}
	if !won {
		l.logger.Info("ledger key reserved by another submitter", "key", key, "tx", res.TxRef)
	}
	return res, nil
}

// recoverConsumedNonce handles a reservation whose nonce the account has
// already used. If the reserved transaction is known to the node it was mined
// and its reference is returned. Otherwise it can never be mined, and the key
// is re-signed with a fresh nonce.
func (l *RPCLedger) recoverConsumedNonce(ctx context.Context, key string, res Reservation) (string, error) {
	var tx *struct {
		Hash string `json:"hash"`
	}
	if err := l.rpc.call(ctx, "eth_getTransactionByHash", []any{res.TxRef}, &tx); err != nil {
		return "", fmt.Errorf("lookup reserved transaction: %w", err)
	}
	if tx != nil {
		return res.TxRef, nil
	}

	l.signMu.Lock()
	next, err := l.sign(ctx, key)
	if err != nil {
		l.signMu.Unlock()
		return "", err
	}
	swapped, err := l.index.Replace(ctx, key, res, next)
	l.signMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("idempotency replace: %w", err)
	}
	if !swapped {
		return "", fmt.Errorf("reservation for %s changed during recovery", key)
	}
	l.logger.Warn("re-signed ledger transaction after its nonce was consumed",
		"key", key, "dropped_tx", res.TxRef, "tx", next.TxRef)

	if err := l.broadcast(ctx, next); err != nil {
		if errors.Is(err, errNonceConsumed) {
			return "", fmt.Errorf("broadcast %s: %w", next.TxRef, err)
		}
		return "", err
	}
	return next.TxRef, nil
}

func (l *RPCLedger) sign(ctx context.Context, key string) (Reservation, error) {
	var nonce, gasPrice string
	if err := l.rpc.call(ctx, "eth_getTransactionCount", []any{l.fromAddress, "pending"}, &nonce); err != nil {
		return Reservation{}, fmt.Errorf("fetch nonce: %w", err)
	}
	if err := l.rpc.call(ctx, "eth_gasPrice", []any{}, &gasPrice); err != nil {
		return Reservation{}, fmt.Errorf("fetch gas price: %w", err)
	}
	txObj := map[string]string{
		"from":     l.fromAddress,
		"to":       l.registryAddr,
		"gas":      fmt.Sprintf("0x%x", l.gasLimit),
		"gasPrice": gasPrice,
		"nonce":    nonce,
		"data":     "0x" + anchorSelector + strings.TrimPrefix(key, "0x"),
		"value":    "0x0",
	}
	var signed struct {
		Raw string `json:"raw"`
		Tx  struct {
			Hash string `json:"hash"`
		} `json:"tx"`
	}
	if err := l.rpc.call(ctx, "eth_signTransaction", []any{txObj}, &signed); err != nil {
		return Reservation{}, fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(signed.Raw, "0x"))
	if err != nil || len(raw) == 0 {
		return Reservation{}, fmt.Errorf("invalid signed transaction")
	}
	ref := strings.ToLower(signed.Tx.Hash)
	if !strings.HasPrefix(ref, "0x") {
		ref = "0x" + keccakHex(raw)
	}
	return Reservation{TxRef: ref, Raw: signed.Raw}, nil
}

// broadcast sends the reserved bytes. A node that already holds them answers
// "already known", which counts as success.
func (l *RPCLedger) broadcast(ctx context.Context, res Reservation) error {
	var txHash string
	err := l.rpc.call(ctx, "eth_sendRawTransaction", []any{res.Raw}, &txHash)
	if err == nil {
		if !strings.EqualFold(txHash, res.TxRef) {
			l.logger.Warn("node reported a different transaction hash", "tx", res.TxRef, "node_tx", txHash)
		}
		return nil
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	msg := strings.ToLower(rpcErr.Message)
	switch {
	case strings.Contains(msg, "already known"), strings.Contains(msg, "known transaction"):
		l.logger.Info("ledger transaction already broadcast", "tx", res.TxRef)
		return nil
	case strings.Contains(msg, "nonce too low"):
		return errNonceConsumed
	case strings.Contains(msg, "revert"):
		return fmt.Errorf("%w: %s", ErrRejected, rpcErr.Message)
	}
	return err
}

type receipt struct {
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
}

func (l *RPCLedger) GetStatus(ctx context.Context, txRef string) (Status, error) {
	if strings.TrimSpace(txRef) == "" {
		return Status{}, ErrUnknownTx
	}
	var rcpt *receipt
	if err := l.rpc.call(ctx, "eth_getTransactionReceipt", []any{txRef}, &rcpt); err != nil {
		return Status{}, err
	}
	if rcpt == nil || rcpt.BlockNumber == "" {
		return Status{}, nil
	}
	if strings.EqualFold(strings.TrimSpace(rcpt.Status), "0x0") {
		return Status{Rejected: true, Reason: "transaction reverted"}, nil
	}

	mined, err := parseHexUint64(rcpt.BlockNumber)
	if err != nil {
		return Status{}, fmt.Errorf("invalid receipt blockNumber: %w", err)
	}
	latest, err := l.rpc.blockNumber(ctx)
	if err != nil {
		return Status{}, err
	}
	if latest < mined {
		return Status{Confirmed: true, Depth: 1}, nil
	}
	return Status{Confirmed: true, Depth: int64(latest-mined) + 1}, nil
}

func functionSelector(signature string) string {
	return keccakHex([]byte(signature))[:8]
}

func keccakHex(b []byte) string {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
