package chains

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"wallet-backend/internal/config"
	"wallet-backend/internal/metrics"
	"wallet-backend/internal/models"
	"wallet-backend/internal/utils"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/account"
	"github.com/NethermindEth/starknet.go/curve"
	"github.com/NethermindEth/starknet.go/rpc"
	snutils "github.com/NethermindEth/starknet.go/utils"
)

const (
	starknetTolerancePct = 1
	// conservative flat per-invoke fee cap in fri (0.001 of the fee token)
	starknetMaxFee = 1_000_000_000_000_000
)

var starknetUint128Mask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// StarknetAdapter resolves incoming payments through a fallback chain: the primary
// explorer's token-transfer API, then starknet_getEvents against the configured
// token contracts, then the secondary explorer. Every address comparison goes
// through zero-padding normalization first; unpadded addresses are a classic source
// of silently missed payments on Starknet.
type StarknetAdapter struct{}

// NewStarknetAdapter creates the Starknet adapter
func NewStarknetAdapter() *StarknetAdapter {
	return &StarknetAdapter{}
}

func (a *StarknetAdapter) Chain() models.Chain {
	return models.ChainStarknet
}

func (a *StarknetAdapter) ValidateAddress(address string) bool {
	return utils.IsStarknetAddress(address)
}

// FindIncomingPayment runs the three lookup strategies in order; the first
// confirmed match wins and strategy failures fall through
func (a *StarknetAdapter) FindIncomingPayment(ctx context.Context, address string, expected *big.Int, network models.Network) (Confirmation, error) {
	cfg, err := config.GetChainNetworkConfig("starknet", string(network))
	if err != nil {
		return Confirmation{}, err
	}
	target := utils.NormalizeStarknetAddress(address)
	httpClient := &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second}

	if cfg.ExplorerURL != "" {
		if confirmation, ok := a.findViaVoyager(ctx, httpClient, cfg, target, expected); ok {
			return confirmation, nil
		}
	}
	if len(cfg.RPCEndpoints) > 0 && len(cfg.TokenContracts) > 0 {
		if confirmation, ok := a.findViaEvents(ctx, httpClient, cfg, target, expected); ok {
			return confirmation, nil
		}
	}
	if cfg.FallbackExplorerURL != "" {
		if confirmation, ok := a.findViaStarkscan(ctx, httpClient, cfg, target, expected); ok {
			return confirmation, nil
		}
	}
	return Confirmation{Confirmed: false}, nil
}

type voyagerTransfer struct {
	TransferTo      string `json:"transfer_to"`
	TransferValue   string `json:"transfer_value"` // integer smallest units
	TransactionHash string `json:"transaction_hash"`
}

type voyagerTransfersResponse struct {
	Items []voyagerTransfer `json:"items"`
}

func (a *StarknetAdapter) findViaVoyager(ctx context.Context, httpClient *http.Client, cfg *config.ChainNetworkConfig, target string, expected *big.Int) (Confirmation, bool) {
	url := fmt.Sprintf("%s/token-transfers?to_address=%s&ps=25&p=1",
		strings.TrimSuffix(cfg.ExplorerURL, "/"), target)
	headers := map[string]string{}
	if cfg.ExplorerAPIKey != "" {
		headers["x-api-key"] = cfg.ExplorerAPIKey
	}

	var resp voyagerTransfersResponse
	if err := getJSON(ctx, httpClient, url, headers, &resp); err != nil {
		log.Printf("⚠️ [Starknet] Voyager lookup failed for %s: %v", target, err)
		metrics.ExplorerRequestErrors.WithLabelValues("starknet", "voyager").Inc()
		return Confirmation{}, false
	}

	for _, transfer := range resp.Items {
		if !utils.StarknetAddressesEqual(transfer.TransferTo, target) {
			continue
		}
		value, ok := new(big.Int).SetString(transfer.TransferValue, 10)
		if !ok {
			continue
		}
		if utils.MeetsExpectedWithTolerance(value, expected, starknetTolerancePct) {
			return Confirmation{Confirmed: true, TxHash: transfer.TransactionHash, Confirmations: 1}, true
		}
	}
	return Confirmation{}, false
}

type starknetEvent struct {
	FromAddress     string   `json:"from_address"`
	Keys            []string `json:"keys"`
	Data            []string `json:"data"`
	TransactionHash string   `json:"transaction_hash"`
}

type starknetEventsResult struct {
	Events []starknetEvent `json:"events"`
}

// findViaEvents queries Transfer events on each configured token contract and
// decodes the uint256 amount as low + high<<128
func (a *StarknetAdapter) findViaEvents(ctx context.Context, httpClient *http.Client, cfg *config.ChainNetworkConfig, target string, expected *big.Int) (Confirmation, bool) {
	endpoint := cfg.RPCEndpoints[0]
	transferSelector := snutils.GetSelectorFromNameFelt("Transfer").String()

	for _, tokenContract := range cfg.TokenContracts {
		filter := map[string]interface{}{
			"from_block": map[string]interface{}{"block_tag": "latest"},
			"to_block":   map[string]interface{}{"block_tag": "latest"},
			"address":    utils.NormalizeStarknetAddress(tokenContract),
			"keys":       [][]string{{transferSelector}},
			"chunk_size": 100,
		}
		var result starknetEventsResult
		if err := callRPC(ctx, httpClient, endpoint, "starknet_getEvents", []interface{}{filter}, &result); err != nil {
			log.Printf("⚠️ [Starknet] getEvents failed on %s: %v", tokenContract, err)
			metrics.ExplorerRequestErrors.WithLabelValues("starknet", "getEvents").Inc()
			continue
		}

		for _, event := range result.Events {
			recipient, amount, ok := decodeStarknetTransferEvent(event)
			if !ok {
				continue
			}
			if !utils.StarknetAddressesEqual(recipient, target) {
				continue
			}
			if utils.MeetsExpectedWithTolerance(amount, expected, starknetTolerancePct) {
				return Confirmation{Confirmed: true, TxHash: event.TransactionHash, Confirmations: 1}, true
			}
		}
	}
	return Confirmation{}, false
}

// decodeStarknetTransferEvent handles both event layouts in the wild:
// keys=[selector] data=[from,to,low,high] (legacy) and
// keys=[selector,from,to] data=[low,high] (current OpenZeppelin)
func decodeStarknetTransferEvent(event starknetEvent) (recipient string, amount *big.Int, ok bool) {
	switch {
	case len(event.Keys) >= 3 && len(event.Data) >= 2:
		recipient = event.Keys[2]
		amount = starknetUint256(event.Data[0], event.Data[1])
	case len(event.Keys) >= 1 && len(event.Data) >= 4:
		recipient = event.Data[1]
		amount = starknetUint256(event.Data[2], event.Data[3])
	default:
		return "", nil, false
	}
	if amount == nil {
		return "", nil, false
	}
	return recipient, amount, true
}

// starknetUint256 reassembles a uint256 from its low/high felt halves
func starknetUint256(lowHex, highHex string) *big.Int {
	low, ok := new(big.Int).SetString(strings.TrimPrefix(lowHex, "0x"), 16)
	if !ok {
		return nil
	}
	high, ok := new(big.Int).SetString(strings.TrimPrefix(highHex, "0x"), 16)
	if !ok {
		return nil
	}
	return new(big.Int).Add(new(big.Int).Lsh(high, 128), low)
}

type starkscanTransfer struct {
	TransferToAddress string `json:"transfer_to_address"`
	TransferValue     string `json:"transfer_value"`
	TransactionHash   string `json:"transaction_hash"`
}

type starkscanTransfersResponse struct {
	Data []starkscanTransfer `json:"data"`
}

func (a *StarknetAdapter) findViaStarkscan(ctx context.Context, httpClient *http.Client, cfg *config.ChainNetworkConfig, target string, expected *big.Int) (Confirmation, bool) {
	url := fmt.Sprintf("%s/api/v0/token-transfers?transfer_to_address=%s&limit=25",
		strings.TrimSuffix(cfg.FallbackExplorerURL, "/"), target)
	headers := map[string]string{}
	if cfg.FallbackAPIKey != "" {
		headers["x-api-key"] = cfg.FallbackAPIKey
	}

	var resp starkscanTransfersResponse
	if err := getJSON(ctx, httpClient, url, headers, &resp); err != nil {
		log.Printf("⚠️ [Starknet] Starkscan lookup failed for %s: %v", target, err)
		metrics.ExplorerRequestErrors.WithLabelValues("starknet", "starkscan").Inc()
		return Confirmation{}, false
	}

	for _, transfer := range resp.Data {
		if !utils.StarknetAddressesEqual(transfer.TransferToAddress, target) {
			continue
		}
		value, ok := new(big.Int).SetString(transfer.TransferValue, 10)
		if !ok {
			continue
		}
		if utils.MeetsExpectedWithTolerance(value, expected, starknetTolerancePct) {
			return Confirmation{Confirmed: true, TxHash: transfer.TransactionHash, Confirmations: 1}, true
		}
	}
	return Confirmation{}, false
}

// ExecuteTransfer invokes transfer(recipient, amount_u256) on the first configured
// token contract through the account abstraction layer
func (a *StarknetAdapter) ExecuteTransfer(ctx context.Context, privateKey, toAddress string, amount *big.Int, network models.Network) (string, error) {
	if !a.ValidateAddress(toAddress) {
		return "", NewTransferError(models.ChainStarknet, TransferErrInvalidAddress, toAddress, nil)
	}
	cfg, err := config.GetChainNetworkConfig("starknet", string(network))
	if err != nil {
		return "", NewTransferError(models.ChainStarknet, TransferErrUnreachable, err.Error(), err)
	}
	if len(cfg.RPCEndpoints) == 0 {
		return "", NewTransferError(models.ChainStarknet, TransferErrUnreachable, "no RPC endpoints configured", nil)
	}
	if len(cfg.TokenContracts) == 0 {
		return "", NewTransferError(models.ChainStarknet, TransferErrSigningFailed, "no token contract configured", nil)
	}
	if cfg.AccountAddress == "" {
		return "", NewTransferError(models.ChainStarknet, TransferErrSigningFailed, "no account contract configured", nil)
	}

	provider, err := rpc.NewProvider(cfg.RPCEndpoints[0])
	if err != nil {
		return "", NewTransferError(models.ChainStarknet, TransferErrUnreachable, err.Error(), err)
	}

	privKey, ok := new(big.Int).SetString(strings.TrimPrefix(privateKey, "0x"), 16)
	if !ok {
		return "", NewTransferError(models.ChainStarknet, TransferErrSigningFailed, "invalid private key format", nil)
	}
	pubX, _, err := curve.Curve.PrivateToPoint(privKey)
	if err != nil {
		return "", NewTransferError(models.ChainStarknet, TransferErrSigningFailed, "failed to derive public key", err)
	}
	keystore := account.NewMemKeystore()
	keystore.Put(pubX.String(), privKey)

	accountAddress, err := snutils.HexToFelt(utils.NormalizeStarknetAddress(cfg.AccountAddress))
	if err != nil {
		return "", NewTransferError(models.ChainStarknet, TransferErrSigningFailed, "invalid account address", err)
	}
	acct, err := account.NewAccount(provider, accountAddress, pubX.String(), keystore, 2)
	if err != nil {
		return "", NewTransferError(models.ChainStarknet, TransferErrSigningFailed, "failed to initialize account", err)
	}

	tokenContract, err := snutils.HexToFelt(utils.NormalizeStarknetAddress(cfg.TokenContracts[0]))
	if err != nil {
		return "", NewTransferError(models.ChainStarknet, TransferErrSigningFailed, "invalid token contract", err)
	}
	recipient, err := snutils.HexToFelt(utils.NormalizeStarknetAddress(toAddress))
	if err != nil {
		return "", NewTransferError(models.ChainStarknet, TransferErrInvalidAddress, toAddress, err)
	}

	low := new(big.Int).And(amount, starknetUint128Mask)
	high := new(big.Int).Rsh(amount, 128)
	calldata := []*felt.Felt{
		recipient,
		snutils.BigIntToFelt(low),
		snutils.BigIntToFelt(high),
	}

	nonce, err := acct.Nonce(ctx, rpc.BlockID{Tag: "latest"}, acct.AccountAddress)
	if err != nil {
		return "", NewTransferError(models.ChainStarknet, TransferErrUnreachable, "failed to fetch nonce", err)
	}

	invokeTx := rpc.InvokeTxnV1{
		MaxFee:        new(felt.Felt).SetUint64(starknetMaxFee),
		Version:       rpc.TransactionV1,
		Nonce:         nonce,
		Type:          rpc.TransactionType_Invoke,
		SenderAddress: acct.AccountAddress,
	}
	invokeTx.Calldata, err = acct.FmtCalldata([]rpc.FunctionCall{{
		ContractAddress:    tokenContract,
		EntryPointSelector: snutils.GetSelectorFromNameFelt("transfer"),
		Calldata:           calldata,
	}})
	if err != nil {
		return "", NewTransferError(models.ChainStarknet, TransferErrSigningFailed, "failed to format calldata", err)
	}
	if err := acct.SignInvokeTransaction(ctx, &invokeTx); err != nil {
		return "", NewTransferError(models.ChainStarknet, TransferErrSigningFailed, "failed to sign transaction", err)
	}

	resp, err := acct.SendTransaction(ctx, invokeTx)
	if err != nil {
		if strings.Contains(err.Error(), "InsufficientAccountBalance") {
			return "", NewTransferError(models.ChainStarknet, TransferErrInsufficientBalance, err.Error(), err)
		}
		return "", NewTransferError(models.ChainStarknet, TransferErrBroadcastRejected, err.Error(), err)
	}

	txHash := resp.TransactionHash.String()
	log.Printf("✅ [Starknet] Transfer broadcast: to=%s txHash=%s", toAddress, txHash)
	return txHash, nil
}

// GetBalance calls balanceOf on the first configured token contract
func (a *StarknetAdapter) GetBalance(ctx context.Context, address string, network models.Network) (*big.Int, error) {
	cfg, err := config.GetChainNetworkConfig("starknet", string(network))
	if err != nil {
		return nil, err
	}
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured for starknet")
	}
	if len(cfg.TokenContracts) == 0 {
		return nil, fmt.Errorf("no token contract configured for starknet")
	}

	provider, err := rpc.NewProvider(cfg.RPCEndpoints[0])
	if err != nil {
		return nil, err
	}
	tokenContract, err := snutils.HexToFelt(utils.NormalizeStarknetAddress(cfg.TokenContracts[0]))
	if err != nil {
		return nil, err
	}
	holder, err := snutils.HexToFelt(utils.NormalizeStarknetAddress(address))
	if err != nil {
		return nil, err
	}

	result, err := provider.Call(ctx, rpc.FunctionCall{
		ContractAddress:    tokenContract,
		EntryPointSelector: snutils.GetSelectorFromNameFelt("balanceOf"),
		Calldata:           []*felt.Felt{holder},
	}, rpc.BlockID{Tag: "latest"})
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected balanceOf result length %d", len(result))
	}

	low := result[0].BigInt(new(big.Int))
	high := result[1].BigInt(new(big.Int))
	return new(big.Int).Add(new(big.Int).Lsh(high, 128), low), nil
}

// EstimateFee returns the flat invoke fee cap used when signing
func (a *StarknetAdapter) EstimateFee(ctx context.Context, network models.Network) (*big.Int, error) {
	return big.NewInt(starknetMaxFee), nil
}
