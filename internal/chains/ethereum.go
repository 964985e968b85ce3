package chains

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wallet-backend/internal/config"
	"wallet-backend/internal/metrics"
	"wallet-backend/internal/models"
	"wallet-backend/internal/utils"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	ethMinConfirmations = 3
	ethTransferGasLimit = 21000
	erc20TransferGas    = 65000
)

// transferMethodID first 4 bytes of keccak256("transfer(address,uint256)")
var transferMethodID = []byte{0xa9, 0x05, 0x9c, 0xbb}

// EthereumAdapter serves the ethereum, erc20 and bnb chain tags. Incoming payments
// are matched against the Etherscan-style txlist/tokentx APIs; the match requires
// exact wei equality, unlike every other chain's tolerance. Transfers go through
// ethclient with EIP-155 signing.
type EthereumAdapter struct {
	chain      models.Chain
	configName string // key into config.Chains
	tokenMode  bool   // erc20: match token transfer events, send via token contract
}

// NewEthereumAdapter creates an adapter for one EVM chain tag
func NewEthereumAdapter(chain models.Chain) *EthereumAdapter {
	return &EthereumAdapter{
		chain:      chain,
		configName: string(chain),
		tokenMode:  chain == models.ChainERC20,
	}
}

func (a *EthereumAdapter) Chain() models.Chain {
	return a.chain
}

func (a *EthereumAdapter) ValidateAddress(address string) bool {
	return utils.IsEvmAddress(address)
}

// etherscanTx one entry of an Etherscan txlist/tokentx result
type etherscanTx struct {
	Hash            string `json:"hash"`
	To              string `json:"to"`
	Value           string `json:"value"`
	Confirmations   string `json:"confirmations"`
	IsError         string `json:"isError"`
	ContractAddress string `json:"contractAddress"`
}

type etherscanResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Result  []etherscanTx `json:"result"`
}

// FindIncomingPayment scans recent transactions to address via the explorer API.
// Exact amount equality is required; a value match with fewer than 3 confirmations
// reports the tx hash but stays unconfirmed.
func (a *EthereumAdapter) FindIncomingPayment(ctx context.Context, address string, expected *big.Int, network models.Network) (Confirmation, error) {
	cfg, err := config.GetChainNetworkConfig(a.configName, string(network))
	if err != nil {
		return Confirmation{}, err
	}

	action := "txlist"
	if a.tokenMode {
		action = "tokentx"
	}
	url := fmt.Sprintf("%s/api?module=account&action=%s&address=%s&sort=desc&page=1&offset=50",
		strings.TrimSuffix(cfg.ExplorerURL, "/"), action, address)
	if cfg.ExplorerAPIKey != "" {
		url += "&apikey=" + cfg.ExplorerAPIKey
	}

	httpClient := &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second}
	var resp etherscanResponse
	if err := getJSON(ctx, httpClient, url, nil, &resp); err != nil {
		log.Printf("⚠️ [Ethereum] Explorer lookup failed for %s: %v", address, err)
		metrics.ExplorerRequestErrors.WithLabelValues(string(a.chain), "explorer").Inc()
		return Confirmation{Confirmed: false}, nil
	}
	// status "0" with "No transactions found" is a normal empty result
	if resp.Status != "1" && len(resp.Result) == 0 {
		return Confirmation{Confirmed: false}, nil
	}

	wantAddress := utils.NormalizeEvmAddress(address)
	for _, tx := range resp.Result {
		if utils.NormalizeEvmAddress(tx.To) != wantAddress {
			continue
		}
		if tx.IsError == "1" {
			continue
		}
		if a.tokenMode && !a.isKnownToken(cfg, tx.ContractAddress) {
			continue
		}
		// exact wei equality, no tolerance
		if tx.Value != expected.String() {
			continue
		}
		confirmations, _ := strconv.ParseUint(tx.Confirmations, 10, 64)
		return Confirmation{
			Confirmed:     confirmations >= ethMinConfirmations,
			TxHash:        tx.Hash,
			Confirmations: confirmations,
		}, nil
	}
	return Confirmation{Confirmed: false}, nil
}

func (a *EthereumAdapter) isKnownToken(cfg *config.ChainNetworkConfig, contract string) bool {
	for _, token := range cfg.TokenContracts {
		if utils.NormalizeEvmAddress(token) == utils.NormalizeEvmAddress(contract) {
			return true
		}
	}
	return false
}

// dial connects to the first reachable RPC endpoint, failing over down the list
func (a *EthereumAdapter) dial(cfg *config.ChainNetworkConfig) (*ethclient.Client, error) {
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured for %s", a.chain)
	}
	var lastErr error
	for _, endpoint := range cfg.RPCEndpoints {
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			lastErr = err
			continue
		}
		return client, nil
	}
	return nil, fmt.Errorf("all RPC endpoints failed for %s: %w", a.chain, lastErr)
}

// ExecuteTransfer signs and broadcasts one native or token transfer
func (a *EthereumAdapter) ExecuteTransfer(ctx context.Context, privateKey, toAddress string, amount *big.Int, network models.Network) (string, error) {
	if !a.ValidateAddress(toAddress) {
		return "", NewTransferError(a.chain, TransferErrInvalidAddress, toAddress, nil)
	}
	cfg, err := config.GetChainNetworkConfig(a.configName, string(network))
	if err != nil {
		return "", NewTransferError(a.chain, TransferErrUnreachable, err.Error(), err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return "", NewTransferError(a.chain, TransferErrSigningFailed, "invalid private key format", err)
	}
	fromAddress := crypto.PubkeyToAddress(key.PublicKey)

	client, err := a.dial(cfg)
	if err != nil {
		return "", NewTransferError(a.chain, TransferErrUnreachable, err.Error(), err)
	}
	defer client.Close()

	nonce, err := client.PendingNonceAt(ctx, fromAddress)
	if err != nil {
		return "", NewTransferError(a.chain, TransferErrUnreachable, "failed to fetch nonce", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", NewTransferError(a.chain, TransferErrUnreachable, "failed to fetch gas price", err)
	}

	var tx *types.Transaction
	if a.tokenMode {
		if len(cfg.TokenContracts) == 0 {
			return "", NewTransferError(a.chain, TransferErrSigningFailed, "no token contract configured", nil)
		}
		tokenContract := common.HexToAddress(cfg.TokenContracts[0])
		data := buildERC20TransferData(common.HexToAddress(toAddress), amount)
		tx = types.NewTransaction(nonce, tokenContract, big.NewInt(0), erc20TransferGas, gasPrice, data)
	} else {
		to := common.HexToAddress(toAddress)
		tx = types.NewTransaction(nonce, to, amount, ethTransferGasLimit, gasPrice, nil)
	}

	signer := types.NewEIP155Signer(big.NewInt(cfg.ChainID))
	signedTx, err := types.SignTx(tx, signer, key)
	if err != nil {
		return "", NewTransferError(a.chain, TransferErrSigningFailed, "failed to sign transaction", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		if strings.Contains(err.Error(), "insufficient funds") {
			return "", NewTransferError(a.chain, TransferErrInsufficientBalance, err.Error(), err)
		}
		return "", NewTransferError(a.chain, TransferErrBroadcastRejected, err.Error(), err)
	}

	txHash := signedTx.Hash().Hex()
	log.Printf("✅ [Ethereum] Transfer broadcast: chain=%s to=%s txHash=%s", a.chain, toAddress, txHash)
	return txHash, nil
}

// buildERC20TransferData encodes transfer(address,uint256) calldata
func buildERC20TransferData(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferMethodID...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

func ethereumCallMsg(to common.Address, data []byte) goethereum.CallMsg {
	return goethereum.CallMsg{To: &to, Data: data}
}

// GetBalance returns the native or token balance in smallest units
func (a *EthereumAdapter) GetBalance(ctx context.Context, address string, network models.Network) (*big.Int, error) {
	cfg, err := config.GetChainNetworkConfig(a.configName, string(network))
	if err != nil {
		return nil, err
	}
	client, err := a.dial(cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if !a.tokenMode {
		return client.BalanceAt(ctx, common.HexToAddress(address), nil)
	}

	if len(cfg.TokenContracts) == 0 {
		return nil, fmt.Errorf("no token contract configured for %s", a.chain)
	}
	// balanceOf(address) selector 0x70a08231
	data := append([]byte{0x70, 0xa0, 0x82, 0x31}, common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)...)
	tokenContract := common.HexToAddress(cfg.TokenContracts[0])
	result, err := client.CallContract(ctx, ethereumCallMsg(tokenContract, data), nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

// EstimateFee returns gasPrice * gasLimit as a conservative per-transfer estimate.
// Token transfers pay fees in the native asset of the same account, so the gate
// checks native balance separately for erc20 splits.
func (a *EthereumAdapter) EstimateFee(ctx context.Context, network models.Network) (*big.Int, error) {
	cfg, err := config.GetChainNetworkConfig(a.configName, string(network))
	if err != nil {
		return nil, err
	}
	client, err := a.dial(cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gasLimit := int64(ethTransferGasLimit)
	if a.tokenMode {
		gasLimit = erc20TransferGas
	}
	return new(big.Int).Mul(gasPrice, big.NewInt(gasLimit)), nil
}
