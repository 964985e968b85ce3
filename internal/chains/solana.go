package chains

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"time"

	"wallet-backend/internal/config"
	"wallet-backend/internal/metrics"
	"wallet-backend/internal/models"
	"wallet-backend/internal/utils"

	"github.com/blocto/solana-go-sdk/client"
	solcommon "github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/system"
	soltypes "github.com/blocto/solana-go-sdk/types"
)

const (
	solanaTokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	solanaBaseFee      = 5000 // lamports per signature
	solanaSigLimit     = 20
)

// SolanaAdapter detects incoming payments by inspecting recent transactions for the
// target address: native balance diff first, then parsed system/SPL transfer
// instructions, then raw token-balance diffs. First match wins. Transfers are built
// and signed through the Solana SDK.
type SolanaAdapter struct{}

// NewSolanaAdapter creates the Solana adapter
func NewSolanaAdapter() *SolanaAdapter {
	return &SolanaAdapter{}
}

func (a *SolanaAdapter) Chain() models.Chain {
	return models.ChainSolana
}

func (a *SolanaAdapter) ValidateAddress(address string) bool {
	return utils.IsSolanaAddress(address)
}

type solanaSignature struct {
	Signature          string `json:"signature"`
	ConfirmationStatus string `json:"confirmationStatus"`
	Err                any    `json:"err"`
}

type solanaTokenAmount struct {
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
}

type solanaTokenBalance struct {
	AccountIndex  int               `json:"accountIndex"`
	Owner         string            `json:"owner"`
	Mint          string            `json:"mint"`
	UITokenAmount solanaTokenAmount `json:"uiTokenAmount"`
}

type solanaInstruction struct {
	Program string `json:"program"`
	Parsed  *struct {
		Type string `json:"type"`
		Info struct {
			Destination string `json:"destination"`
			Lamports    uint64 `json:"lamports"`
			Amount      string `json:"amount"`
			TokenAmount *solanaTokenAmount `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

type solanaTransaction struct {
	Slot uint64 `json:"slot"`
	Meta *struct {
		Err               any                  `json:"err"`
		PreBalances       []uint64             `json:"preBalances"`
		PostBalances      []uint64             `json:"postBalances"`
		PreTokenBalances  []solanaTokenBalance `json:"preTokenBalances"`
		PostTokenBalances []solanaTokenBalance `json:"postTokenBalances"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []struct {
				Pubkey string `json:"pubkey"`
			} `json:"accountKeys"`
			Instructions []solanaInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// FindIncomingPayment fetches signatures for the address (falling back to its token
// accounts when it has none) and inspects each transaction with the three matching
// strategies in priority order.
func (a *SolanaAdapter) FindIncomingPayment(ctx context.Context, address string, expected *big.Int, network models.Network) (Confirmation, error) {
	cfg, err := config.GetChainNetworkConfig("solana", string(network))
	if err != nil {
		return Confirmation{}, err
	}
	if len(cfg.RPCEndpoints) == 0 {
		return Confirmation{}, fmt.Errorf("no RPC endpoints configured for solana")
	}
	endpoint := cfg.RPCEndpoints[0]
	httpClient := &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second}

	signatures := a.fetchSignatures(ctx, httpClient, endpoint, address)
	targets := []string{address}
	if len(signatures) == 0 {
		// no direct activity: check the address's associated token accounts
		tokenAccounts := a.fetchTokenAccounts(ctx, httpClient, endpoint, address)
		for _, account := range tokenAccounts {
			sigs := a.fetchSignatures(ctx, httpClient, endpoint, account)
			signatures = append(signatures, sigs...)
			targets = append(targets, account)
		}
	}

	for _, sig := range signatures {
		if sig.Err != nil {
			continue
		}
		var tx solanaTransaction
		params := []interface{}{sig.Signature, map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		}}
		if err := callRPC(ctx, httpClient, endpoint, "getTransaction", params, &tx); err != nil {
			log.Printf("⚠️ [Solana] getTransaction failed for %s: %v", sig.Signature, err)
			metrics.ExplorerRequestErrors.WithLabelValues("solana", "getTransaction").Inc()
			continue
		}
		if tx.Meta == nil || tx.Meta.Err != nil {
			continue
		}
		if a.matchesExpected(&tx, address, targets, expected) {
			confirmations := solanaConfirmationTier(sig.ConfirmationStatus)
			return Confirmation{
				Confirmed:     confirmations >= 1,
				TxHash:        sig.Signature,
				Confirmations: confirmations,
			}, nil
		}
	}
	return Confirmation{Confirmed: false}, nil
}

// matchesExpected applies the three detection strategies in priority order
func (a *SolanaAdapter) matchesExpected(tx *solanaTransaction, address string, targets []string, expected *big.Int) bool {
	expectedLamports := expected.Uint64()

	// 1. native balance diff on the target account
	for i, key := range tx.Transaction.Message.AccountKeys {
		if key.Pubkey != address {
			continue
		}
		if i < len(tx.Meta.PreBalances) && i < len(tx.Meta.PostBalances) {
			if tx.Meta.PostBalances[i] >= tx.Meta.PreBalances[i] &&
				tx.Meta.PostBalances[i]-tx.Meta.PreBalances[i] >= expectedLamports {
				return true
			}
		}
	}

	// 2. parsed system / SPL-token transfer instructions
	for _, instruction := range tx.Transaction.Message.Instructions {
		if instruction.Parsed == nil {
			continue
		}
		if instruction.Parsed.Type != "transfer" && instruction.Parsed.Type != "transferChecked" {
			continue
		}
		if !containsString(targets, instruction.Parsed.Info.Destination) {
			continue
		}
		if instruction.Program == "system" && instruction.Parsed.Info.Lamports >= expectedLamports {
			return true
		}
		if instruction.Program == "spl-token" {
			amount := instruction.Parsed.Info.Amount
			if amount == "" && instruction.Parsed.Info.TokenAmount != nil {
				amount = instruction.Parsed.Info.TokenAmount.Amount
			}
			if value, ok := new(big.Int).SetString(amount, 10); ok && value.Cmp(expected) >= 0 {
				return true
			}
		}
	}

	// 3. raw token-balance array diffs for accounts owned by the target
	for _, post := range tx.Meta.PostTokenBalances {
		if post.Owner != address {
			continue
		}
		postValue, ok := new(big.Int).SetString(post.UITokenAmount.Amount, 10)
		if !ok {
			continue
		}
		preValue := new(big.Int)
		for _, pre := range tx.Meta.PreTokenBalances {
			if pre.AccountIndex == post.AccountIndex {
				if v, ok := new(big.Int).SetString(pre.UITokenAmount.Amount, 10); ok {
					preValue = v
				}
				break
			}
		}
		diff := new(big.Int).Sub(postValue, preValue)
		if diff.Sign() > 0 && diff.Cmp(expected) >= 0 {
			return true
		}
	}
	return false
}

func (a *SolanaAdapter) fetchSignatures(ctx context.Context, httpClient *http.Client, endpoint, address string) []solanaSignature {
	var signatures []solanaSignature
	params := []interface{}{address, map[string]interface{}{"limit": solanaSigLimit}}
	if err := callRPC(ctx, httpClient, endpoint, "getSignaturesForAddress", params, &signatures); err != nil {
		log.Printf("⚠️ [Solana] getSignaturesForAddress failed for %s: %v", address, err)
		metrics.ExplorerRequestErrors.WithLabelValues("solana", "getSignaturesForAddress").Inc()
		return nil
	}
	return signatures
}

func (a *SolanaAdapter) fetchTokenAccounts(ctx context.Context, httpClient *http.Client, endpoint, owner string) []string {
	var result struct {
		Value []struct {
			Pubkey string `json:"pubkey"`
		} `json:"value"`
	}
	params := []interface{}{
		owner,
		map[string]interface{}{"programId": solanaTokenProgram},
		map[string]interface{}{"encoding": "jsonParsed"},
	}
	if err := callRPC(ctx, httpClient, endpoint, "getTokenAccountsByOwner", params, &result); err != nil {
		log.Printf("⚠️ [Solana] getTokenAccountsByOwner failed for %s: %v", owner, err)
		metrics.ExplorerRequestErrors.WithLabelValues("solana", "getTokenAccountsByOwner").Inc()
		return nil
	}
	accounts := make([]string, 0, len(result.Value))
	for _, entry := range result.Value {
		accounts = append(accounts, entry.Pubkey)
	}
	return accounts
}

// solanaConfirmationTier maps commitment status to a confirmation count
func solanaConfirmationTier(status string) uint64 {
	switch status {
	case "finalized":
		return 32
	case "confirmed":
		return 1
	default:
		return 0
	}
}

// ExecuteTransfer signs and sends one native SOL transfer
func (a *SolanaAdapter) ExecuteTransfer(ctx context.Context, privateKey, toAddress string, amount *big.Int, network models.Network) (string, error) {
	if !a.ValidateAddress(toAddress) {
		return "", NewTransferError(models.ChainSolana, TransferErrInvalidAddress, toAddress, nil)
	}
	cfg, err := config.GetChainNetworkConfig("solana", string(network))
	if err != nil {
		return "", NewTransferError(models.ChainSolana, TransferErrUnreachable, err.Error(), err)
	}
	if len(cfg.RPCEndpoints) == 0 {
		return "", NewTransferError(models.ChainSolana, TransferErrUnreachable, "no RPC endpoints configured", nil)
	}

	account, err := soltypes.AccountFromBase58(privateKey)
	if err != nil {
		return "", NewTransferError(models.ChainSolana, TransferErrSigningFailed, "invalid private key format", err)
	}

	rpcClient := client.NewClient(cfg.RPCEndpoints[0])
	latest, err := rpcClient.GetLatestBlockhash(ctx)
	if err != nil {
		return "", NewTransferError(models.ChainSolana, TransferErrUnreachable, "failed to fetch blockhash", err)
	}

	tx, err := soltypes.NewTransaction(soltypes.NewTransactionParam{
		Message: soltypes.NewMessage(soltypes.NewMessageParam{
			FeePayer:        account.PublicKey,
			RecentBlockhash: latest.Blockhash,
			Instructions: []soltypes.Instruction{
				system.Transfer(system.TransferParam{
					From:   account.PublicKey,
					To:     solcommon.PublicKeyFromString(toAddress),
					Amount: amount.Uint64(),
				}),
			},
		}),
		Signers: []soltypes.Account{account},
	})
	if err != nil {
		return "", NewTransferError(models.ChainSolana, TransferErrSigningFailed, "failed to build transaction", err)
	}

	signature, err := rpcClient.SendTransaction(ctx, tx)
	if err != nil {
		return "", NewTransferError(models.ChainSolana, TransferErrBroadcastRejected, err.Error(), err)
	}
	log.Printf("✅ [Solana] Transfer broadcast: to=%s signature=%s", toAddress, signature)
	return signature, nil
}

// GetBalance returns the lamport balance
func (a *SolanaAdapter) GetBalance(ctx context.Context, address string, network models.Network) (*big.Int, error) {
	cfg, err := config.GetChainNetworkConfig("solana", string(network))
	if err != nil {
		return nil, err
	}
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured for solana")
	}
	rpcClient := client.NewClient(cfg.RPCEndpoints[0])
	balance, err := rpcClient.GetBalance(ctx, address)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(balance), nil
}

// EstimateFee returns the per-signature base fee plus headroom for rent-exempt
// minimums on fresh recipient accounts
func (a *SolanaAdapter) EstimateFee(ctx context.Context, network models.Network) (*big.Int, error) {
	return big.NewInt(solanaBaseFee * 2), nil
}

func containsString(list []string, value string) bool {
	for _, entry := range list {
		if entry == value {
			return true
		}
	}
	return false
}
