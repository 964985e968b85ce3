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

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	stellarnet "github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
)

const (
	stellarTolerancePct = 1
	stellarDecimals     = 7
	stellarTxTimeoutSec = 300
)

// StellarAdapter matches incoming payments against the Horizon payments endpoint
// with a 1% underpayment tolerance. Stellar has near-instant finality, so any
// ledger-included payment counts as one confirmation.
type StellarAdapter struct{}

// NewStellarAdapter creates the Stellar adapter
func NewStellarAdapter() *StellarAdapter {
	return &StellarAdapter{}
}

func (a *StellarAdapter) Chain() models.Chain {
	return models.ChainStellar
}

func (a *StellarAdapter) ValidateAddress(address string) bool {
	return utils.IsStellarAddress(address)
}

type horizonPayment struct {
	Type                  string `json:"type"`
	To                    string `json:"to"`
	Amount                string `json:"amount"`
	AssetType             string `json:"asset_type"`
	TransactionHash       string `json:"transaction_hash"`
	TransactionSuccessful bool   `json:"transaction_successful"`
}

type horizonPaymentsPage struct {
	Embedded struct {
		Records []horizonPayment `json:"records"`
	} `json:"_embedded"`
}

// FindIncomingPayment scans the account's recent payments on Horizon. Amounts come
// back as 7-decimal strings and are compared in stroops with a 1% tolerance.
func (a *StellarAdapter) FindIncomingPayment(ctx context.Context, address string, expected *big.Int, network models.Network) (Confirmation, error) {
	cfg, err := config.GetChainNetworkConfig("stellar", string(network))
	if err != nil {
		return Confirmation{}, err
	}

	url := fmt.Sprintf("%s/accounts/%s/payments?order=desc&limit=20",
		strings.TrimSuffix(cfg.ExplorerURL, "/"), address)
	httpClient := &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second}

	var page horizonPaymentsPage
	if err := getJSON(ctx, httpClient, url, nil, &page); err != nil {
		log.Printf("⚠️ [Stellar] Horizon lookup failed for %s: %v", address, err)
		metrics.ExplorerRequestErrors.WithLabelValues("stellar", "horizon").Inc()
		return Confirmation{Confirmed: false}, nil
	}

	for _, payment := range page.Embedded.Records {
		if payment.Type != "payment" || payment.To != address {
			continue
		}
		if payment.AssetType != "native" || !payment.TransactionSuccessful {
			continue
		}
		stroops, err := utils.ToSmallestUnit(payment.Amount, stellarDecimals)
		if err != nil {
			continue
		}
		if utils.MeetsExpectedWithTolerance(stroops, expected, stellarTolerancePct) {
			return Confirmation{
				Confirmed:     true,
				TxHash:        payment.TransactionHash,
				Confirmations: 1,
			}, nil
		}
	}
	return Confirmation{Confirmed: false}, nil
}

func stellarPassphrase(network models.Network) string {
	if network == models.NetworkMainnet {
		return stellarnet.PublicNetworkPassphrase
	}
	return stellarnet.TestNetworkPassphrase
}

// ExecuteTransfer builds, signs, and submits one native XLM payment
func (a *StellarAdapter) ExecuteTransfer(ctx context.Context, privateKey, toAddress string, amount *big.Int, network models.Network) (string, error) {
	if !a.ValidateAddress(toAddress) {
		return "", NewTransferError(models.ChainStellar, TransferErrInvalidAddress, toAddress, nil)
	}
	cfg, err := config.GetChainNetworkConfig("stellar", string(network))
	if err != nil {
		return "", NewTransferError(models.ChainStellar, TransferErrUnreachable, err.Error(), err)
	}

	kp, err := keypair.ParseFull(privateKey)
	if err != nil {
		return "", NewTransferError(models.ChainStellar, TransferErrSigningFailed, "invalid secret seed", err)
	}

	hClient := &horizonclient.Client{
		HorizonURL: strings.TrimSuffix(cfg.ExplorerURL, "/"),
		HTTP:       &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second},
	}

	sourceAccount, err := hClient.AccountDetail(horizonclient.AccountRequest{AccountID: kp.Address()})
	if err != nil {
		return "", NewTransferError(models.ChainStellar, TransferErrUnreachable, "failed to load source account", err)
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &sourceAccount,
		IncrementSequenceNum: true,
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(stellarTxTimeoutSec)},
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: toAddress,
				Amount:      utils.FromSmallestUnit(amount, stellarDecimals),
				Asset:       txnbuild.NativeAsset{},
			},
		},
	})
	if err != nil {
		return "", NewTransferError(models.ChainStellar, TransferErrSigningFailed, "failed to build transaction", err)
	}

	tx, err = tx.Sign(stellarPassphrase(network), kp)
	if err != nil {
		return "", NewTransferError(models.ChainStellar, TransferErrSigningFailed, "failed to sign transaction", err)
	}

	resp, err := hClient.SubmitTransaction(tx)
	if err != nil {
		if strings.Contains(err.Error(), "op_underfunded") {
			return "", NewTransferError(models.ChainStellar, TransferErrInsufficientBalance, err.Error(), err)
		}
		return "", NewTransferError(models.ChainStellar, TransferErrBroadcastRejected, err.Error(), err)
	}
	log.Printf("✅ [Stellar] Transfer broadcast: to=%s txHash=%s", toAddress, resp.Hash)
	return resp.Hash, nil
}

// GetBalance returns the native XLM balance in stroops
func (a *StellarAdapter) GetBalance(ctx context.Context, address string, network models.Network) (*big.Int, error) {
	cfg, err := config.GetChainNetworkConfig("stellar", string(network))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/accounts/%s", strings.TrimSuffix(cfg.ExplorerURL, "/"), address)
	httpClient := &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second}

	var account struct {
		Balances []struct {
			Balance   string `json:"balance"`
			AssetType string `json:"asset_type"`
		} `json:"balances"`
	}
	if err := getJSON(ctx, httpClient, url, nil, &account); err != nil {
		return nil, err
	}
	for _, balance := range account.Balances {
		if balance.AssetType == "native" {
			return utils.ToSmallestUnit(balance.Balance, stellarDecimals)
		}
	}
	return big.NewInt(0), nil
}

// EstimateFee returns the base fee per operation (100 stroops) with headroom for
// surge pricing
func (a *StellarAdapter) EstimateFee(ctx context.Context, network models.Network) (*big.Int, error) {
	return big.NewInt(txnbuild.MinBaseFee * 10), nil
}
