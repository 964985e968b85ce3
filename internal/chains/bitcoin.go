package chains

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"sort"
	"strings"
	"time"

	"wallet-backend/internal/config"
	"wallet-backend/internal/metrics"
	"wallet-backend/internal/models"
	"wallet-backend/internal/utils"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// DustThresholdSats network relay policy floor for an output value
	DustThresholdSats = 546

	btcFallbackFeeRate = 10 // sat/vB when the estimator is unreachable
)

// BitcoinAdapter scans Blockstream-style REST endpoints for incoming payments and
// settles split payments as one multi-output transaction: all recipients share one
// txid and succeed or fail together.
type BitcoinAdapter struct{}

// NewBitcoinAdapter creates the Bitcoin adapter
func NewBitcoinAdapter() *BitcoinAdapter {
	return &BitcoinAdapter{}
}

func (a *BitcoinAdapter) Chain() models.Chain {
	return models.ChainBitcoin
}

func (a *BitcoinAdapter) ValidateAddress(address string) bool {
	return utils.IsBitcoinAddress(address)
}

func (a *BitcoinAdapter) chainParams(network models.Network) *chaincfg.Params {
	if network == models.NetworkTestnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// blockstreamUTXO one entry of /address/{addr}/utxo
type blockstreamUTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint64 `json:"block_height"`
	} `json:"status"`
}

// blockstreamTx one entry of /address/{addr}/txs
type blockstreamTx struct {
	TxID   string `json:"txid"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint64 `json:"block_height"`
	} `json:"status"`
	Vout []struct {
		ScriptPubKeyAddress string `json:"scriptpubkey_address"`
		Value               int64  `json:"value"`
	} `json:"vout"`
}

// FindIncomingPayment scans confirmed outputs first, then the mempool as fallback.
// Overpayment satisfies the expected amount; underpayment never does. Unconfirmed
// matches report the txid for visibility but stay unconfirmed.
func (a *BitcoinAdapter) FindIncomingPayment(ctx context.Context, address string, expected *big.Int, network models.Network) (Confirmation, error) {
	cfg, err := config.GetChainNetworkConfig("bitcoin", string(network))
	if err != nil {
		return Confirmation{}, err
	}
	base := strings.TrimSuffix(cfg.ExplorerURL, "/")
	httpClient := &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second}
	expectedSats := expected.Int64()

	// confirmed outputs via the UTXO index
	var utxos []blockstreamUTXO
	if err := getJSON(ctx, httpClient, fmt.Sprintf("%s/address/%s/utxo", base, address), nil, &utxos); err != nil {
		log.Printf("⚠️ [Bitcoin] UTXO lookup failed for %s: %v", address, err)
		metrics.ExplorerRequestErrors.WithLabelValues("bitcoin", "utxo").Inc()
	} else {
		var tipHeight uint64
		if err := getJSON(ctx, httpClient, base+"/blocks/tip/height", nil, &tipHeight); err != nil {
			log.Printf("⚠️ [Bitcoin] Tip height lookup failed: %v", err)
			metrics.ExplorerRequestErrors.WithLabelValues("bitcoin", "tip").Inc()
			tipHeight = 0
		}
		for _, utxo := range utxos {
			if !utxo.Status.Confirmed || utxo.Value < expectedSats {
				continue
			}
			confirmations := uint64(1)
			if tipHeight >= utxo.Status.BlockHeight {
				confirmations = tipHeight - utxo.Status.BlockHeight + 1
			}
			return Confirmation{Confirmed: true, TxHash: utxo.TxID, Confirmations: confirmations}, nil
		}
	}

	// mempool fallback: unconfirmed match is reported but not confirmed
	var txs []blockstreamTx
	if err := getJSON(ctx, httpClient, fmt.Sprintf("%s/address/%s/txs", base, address), nil, &txs); err != nil {
		log.Printf("⚠️ [Bitcoin] Transaction list lookup failed for %s: %v", address, err)
		metrics.ExplorerRequestErrors.WithLabelValues("bitcoin", "txs").Inc()
		return Confirmation{Confirmed: false}, nil
	}
	for _, tx := range txs {
		if tx.Status.Confirmed {
			continue
		}
		for _, vout := range tx.Vout {
			if vout.ScriptPubKeyAddress == address && vout.Value >= expectedSats {
				return Confirmation{Confirmed: false, TxHash: tx.TxID, Confirmations: 0}, nil
			}
		}
	}
	return Confirmation{Confirmed: false}, nil
}

// ExecuteTransfer sends a single-recipient transfer as a one-output batch
func (a *BitcoinAdapter) ExecuteTransfer(ctx context.Context, privateKey, toAddress string, amount *big.Int, network models.Network) (string, error) {
	return a.ExecuteBatchTransfer(ctx, privateKey, []Recipient{{Address: toAddress, Amount: amount}}, network)
}

// ExecuteBatchTransfer builds one transaction with an output per recipient plus
// change, signs every input, and broadcasts once. There is no partial settlement:
// either the whole transaction is accepted or nothing moves.
func (a *BitcoinAdapter) ExecuteBatchTransfer(ctx context.Context, privateKey string, recipients []Recipient, network models.Network) (string, error) {
	cfg, err := config.GetChainNetworkConfig("bitcoin", string(network))
	if err != nil {
		return "", NewTransferError(models.ChainBitcoin, TransferErrUnreachable, err.Error(), err)
	}
	params := a.chainParams(network)

	key, fromAddress, err := a.parsePrivateKey(privateKey, params)
	if err != nil {
		return "", NewTransferError(models.ChainBitcoin, TransferErrSigningFailed, "invalid private key format", err)
	}

	totalOut := int64(0)
	for _, recipient := range recipients {
		if !a.ValidateAddress(recipient.Address) {
			return "", NewTransferError(models.ChainBitcoin, TransferErrInvalidAddress, recipient.Address, nil)
		}
		sats := recipient.Amount.Int64()
		if sats < DustThresholdSats {
			return "", NewTransferError(models.ChainBitcoin, TransferErrBelowDust,
				fmt.Sprintf("%d sat to %s is below the %d sat dust threshold", sats, recipient.Address, DustThresholdSats), nil)
		}
		totalOut += sats
	}

	base := strings.TrimSuffix(cfg.ExplorerURL, "/")
	httpClient := &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second}

	var utxos []blockstreamUTXO
	if err := getJSON(ctx, httpClient, fmt.Sprintf("%s/address/%s/utxo", base, fromAddress.EncodeAddress()), nil, &utxos); err != nil {
		return "", NewTransferError(models.ChainBitcoin, TransferErrUnreachable, "failed to fetch UTXOs", err)
	}
	// prefer confirmed, largest-first: fewer inputs, smaller fee
	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].Status.Confirmed != utxos[j].Status.Confirmed {
			return utxos[i].Status.Confirmed
		}
		return utxos[i].Value > utxos[j].Value
	})

	feeRate := a.fetchFeeRate(ctx, httpClient, base)

	// single selection pass: accumulate inputs until they cover outputs + fee at
	// the current input count
	var selected []blockstreamUTXO
	selectedValue := int64(0)
	fee := int64(0)
	for _, utxo := range utxos {
		selected = append(selected, utxo)
		selectedValue += utxo.Value
		fee = estimateVSize(len(selected), len(recipients)+1) * feeRate
		if selectedValue >= totalOut+fee {
			break
		}
	}
	if selectedValue < totalOut+fee {
		return "", NewTransferError(models.ChainBitcoin, TransferErrInsufficientBalance,
			fmt.Sprintf("have %d sat, need %d sat (%d outputs + %d fee)", selectedValue, totalOut+fee, totalOut, fee), nil)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, utxo := range selected {
		hash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			return "", NewTransferError(models.ChainBitcoin, TransferErrSigningFailed, "bad utxo txid", err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, utxo.Vout), nil, nil))
	}
	for _, recipient := range recipients {
		addr, err := btcutil.DecodeAddress(recipient.Address, params)
		if err != nil {
			return "", NewTransferError(models.ChainBitcoin, TransferErrInvalidAddress, recipient.Address, err)
		}
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return "", NewTransferError(models.ChainBitcoin, TransferErrInvalidAddress, recipient.Address, err)
		}
		tx.AddTxOut(wire.NewTxOut(recipient.Amount.Int64(), pkScript))
	}
	change := selectedValue - totalOut - fee
	fromPkScript, err := txscript.PayToAddrScript(fromAddress)
	if err != nil {
		return "", NewTransferError(models.ChainBitcoin, TransferErrSigningFailed, "failed to build change script", err)
	}
	if change >= DustThresholdSats {
		tx.AddTxOut(wire.NewTxOut(change, fromPkScript))
	}

	// sign every input (sender is p2wpkh, all inputs share one key)
	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	for i, utxo := range selected {
		prevOuts.AddPrevOut(tx.TxIn[i].PreviousOutPoint, wire.NewTxOut(utxo.Value, fromPkScript))
	}
	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)
	for i, utxo := range selected {
		witness, err := txscript.WitnessSignature(tx, sigHashes, i, utxo.Value, fromPkScript, txscript.SigHashAll, key, true)
		if err != nil {
			return "", NewTransferError(models.ChainBitcoin, TransferErrSigningFailed, fmt.Sprintf("failed to sign input %d", i), err)
		}
		tx.TxIn[i].Witness = witness
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", NewTransferError(models.ChainBitcoin, TransferErrSigningFailed, "failed to serialize transaction", err)
	}

	txid, err := a.broadcast(ctx, httpClient, base, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return "", NewTransferError(models.ChainBitcoin, TransferErrBroadcastRejected, err.Error(), err)
	}
	log.Printf("✅ [Bitcoin] Batch broadcast: %d outputs, txid=%s", len(recipients), txid)
	return txid, nil
}

// parsePrivateKey accepts WIF or raw hex and returns the key plus its p2wpkh address
func (a *BitcoinAdapter) parsePrivateKey(privateKey string, params *chaincfg.Params) (*btcec.PrivateKey, btcutil.Address, error) {
	var key *btcec.PrivateKey
	if wif, err := btcutil.DecodeWIF(privateKey); err == nil {
		key = wif.PrivKey
	} else {
		raw, err := hex.DecodeString(strings.TrimPrefix(privateKey, "0x"))
		if err != nil || len(raw) != 32 {
			return nil, nil, fmt.Errorf("private key is neither WIF nor 32-byte hex")
		}
		key, _ = btcec.PrivKeyFromBytes(raw)
	}
	pubKeyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	address, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return nil, nil, err
	}
	return key, address, nil
}

// fetchFeeRate reads the /fee-estimates endpoint, falling back to a safe default
func (a *BitcoinAdapter) fetchFeeRate(ctx context.Context, client *http.Client, base string) int64 {
	var estimates map[string]float64
	if err := getJSON(ctx, client, base+"/fee-estimates", nil, &estimates); err != nil {
		log.Printf("⚠️ [Bitcoin] Fee estimate lookup failed, using %d sat/vB: %v", btcFallbackFeeRate, err)
		return btcFallbackFeeRate
	}
	if rate, ok := estimates["3"]; ok && rate >= 1 {
		return int64(rate + 0.5)
	}
	return btcFallbackFeeRate
}

// estimateVSize rough p2wpkh vsize: 11 overhead + 68 per input + 31 per output
func estimateVSize(inputs, outputs int) int64 {
	return int64(11 + inputs*68 + outputs*31)
}

// broadcast posts the raw transaction hex; Blockstream returns the txid as text
func (a *BitcoinAdapter) broadcast(ctx context.Context, client *http.Client, base, rawHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/tx", strings.NewReader(rawHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("broadcast rejected: %s", strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

// GetBalance sums confirmed UTXO values
func (a *BitcoinAdapter) GetBalance(ctx context.Context, address string, network models.Network) (*big.Int, error) {
	cfg, err := config.GetChainNetworkConfig("bitcoin", string(network))
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second}
	var utxos []blockstreamUTXO
	url := fmt.Sprintf("%s/address/%s/utxo", strings.TrimSuffix(cfg.ExplorerURL, "/"), address)
	if err := getJSON(ctx, httpClient, url, nil, &utxos); err != nil {
		return nil, err
	}
	total := int64(0)
	for _, utxo := range utxos {
		if utxo.Status.Confirmed {
			total += utxo.Value
		}
	}
	return big.NewInt(total), nil
}

// EstimateFee returns a conservative single-transfer fee (1 input, 2 outputs)
func (a *BitcoinAdapter) EstimateFee(ctx context.Context, network models.Network) (*big.Int, error) {
	cfg, err := config.GetChainNetworkConfig("bitcoin", string(network))
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second}
	rate := a.fetchFeeRate(ctx, httpClient, strings.TrimSuffix(cfg.ExplorerURL, "/"))
	return big.NewInt(estimateVSize(1, 2) * rate), nil
}
