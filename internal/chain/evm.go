package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/solargatsby/airdroptool/internal/config"
	apperrors "github.com/solargatsby/airdroptool/internal/errors"
	"github.com/solargatsby/airdroptool/internal/logging"
)

const batchAirdropMethod = "batchAirdrop"

// EVMClient implements LedgerClient against an EVM-compatible network. One
// client serves one target: one endpoint, one signing key, one contract.
type EVMClient struct {
	target   config.AirdropTarget
	client   *ethclient.Client
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	abi      abi.ABI
	limiter  *rate.Limiter
	logger   *logging.Logger
}

// NewEVMClient dials the target's endpoint, loads its signing key and contract
// ABI, and verifies the chain is reachable.
func NewEVMClient(target config.AirdropTarget, logger *logging.Logger) (*EVMClient, error) {
	client, err := ethclient.Dial(target.RPC)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", target.Chain, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("fetch %s chain id: %w", target.Chain, err)
	}

	key, err := loadSigningKey(target)
	if err != nil {
		client.Close()
		return nil, err
	}

	contractABI, err := loadABI(target.ABIPath)
	if err != nil {
		client.Close()
		return nil, err
	}
	if _, ok := contractABI.Methods[batchAirdropMethod]; !ok {
		client.Close()
		return nil, fmt.Errorf("abi %s does not define %s", target.ABIPath, batchAirdropMethod)
	}

	rps := target.RPCRateLimit
	if rps <= 0 {
		rps = 10
	}

	return &EVMClient{
		target:   target,
		client:   client,
		chainID:  chainID,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(target.ContractAddress),
		abi:      contractABI,
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger: logger.WithFields(map[string]interface{}{
			"chain":    target.Chain,
			"contract": target.ContractAddress,
		}),
	}, nil
}

func loadSigningKey(target config.AirdropTarget) (*ecdsa.PrivateKey, error) {
	if target.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(target.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse %s private key: %w", target.Chain, err)
		}
		return key, nil
	}

	encrypted, err := os.ReadFile(target.Keystore)
	if err != nil {
		return nil, fmt.Errorf("read keystore %s: %w", target.Keystore, err)
	}
	decrypted, err := keystore.DecryptKey(encrypted, target.KeystorePassword)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore %s: %w", target.Keystore, err)
	}
	return decrypted.PrivateKey, nil
}

func loadABI(path string) (abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi %s: %w", path, err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi %s: %w", path, err)
	}
	return parsed, nil
}

// SubmitBatch packs, prices, signs and broadcasts one batchAirdrop call.
func (c *EVMClient) SubmitBatch(ctx context.Context, submission BatchSubmission) (string, error) {
	receivers := make([]common.Address, 0, len(submission.Receivers))
	for _, receiver := range submission.Receivers {
		if !common.IsHexAddress(receiver) {
			return "", apperrors.NewSubmissionError(c.target.Chain,
				fmt.Errorf("invalid receiver address %s", receiver))
		}
		receivers = append(receivers, common.HexToAddress(receiver))
	}

	calldata, err := c.abi.Pack(batchAirdropMethod,
		big.NewInt(submission.CampaignID),
		big.NewInt(submission.Limit),
		receivers,
		submission.TokenURI,
	)
	if err != nil {
		return "", apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("pack calldata: %w", err))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("rate limit wait: %w", err))
	}
	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("fetch pending nonce: %w", err))
	}

	fees, err := c.estimateFees(ctx)
	if err != nil {
		return "", err
	}
	fees = ScaleFees(fees, c.target.GasMultiplier)

	gasLimit, err := c.estimateGas(ctx, calldata, fees)
	if err != nil {
		return "", err
	}

	tx := c.buildTransaction(nonce, gasLimit, calldata, fees)
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("sign transaction: %w", err))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("rate limit wait: %w", err))
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("broadcast transaction: %w", err))
	}

	txHash := signed.Hash().Hex()
	c.logger.WithFields(map[string]interface{}{
		"tx_hash":     txHash,
		"campaign_id": submission.CampaignID,
		"receivers":   len(submission.Receivers),
		"nonce":       nonce,
		"gas_limit":   gasLimit,
	}).Info("Batch airdrop submitted")

	return txHash, nil
}

// estimateFees quotes gas pricing for the next transaction. Dynamic-fee
// targets use tip plus doubled base fee; legacy targets and networks without
// a base fee use the flat suggested gas price.
func (c *EVMClient) estimateFees(ctx context.Context) (*FeeData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("rate limit wait: %w", err))
	}

	if c.target.LegacyGas {
		gasPrice, err := c.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("suggest gas price: %w", err))
		}
		return &FeeData{GasPrice: gasPrice}, nil
	}

	tip, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("suggest gas tip cap: %w", err))
	}
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("fetch chain head: %w", err))
	}
	if head.BaseFee == nil {
		gasPrice, err := c.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("suggest gas price: %w", err))
		}
		return &FeeData{GasPrice: gasPrice}, nil
	}

	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return &FeeData{GasFeeCap: feeCap, GasTipCap: tip}, nil
}

func (c *EVMClient) estimateGas(ctx context.Context, calldata []byte, fees *FeeData) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("rate limit wait: %w", err))
	}

	msg := ethereum.CallMsg{
		From: c.from,
		To:   &c.contract,
		Data: calldata,
	}
	if fees.GasPrice != nil {
		msg.GasPrice = fees.GasPrice
	} else {
		msg.GasFeeCap = fees.GasFeeCap
		msg.GasTipCap = fees.GasTipCap
	}

	gasLimit, err := c.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, apperrors.NewSubmissionError(c.target.Chain, fmt.Errorf("estimate gas: %w", err))
	}
	// Estimation runs against the current state; leave room for drift before
	// the transaction is mined.
	return gasLimit + gasLimit/5, nil
}

func (c *EVMClient) buildTransaction(nonce, gasLimit uint64, calldata []byte, fees *FeeData) *ethtypes.Transaction {
	if fees.GasPrice != nil {
		return ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gasLimit,
			To:       &c.contract,
			Value:    big.NewInt(0),
			Data:     calldata,
		})
	}
	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: fees.GasTipCap,
		GasFeeCap: fees.GasFeeCap,
		Gas:       gasLimit,
		To:        &c.contract,
		Value:     big.NewInt(0),
		Data:      calldata,
	})
}

// GetReceipt looks up the settlement receipt for a transaction. A transaction
// that has not settled yet yields (nil, nil).
func (c *EVMClient) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewConfirmationError(c.target.Chain, txHash, fmt.Errorf("rate limit wait: %w", err))
	}

	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, apperrors.NewConfirmationError(c.target.Chain, txHash, err)
	}

	return &Receipt{
		TxHash:      txHash,
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// Close releases the RPC connection.
func (c *EVMClient) Close() {
	c.client.Close()
}
