package payout

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// transferGas is the fixed cost of a plain value transfer.
const transferGas = 21_000

// Backend is the subset of ethclient.Client the dispatcher needs.
type Backend interface {
	bind.DeployBackend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ChainDispatcher pays intents out of the escrow's hot wallet as native
// value transfers and waits for a successful receipt.
type ChainDispatcher struct {
	backend     Backend
	key         *ecdsa.PrivateKey
	from        common.Address
	signer      types.Signer
	waitTimeout time.Duration
	log         *zap.Logger

	mu   sync.Mutex
	sent map[string]*types.Transaction // intent id → broadcast tx awaiting receipt
}

// DialChainDispatcher connects to rpcURL and loads the payer key.
func DialChainDispatcher(rpcURL, payerKeyHex string, chainID int64, waitTimeout time.Duration, log *zap.Logger) (*ChainDispatcher, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(payerKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse payer key: %w", err)
	}
	return NewChainDispatcher(eth, key, big.NewInt(chainID), waitTimeout, log), nil
}

func NewChainDispatcher(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, waitTimeout time.Duration, log *zap.Logger) *ChainDispatcher {
	if waitTimeout <= 0 {
		waitTimeout = 2 * time.Minute
	}
	return &ChainDispatcher{
		backend:     backend,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		signer:      types.LatestSignerForChainID(chainID),
		waitTimeout: waitTimeout,
		log:         log,
		sent:        make(map[string]*types.Transaction),
	}
}

// From is the paying address.
func (d *ChainDispatcher) From() common.Address { return d.from }

// Transfer sends in.Amount to in.Account. A retried intent whose earlier
// transaction is still known waits on that transaction instead of paying twice.
func (d *ChainDispatcher) Transfer(ctx context.Context, in *Intent) error {
	if !common.IsHexAddress(in.Account) {
		return fmt.Errorf("%w: account %q is not an address", ErrPermanent, in.Account)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, ok := d.sent[in.ID]
	if !ok {
		var err error
		tx, err = d.send(ctx, common.HexToAddress(in.Account), in.Amount.ToBig())
		if err != nil {
			return err
		}
		d.sent[in.ID] = tx
		d.log.Info("payout broadcast",
			zap.String("intent", in.ID),
			zap.String("tx", tx.Hash().Hex()),
		)
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.waitTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, d.backend, tx)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	delete(d.sent, in.ID)
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s reverted", ErrPermanent, tx.Hash().Hex())
	}
	return nil
}

func (d *ChainDispatcher) send(ctx context.Context, to common.Address, value *big.Int) (*types.Transaction, error) {
	nonce, err := d.backend.PendingNonceAt(ctx, d.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := d.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      transferGas,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, d.signer, d.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := d.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return signed, nil
}
