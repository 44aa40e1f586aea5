package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/sharegate/internal/config"
	"github.com/alanyoungcy/sharegate/internal/domain"
)

// sharesABI covers the two contract surfaces the service touches: the Trade
// event emitted on every buy or sell, and the sharesBalance view.
const sharesABI = `[
  {
    "type": "event",
    "name": "Trade",
    "anonymous": false,
    "inputs": [
      {"name": "trader", "type": "address", "indexed": false},
      {"name": "subject", "type": "address", "indexed": false},
      {"name": "isBuy", "type": "bool", "indexed": false},
      {"name": "shareAmount", "type": "uint256", "indexed": false},
      {"name": "ethAmount", "type": "uint256", "indexed": false},
      {"name": "protocolEthAmount", "type": "uint256", "indexed": false},
      {"name": "subjectEthAmount", "type": "uint256", "indexed": false},
      {"name": "supply", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "function",
    "name": "sharesBalance",
    "stateMutability": "view",
    "inputs": [
      {"name": "sharesSubject", "type": "address"},
      {"name": "holder", "type": "address"}
    ],
    "outputs": [
      {"name": "", "type": "uint256"}
    ]
  }
]`

// EVMClient reads Trade events and share balances from an EVM-style chain
// over JSON-RPC, walking the chain in fixed block spans.
type EVMClient struct {
	chainID    string
	rpc        *ethclient.Client
	contract   common.Address
	abi        abi.ABI
	tradeTopic common.Hash
	startBlock uint64
	batchSize  uint64
	logger     *slog.Logger
}

// NewEVMClient dials the RPC endpoint and prepares the contract ABI.
func NewEVMClient(ctx context.Context, cfg config.ChainConfig, logger *slog.Logger) (*EVMClient, error) {
	parsed, err := abi.JSON(strings.NewReader(sharesABI))
	if err != nil {
		return nil, fmt.Errorf("parse shares abi: %w", err)
	}
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, unreachable("dial %s: %s", cfg.RPCURL, err)
	}
	return &EVMClient{
		chainID:    cfg.Name,
		rpc:        rpc,
		contract:   common.HexToAddress(cfg.Contract),
		abi:        parsed,
		tradeTopic: parsed.Events["Trade"].ID,
		startBlock: cfg.StartBlock,
		batchSize:  cfg.BatchSize,
		logger:     logger,
	}, nil
}

// StartPosition returns the initial watermark position: the configured start
// block is treated as already processed.
func (c *EVMClient) StartPosition() domain.Position {
	return domain.Position{Block: c.startBlock}
}

// NextPage fetches Trade events in the span (from.Block, from.Block+batch],
// capped at the current head. An empty page with Next == from means the chain
// is caught up.
func (c *EVMClient) NextPage(ctx context.Context, from domain.Position) (domain.EventPage, error) {
	head, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return domain.EventPage{}, unreachable("block number: %s", err)
	}
	if from.Block >= head {
		return domain.EventPage{Next: from}, nil
	}

	to := from.Block + c.batchSize
	if to > head {
		to = head
	}

	logs, err := c.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from.Block + 1),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{c.tradeTopic}},
	})
	if err != nil {
		return domain.EventPage{}, unreachable("filter logs %d-%d: %s", from.Block+1, to, err)
	}

	return domain.EventPage{
		Events:  c.decodeLogs(ctx, logs),
		Next:    domain.Position{Block: to},
		HasMore: to < head,
	}, nil
}

// decodeLogs decodes a filtered batch of Trade logs. A log that does not
// unpack is dropped with a warning so one malformed emission cannot block
// the rest of the span.
func (c *EVMClient) decodeLogs(ctx context.Context, logs []types.Log) []domain.TradeEvent {
	events := make([]domain.TradeEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := c.decodeTrade(lg)
		if err != nil {
			c.logger.WarnContext(ctx, "skipping undecodable trade log",
				slog.String("chain", c.chainID),
				slog.String("tx", lg.TxHash.Hex()),
				slog.Uint64("index", uint64(lg.Index)),
				slog.String("error", err.Error()),
			)
			continue
		}
		events = append(events, ev)
	}
	return events
}

// tradeLog mirrors the non-indexed fields of the Trade event, in ABI order.
type tradeLog struct {
	Trader            common.Address
	Subject           common.Address
	IsBuy             bool
	ShareAmount       *big.Int
	EthAmount         *big.Int
	ProtocolEthAmount *big.Int
	SubjectEthAmount  *big.Int
	Supply            *big.Int
}

func (c *EVMClient) decodeTrade(lg types.Log) (domain.TradeEvent, error) {
	var raw tradeLog
	if err := c.abi.UnpackIntoInterface(&raw, "Trade", lg.Data); err != nil {
		return domain.TradeEvent{}, err
	}
	return domain.TradeEvent{
		ChainID:     c.chainID,
		Trader:      domain.NormalizeAddress(raw.Trader.Hex()),
		Subject:     domain.NormalizeAddress(raw.Subject.Hex()),
		IsBuy:       raw.IsBuy,
		ShareAmount: raw.ShareAmount.Uint64(),
		TxID:        lg.TxHash.Hex(),
		EventIndex:  uint64(lg.Index),
	}, nil
}

// ReadBalance calls the sharesBalance view for (subject, holder).
func (c *EVMClient) ReadBalance(ctx context.Context, subject, holder string) (uint64, error) {
	input, err := c.abi.Pack("sharesBalance", common.HexToAddress(subject), common.HexToAddress(holder))
	if err != nil {
		return 0, fmt.Errorf("pack sharesBalance: %w", err)
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: input}, nil)
	if err != nil {
		return 0, unreachable("call sharesBalance: %s", err)
	}
	vals, err := c.abi.Unpack("sharesBalance", out)
	if err != nil {
		return 0, fmt.Errorf("unpack sharesBalance: %w", err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unpack sharesBalance: unexpected return type %T", vals[0])
	}
	return bal.Uint64(), nil
}

// RecoverSigner recovers the address that produced a 65-byte personal-message
// signature over message. Both 0/1 and 27/28 recovery ids are accepted.
func (c *EVMClient) RecoverSigner(message, signature string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: decode hex: %s", domain.ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: want %d bytes, got %d", domain.ErrInvalidSignature, crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = bytes.Clone(sig)
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidSignature, err)
	}
	return domain.NormalizeAddress(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// Close releases the RPC connection.
func (c *EVMClient) Close() {
	c.rpc.Close()
}
