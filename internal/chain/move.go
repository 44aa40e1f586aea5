package chain

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/alanyoungcy/sharegate/internal/config"
	"github.com/alanyoungcy/sharegate/internal/domain"
)

// moveModule is the Move module publishing the Trade event and the balance
// view on the shares-trading package.
const moveModule = "shares_trading"

// ed25519SchemeFlag tags an ed25519 serialized signature. Other signature
// schemes are rejected.
const ed25519SchemeFlag = 0x00

// MoveClient reads Trade events and share balances from a Move-style chain
// over JSON-RPC. Event history is walked with an opaque page cursor rather
// than block ranges.
type MoveClient struct {
	chainID        string
	rpcURL         string
	packageID      string
	sharesObjectID string
	eventType      string
	pageSize       int
	httpClient     *http.Client
	logger         *slog.Logger
}

// NewMoveClient creates a Move JSON-RPC client. No connection is made until
// the first call.
func NewMoveClient(cfg config.ChainConfig, logger *slog.Logger) *MoveClient {
	return &MoveClient{
		chainID:        cfg.Name,
		rpcURL:         cfg.RPCURL,
		packageID:      cfg.Contract,
		sharesObjectID: cfg.SharesObjectID,
		eventType:      fmt.Sprintf("%s::%s::Trade", cfg.Contract, moveModule),
		pageSize:       cfg.PageSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// eventCursor is the resume token of the event query API: the digest of the
// transaction holding the last returned event plus its sequence within it.
type eventCursor struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

// moveTradeEvent is the parsed event payload. Numeric fields arrive as
// decimal strings.
type moveTradeEvent struct {
	Trader      string `json:"trader"`
	Subject     string `json:"subject"`
	IsBuy       bool   `json:"is_buy"`
	Amount      string `json:"amount"`
	Price       string `json:"price"`
	ProtocolFee string `json:"protocol_fee"`
	SubjectFee  string `json:"subject_fee"`
	Supply      string `json:"supply"`
}

type moveEvent struct {
	ID         eventCursor    `json:"id"`
	ParsedJSON moveTradeEvent `json:"parsedJson"`
}

type moveEventPage struct {
	Data        []moveEvent  `json:"data"`
	NextCursor  *eventCursor `json:"nextCursor"`
	HasNextPage bool         `json:"hasNextPage"`
}

// NextPage queries the next page of Trade events after the cursor carried in
// from. The returned Next position carries the serialized cursor plus a
// numeric surrogate for uniform watermark storage.
func (c *MoveClient) NextPage(ctx context.Context, from domain.Position) (domain.EventPage, error) {
	cursor, err := parseCursor(from.Cursor)
	if err != nil {
		return domain.EventPage{}, fmt.Errorf("parse stored cursor %q: %w", from.Cursor, err)
	}

	params := map[string]any{
		"query":            map[string]any{"MoveEventType": c.eventType},
		"cursor":           cursor,
		"limit":            c.pageSize,
		"descending_order": false,
	}
	raw, err := c.rpcCall(ctx, "suix_queryEvents", params)
	if err != nil {
		return domain.EventPage{}, err
	}

	var page moveEventPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return domain.EventPage{}, fmt.Errorf("decode event page: %w", err)
	}

	// A malformed event payload is dropped with a warning; the rest of the
	// page still decodes and the cursor still advances past it.
	events := make([]domain.TradeEvent, 0, len(page.Data))
	for _, ev := range page.Data {
		te, err := decodeMoveTrade(c.chainID, ev)
		if err != nil {
			c.logger.WarnContext(ctx, "skipping undecodable trade event",
				slog.String("chain", c.chainID),
				slog.String("tx", ev.ID.TxDigest),
				slog.String("seq", ev.ID.EventSeq),
				slog.String("error", err.Error()),
			)
			continue
		}
		events = append(events, te)
	}

	next := from
	if page.NextCursor != nil {
		cj, err := json.Marshal(page.NextCursor)
		if err != nil {
			return domain.EventPage{}, fmt.Errorf("encode next cursor: %w", err)
		}
		next = domain.Position{
			Block:  cursorSurrogate(page.NextCursor.TxDigest),
			Cursor: string(cj),
		}
	}

	return domain.EventPage{Events: events, Next: next, HasMore: page.HasNextPage}, nil
}

func decodeMoveTrade(chainID string, ev moveEvent) (domain.TradeEvent, error) {
	amount, err := strconv.ParseUint(ev.ParsedJSON.Amount, 10, 64)
	if err != nil {
		return domain.TradeEvent{}, fmt.Errorf("parse amount %q: %w", ev.ParsedJSON.Amount, err)
	}
	seq, err := strconv.ParseUint(ev.ID.EventSeq, 10, 64)
	if err != nil {
		return domain.TradeEvent{}, fmt.Errorf("parse event seq %q: %w", ev.ID.EventSeq, err)
	}
	return domain.TradeEvent{
		ChainID:     chainID,
		Trader:      domain.NormalizeAddress(ev.ParsedJSON.Trader),
		Subject:     domain.NormalizeAddress(ev.ParsedJSON.Subject),
		IsBuy:       ev.ParsedJSON.IsBuy,
		ShareAmount: amount,
		TxID:        ev.ID.TxDigest,
		EventIndex:  seq,
	}, nil
}

// parseCursor decodes a stored cursor string. Empty means genesis.
func parseCursor(s string) (*eventCursor, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var c eventCursor
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, err
	}
	if c.TxDigest == "" {
		return nil, fmt.Errorf("cursor missing txDigest")
	}
	return &c, nil
}

// cursorSurrogate derives a stable uint64 from a transaction digest so cursor
// positions can share the watermark's numeric column. Hex digests use their
// leading 16 digits; anything else (base58 digests included) is hashed.
func cursorSurrogate(txDigest string) uint64 {
	d := strings.TrimPrefix(txDigest, "0x")
	if len(d) > 16 {
		d = d[:16]
	}
	if n, err := strconv.ParseUint(d, 16, 64); err == nil {
		return n
	}
	h := fnv.New64a()
	h.Write([]byte(txDigest))
	return h.Sum64()
}

// ReadBalance dev-inspects a get_shares_balance call against the shared
// shares-trading object. A missing result decodes as zero shares.
func (c *MoveClient) ReadBalance(ctx context.Context, subject, holder string) (uint64, error) {
	params := []any{
		"0x0",
		map[string]any{
			"kind": "moveCall",
			"data": map[string]any{
				"packageObjectId": c.packageID,
				"module":          moveModule,
				"function":        "get_shares_balance",
				"arguments": []any{
					c.sharesObjectID,
					"0x" + domain.NormalizeAddress(subject),
					"0x" + domain.NormalizeAddress(holder),
				},
			},
		},
	}
	raw, err := c.rpcCall(ctx, "sui_devInspectTransactionBlock", params)
	if err != nil {
		return 0, err
	}

	var res struct {
		Results []struct {
			ReturnValues []json.RawMessage `json:"returnValues"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, fmt.Errorf("decode inspect result: %w", err)
	}
	if len(res.Results) == 0 || len(res.Results[0].ReturnValues) == 0 {
		return 0, nil
	}
	return decodeReturnValue(res.Results[0].ReturnValues[0])
}

// decodeReturnValue accepts either a plain JSON number or the [bytes, type]
// pair the inspect API returns, with the bytes holding a little-endian u64.
func decodeReturnValue(raw json.RawMessage) (uint64, error) {
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) == 0 {
		return 0, fmt.Errorf("unexpected return value %s", string(raw))
	}
	var b []int
	if err := json.Unmarshal(pair[0], &b); err != nil {
		return 0, fmt.Errorf("unexpected return value bytes %s", string(pair[0]))
	}
	if len(b) > 8 {
		return 0, fmt.Errorf("return value too wide: %d bytes", len(b))
	}
	var out uint64
	for i := len(b) - 1; i >= 0; i-- {
		out = out<<8 | uint64(byte(b[i]))
	}
	return out, nil
}

// RecoverSigner verifies a base64 serialized signature (scheme flag, 64-byte
// ed25519 signature, 32-byte public key) over the personal-message digest of
// message and returns the address derived from the public key.
func (c *MoveClient) RecoverSigner(message, signature string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return "", fmt.Errorf("%w: decode base64: %s", domain.ErrInvalidSignature, err)
	}
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: want %d bytes, got %d", domain.ErrInvalidSignature, 1+ed25519.SignatureSize+ed25519.PublicKeySize, len(raw))
	}
	if raw[0] != ed25519SchemeFlag {
		return "", fmt.Errorf("%w: unsupported signature scheme 0x%02x", domain.ErrInvalidSignature, raw[0])
	}

	sig := raw[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(raw[1+ed25519.SignatureSize:])
	if !ed25519.Verify(pub, personalMessageDigest([]byte(message)), sig) {
		return "", domain.ErrInvalidSignature
	}
	return moveAddress(ed25519SchemeFlag, pub), nil
}

// personalMessageDigest builds the signing digest for a personal message:
// blake2b-256 over the personal-message intent header followed by the
// BCS-encoded message bytes.
func personalMessageDigest(msg []byte) []byte {
	payload := make([]byte, 0, 3+10+len(msg))
	payload = append(payload, 3, 0, 0)
	payload = append(payload, ulebEncode(uint64(len(msg)))...)
	payload = append(payload, msg...)
	sum := blake2b.Sum256(payload)
	return sum[:]
}

// moveAddress derives the canonical account address for a public key:
// blake2b-256 over the scheme flag and the key bytes.
func moveAddress(flag byte, pub []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{flag})
	h.Write(pub)
	return hex.EncodeToString(h.Sum(nil))
}

// ulebEncode encodes n as ULEB128, the BCS length prefix for byte vectors.
func ulebEncode(n uint64) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// --------------------------------------------------------------------------
// JSON-RPC plumbing
// --------------------------------------------------------------------------

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// rpcCall posts one JSON-RPC request and returns the raw result field.
func (c *MoveClient) rpcCall(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unreachable("%s: %s", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unreachable("%s: read response: %s", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unreachable("%s: HTTP %d: %s", method, resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: decode rpc response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
