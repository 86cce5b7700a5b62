package aa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-retryablehttp"
)

// HTTPBundler implements Bundler against an ERC-4337 bundler's standard
// JSON-RPC surface (eth_sendUserOperation, eth_getUserOperationReceipt),
// following the same retryablehttp-backed JSON-RPC call shape
// internal/indexer's HTTPClient uses for the pool indexer.
type HTTPBundler struct {
	url    string
	client *retryablehttp.Client
}

func NewHTTPBundler(url string) *HTTPBundler {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return &HTTPBundler{url: url, client: client}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *HTTPBundler) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func (b *HTTPBundler) SubmitUserOp(ctx context.Context, entryPoint common.Address, signedUserOp []byte) (common.Hash, error) {
	var op map[string]interface{}
	if err := json.Unmarshal(signedUserOp, &op); err != nil {
		return common.Hash{}, fmt.Errorf("decode signed userop: %w", err)
	}
	var hashHex string
	if err := b.call(ctx, "eth_sendUserOperation", []interface{}{op, entryPoint}, &hashHex); err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(hashHex), nil
}

type userOpReceiptWire struct {
	UserOpHash    string `json:"userOpHash"`
	Success       bool   `json:"success"`
	Source        string `json:"source"`
	CostSource    string `json:"costSource"`
	Receipt       struct {
		TransactionHash string `json:"transactionHash"`
		BlockNumber     string `json:"blockNumber"`
	} `json:"receipt"`
}

func (b *HTTPBundler) GetUserOpReceipt(ctx context.Context, userOpHash common.Hash) (*UserOpReceipt, bool, error) {
	var wire *userOpReceiptWire
	if err := b.call(ctx, "eth_getUserOperationReceipt", []interface{}{userOpHash.Hex()}, &wire); err != nil {
		return nil, false, err
	}
	if wire == nil {
		return nil, false, nil
	}
	source := wire.Source
	if source == "" {
		source = wire.CostSource
	}
	receipt := &UserOpReceipt{
		TxHash:  common.HexToHash(wire.Receipt.TransactionHash),
		Success: wire.Success,
		Source:  source,
	}
	if wire.Receipt.BlockNumber != "" {
		bn, ok := new(big.Int).SetString(wire.Receipt.BlockNumber[2:], 16)
		if ok {
			n := bn.Uint64()
			receipt.BlockNumber = &n
		}
	}
	return receipt, true, nil
}
