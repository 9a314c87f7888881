package walletkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const jsonrpcVersion = "2.0"

// rpcEndpoint posts JSON-RPC requests to one HTTP endpoint. Transport, HTTP,
// and RPC-level failures all come back as *BundlerError so callers see one
// uniform taxonomy instead of transport-specific shapes.
type rpcEndpoint struct {
	url  string
	http *http.Client
	id   atomic.Uint64
}

func newRPCEndpoint(url string) *rpcEndpoint {
	return &rpcEndpoint{url: url, http: http.DefaultClient}
}

// call posts one request and returns the raw result payload.
func (e *rpcEndpoint) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	request := map[string]any{
		"jsonrpc": jsonrpcVersion,
		"id":      e.id.Add(1),
		"method":  method,
		"params":  params,
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, &BundlerError{Message: "error marshalling payload", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &BundlerError{Message: "error creating request", Cause: err}
	}
	req.Header.Add("Content-Type", "application/json")

	res, err := e.http.Do(req)
	if err != nil {
		return nil, &BundlerError{Message: fmt.Sprintf("error calling %s", method), Cause: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &BundlerError{Message: "error reading response body", Cause: err}
	}
	if res.StatusCode != http.StatusOK {
		return nil, &BundlerError{Message: fmt.Sprintf("%s returned HTTP %d", method, res.StatusCode)}
	}

	var response jsonRpcResponse[json.RawMessage]
	if err = json.Unmarshal(body, &response); err != nil {
		return nil, &BundlerError{Message: fmt.Sprintf("error unmarshalling %s response", method), Cause: err}
	}
	if response.Error != nil {
		berr := &BundlerError{Message: response.Error.String()}
		if response.Error.Code != nil {
			berr.Code = *response.Error.Code
		}
		return nil, berr
	}
	return response.Result, nil
}

// BundlerClient submits signed user operations to a bundler RPC endpoint and
// polls it for receipts.
type BundlerClient struct {
	rpc          *rpcEndpoint
	entrypoint   common.Address
	pollInterval time.Duration
	waitTimeout  time.Duration
}

func NewBundlerClient(cfg *Config) *BundlerClient {
	c := cfg.withDefaults()
	return &BundlerClient{
		rpc:          newRPCEndpoint(c.BundlerUrl),
		entrypoint:   c.Entrypoint,
		pollInterval: c.WaitReceiptInterval,
		waitTimeout:  c.ReceiptTimeout,
	}
}

// SendUserOp submits the signed operation and returns the hash used for
// receipt polling.
func (bc *BundlerClient) SendUserOp(ctx context.Context, userOp *UserOperation) (common.Hash, error) {
	raw, err := bc.rpc.call(ctx, "eth_sendUserOperation", []any{userOp.ToBody(), bc.entrypoint})
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err = json.Unmarshal(raw, &hash); err != nil {
		return common.Hash{}, &BundlerError{Message: "error unmarshalling user operation hash", Cause: err}
	}
	return hash, nil
}

// EstimateUserOpGas asks the bundler for the operation's gas limits.
func (bc *BundlerClient) EstimateUserOpGas(ctx context.Context, userOp *UserOperation) (*GasEstimate, error) {
	raw, err := bc.rpc.call(ctx, "eth_estimateUserOperationGas", []any{userOp.ToBody(), bc.entrypoint})
	if err != nil {
		return nil, err
	}
	var result struct {
		CallGasLimit         *string `json:"callGasLimit"`
		VerificationGasLimit *string `json:"verificationGasLimit"`
		PreVerificationGas   *string `json:"preVerificationGas"`
	}
	if err = json.Unmarshal(raw, &result); err != nil {
		return nil, &BundlerError{Message: "error unmarshalling gas estimates", Cause: err}
	}
	if result.CallGasLimit == nil || result.VerificationGasLimit == nil || result.PreVerificationGas == nil {
		return nil, &BundlerError{Message: "incomplete gas estimate response"}
	}
	return &GasEstimate{
		CallGasLimit:         HexToBigInt(*result.CallGasLimit),
		VerificationGasLimit: HexToBigInt(*result.VerificationGasLimit),
		PreVerificationGas:   HexToBigInt(*result.PreVerificationGas),
	}, nil
}

// GetUserOpReceipt polls once. A nil receipt with nil error means the
// operation is not yet included.
func (bc *BundlerClient) GetUserOpReceipt(ctx context.Context, hash common.Hash) (*UserOpReceipt, error) {
	raw, err := bc.rpc.call(ctx, "eth_getUserOperationReceipt", []any{hash})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var rcpt UserOpReceipt
	if err = json.Unmarshal(raw, &rcpt); err != nil {
		return nil, &BundlerError{Message: "error unmarshalling user op receipt", Cause: err}
	}
	return &rcpt, nil
}

// WaitForReceipt polls at a fixed interval until a receipt appears or the
// configured timeout elapses. A timeout is reported as ErrReceiptTimeout:
// the operation may still land, so callers must treat it as an unknown
// outcome, not a failure.
func (bc *BundlerClient) WaitForReceipt(ctx context.Context, hash common.Hash) (*UserOpReceipt, error) {
	ticker := time.NewTicker(bc.pollInterval)
	defer ticker.Stop()
	waitCtx, cancel := context.WithTimeout(ctx, bc.waitTimeout)
	defer cancel()
	for {
		select {
		case <-ticker.C:
			rcpt, err := bc.GetUserOpReceipt(waitCtx, hash)
			if err != nil {
				// A poll cut off by the wait deadline is not a bundler
				// failure; the outcome is still unknown.
				if waitCtx.Err() != nil {
					return nil, bc.waitOutcome(ctx, hash)
				}
				return nil, err
			}
			if rcpt != nil {
				return rcpt, nil
			}
		case <-waitCtx.Done():
			return nil, bc.waitOutcome(ctx, hash)
		}
	}
}

// waitOutcome separates caller cancellation from the receipt deadline. Only
// the latter is a pending-past-timeout result.
func (bc *BundlerClient) waitOutcome(ctx context.Context, hash common.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: user operation %s still pending", ErrReceiptTimeout, hash.Hex())
}

type jsonRpcResponse[T any] struct {
	JsonRpc *string        `json:"jsonrpc"`
	Id      *int           `json:"id"`
	Result  T              `json:"result"`
	Error   *errorResponse `json:"error"`
}

type errorResponse struct {
	Code    *int    `json:"code"`
	Message *string `json:"message"`
}

// UnmarshalJSON implements custom unmarshaling for errorResponse: some
// bundlers return a bare string instead of the {code, message} object.
func (e *errorResponse) UnmarshalJSON(b []byte) error {
	var errStr string
	if err := json.Unmarshal(b, &errStr); err == nil && errStr != "" {
		e.Message = &errStr
		e.Code = nil
		return nil
	}

	type alias struct {
		Code    *int    `json:"code"`
		Message *string `json:"message"`
	}
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	e.Code = a.Code
	e.Message = a.Message
	return nil
}

func (e *errorResponse) String() string {
	result := ""
	if e.Code != nil {
		result += fmt.Sprintf("code: %d", *e.Code)
	}
	if e.Message != nil {
		if result != "" {
			result += ", "
		}
		result += fmt.Sprintf("message: %s", *e.Message)
	}
	return result
}
