package walletkit

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// opPhase tracks a single operation through the pipeline.
type opPhase int

const (
	phaseIdle opPhase = iota
	phaseBuilding
	phaseEstimating
	phaseSponsoring
	phaseSigning
	phaseSubmitting
	phaseAwaitingReceipt
	phaseConfirmed
	phaseFailed
)

// String returns a human-readable name for the phase.
func (p opPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseBuilding:
		return "building"
	case phaseEstimating:
		return "estimating"
	case phaseSponsoring:
		return "sponsoring"
	case phaseSigning:
		return "signing"
	case phaseSubmitting:
		return "submitting"
	case phaseAwaitingReceipt:
		return "awaiting-receipt"
	case phaseConfirmed:
		return "confirmed"
	case phaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Estimation needs a length-correct placeholder signature; the bundler
// ignores its content.
var dummySignature = make([]byte, 65)

// Executor drives one smart account's operations end to end:
// build, estimate, sponsor, sign, submit, await receipt. Submissions for the
// account are serialized so nonces are strictly increasing; a second call
// does not start building until the nonce used by the prior one is known.
type Executor struct {
	account    *SmartAccount
	builder    *OpBuilder
	negotiator *Negotiator
	bundler    *BundlerClient
	signer     Signer
	entrypoint common.Address
	chainId    *big.Int

	maxAttempts int
	backoffBase time.Duration
	log         log.Logger

	// refresh runs after each confirmation to re-read application state
	// (balances, statuses). Its failure never fails the transaction.
	refresh func(ctx context.Context)

	submitMu sync.Mutex
	// pending is the next nonce to use when it is ahead of the chain,
	// covering operations submitted but not yet mined.
	pending *big.Int
}

func NewExecutor(
	account *SmartAccount,
	builder *OpBuilder,
	negotiator *Negotiator,
	bundler *BundlerClient,
	signer Signer,
	cfg *Config,
	chainId *big.Int,
	logger log.Logger,
) *Executor {
	c := cfg.withDefaults()
	if logger == nil {
		logger = log.Root()
	}
	return &Executor{
		account:     account,
		builder:     builder,
		negotiator:  negotiator,
		bundler:     bundler,
		signer:      signer,
		entrypoint:  c.Entrypoint,
		chainId:     chainId,
		maxAttempts: c.SubmitAttempts,
		backoffBase: c.SubmitBackoff,
		log:         logger,
	}
}

// SetRefreshHook registers the post-confirmation state refresh.
func (e *Executor) SetRefreshHook(fn func(ctx context.Context)) {
	e.refresh = fn
}

// Execute runs a single call through the pipeline and returns its confirmed
// result.
func (e *Executor) Execute(ctx context.Context, call Call) (*TransactionResult, error) {
	return e.run(ctx, []Call{call}, false)
}

// ExecuteBatch runs an ordered list of calls as one atomic operation.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []Call) (*TransactionResult, error) {
	return e.run(ctx, calls, true)
}

func (e *Executor) run(ctx context.Context, calls []Call, batch bool) (*TransactionResult, error) {
	if err := e.validate(ctx, calls); err != nil {
		return nil, err
	}

	userOpHash, err := e.prepareAndSubmit(ctx, calls, batch)
	if err != nil {
		e.log.Debug("user operation failed", "phase", phaseFailed, "err", err)
		return nil, err
	}

	e.log.Debug("user operation submitted", "phase", phaseAwaitingReceipt, "userOpHash", userOpHash)
	rcpt, err := e.bundler.WaitForReceipt(ctx, userOpHash)
	if err != nil {
		// ErrReceiptTimeout means unknown outcome, not failure; it is
		// surfaced as-is so callers can distinguish the two.
		return nil, err
	}

	e.log.Debug("user operation confirmed", "phase", phaseConfirmed,
		"userOpHash", userOpHash, "success", rcpt.Success)
	if e.refresh != nil {
		e.refresh(ctx)
	}
	return rcpt.Result(), nil
}

// validate fails fast, before any network call, on malformed calls or an
// insufficient balance for value transfers.
func (e *Executor) validate(ctx context.Context, calls []Call) error {
	if len(calls) == 0 {
		return &ValidationError{Field: "calls", Reason: "empty batch"}
	}
	total := new(big.Int)
	for _, call := range calls {
		if err := validateCall(call); err != nil {
			return err
		}
		if call.Value != nil {
			total.Add(total, call.Value)
		}
	}
	if total.Sign() > 0 {
		balance, err := e.account.Balance(ctx)
		if err != nil {
			return err
		}
		if balance.Cmp(total) < 0 {
			return &ValidationError{
				Field:  "value",
				Reason: fmt.Sprintf("balance %s below transfer total %s", balance, total),
			}
		}
	}
	return nil
}

// prepareAndSubmit holds the account's submission lock from nonce selection
// through a successful send, the one region that needs true mutual
// exclusion.
func (e *Executor) prepareAndSubmit(ctx context.Context, calls []Call, batch bool) (common.Hash, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	e.log.Debug("building user operation", "phase", phaseBuilding, "calls", len(calls))
	var userOp *UserOperation
	var err error
	if batch {
		userOp, err = e.builder.BuildBatch(ctx, calls)
	} else {
		userOp, err = e.builder.Build(ctx, calls[0])
	}
	if err != nil {
		return common.Hash{}, err
	}

	// The chain only knows about mined operations. When a prior submission
	// is still in flight, the tracked nonce is ahead of the chain's and
	// wins.
	if e.pending != nil && e.pending.Cmp(userOp.Nonce) > 0 {
		userOp.Nonce = new(big.Int).Set(e.pending)
	}

	e.log.Debug("estimating gas", "phase", phaseEstimating, "nonce", userOp.Nonce)
	estOp := userOp.Clone()
	estOp.Signature = dummySignature
	estimate, err := e.negotiator.EstimateGas(ctx, estOp)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas estimation failed: %w", err)
	}
	userOp = e.negotiator.Apply(userOp, estimate)

	e.log.Debug("requesting sponsorship", "phase", phaseSponsoring)
	userOp = e.negotiator.Sponsor(ctx, userOp)

	// Gas and paymaster fields are final from here on; they are part of the
	// signed digest.
	e.log.Debug("signing user operation", "phase", phaseSigning)
	digest, err := userOp.Hash(e.entrypoint, e.chainId)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error hashing user operation: %w", err)
	}
	sig, err := e.signer.SignDigest(ctx, digest)
	if err != nil {
		return common.Hash{}, err
	}
	userOp.Signature = sig

	userOpHash, err := e.submit(ctx, userOp)
	if err != nil {
		return common.Hash{}, err
	}
	e.pending = new(big.Int).Add(userOp.Nonce, big.NewInt(1))
	return userOpHash, nil
}

// submit sends the signed operation, retrying transient bundler failures
// with exponential backoff up to the configured cap. Validation errors, user
// rejection, and cancellation are never retried.
func (e *Executor) submit(ctx context.Context, userOp *UserOperation) (common.Hash, error) {
	var lastErr error
	delay := e.backoffBase
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		e.log.Debug("submitting user operation", "phase", phaseSubmitting,
			"attempt", attempt, "nonce", userOp.Nonce)
		hash, err := e.bundler.SendUserOp(ctx, userOp)
		if err == nil {
			return hash, nil
		}
		lastErr = err
		if !retryable(err) {
			return common.Hash{}, err
		}
		if attempt == e.maxAttempts {
			break
		}
		e.log.Warn("user operation submission failed, backing off",
			"attempt", attempt, "delay", delay, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
		delay *= 2
	}
	return common.Hash{}, fmt.Errorf("submission failed after %d attempts: %w", e.maxAttempts, lastErr)
}
