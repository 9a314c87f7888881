package walletkit

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

// SessionState is the wallet session's coarse lifecycle state.
type SessionState int

const (
	StateNoAccount SessionState = iota
	StateInitializing
	StateReady
)

func (s SessionState) String() string {
	switch s {
	case StateNoAccount:
		return "no-account"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// WalletController reacts to owner connect, disconnect, and chain switch
// events and keeps exactly one smart account session alive for the current
// identity. Rapid event bursts are debounced into a single initialization,
// stale initializations are discarded when the identity changes mid-flight,
// and repeated failures stop automatic attempts until RetryInit.
type WalletController struct {
	chain   ChainReader
	bundler *BundlerClient
	cfg     *Config
	cache   AddressCache
	log     log.Logger

	mu        sync.Mutex
	chainId   *big.Int
	state     SessionState
	signer    Signer
	account   *SmartAccount
	executor  *Executor
	gen       uint64
	inFlight  bool
	failures  int
	debounce  *time.Timer
	onState   func(SessionState)
	refreshFn func(ctx context.Context)
}

func NewWalletController(
	chain ChainReader,
	bundler *BundlerClient,
	cfg *Config,
	chainId *big.Int,
	logger log.Logger,
) *WalletController {
	if logger == nil {
		logger = log.Root()
	}
	c := cfg.withDefaults()
	return &WalletController{
		chain:   chain,
		bundler: bundler,
		cfg:     &c,
		chainId: chainId,
		cache:   NewAddressCache(128),
		log:     logger,
		state:   StateNoAccount,
	}
}

// Dial connects to the node named in the config, discovers the chain id and
// returns a controller wired to a bundler client for the same config.
func Dial(ctx context.Context, cfg *Config, logger log.Logger) (*WalletController, error) {
	client, err := ethclient.Dial(cfg.NodeUrl)
	if err != nil {
		return nil, fmt.Errorf("error connecting to node: %w", err)
	}
	chainId, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading chain id: %w", err)
	}
	return NewWalletController(client, NewBundlerClient(cfg), cfg, chainId, logger), nil
}

// SetStateHook registers a callback invoked on every state transition, after
// the transition has taken effect. Called without internal locks held, in
// transition order.
func (w *WalletController) SetStateHook(fn func(SessionState)) {
	w.mu.Lock()
	w.onState = fn
	w.mu.Unlock()
}

// SetRefreshHook registers the post-confirmation refresh passed through to
// each session's executor.
func (w *WalletController) SetRefreshHook(fn func(ctx context.Context)) {
	w.mu.Lock()
	w.refreshFn = fn
	if w.executor != nil {
		w.executor.SetRefreshHook(fn)
	}
	w.mu.Unlock()
}

// OnConnect handles an owner identity becoming available. A change of
// identity immediately tears down the previous session; initialization for
// the new one starts after the debounce window so event bursts collapse into
// one attempt.
func (w *WalletController) OnConnect(signer Signer) {
	w.mu.Lock()
	sameIdentity := w.signer != nil && w.signer.Address() == signer.Address()
	if sameIdentity && w.state == StateReady {
		w.mu.Unlock()
		return
	}
	failures := w.failures
	w.resetLocked()
	if sameIdentity {
		// Only an identity change, a success, or RetryInit clears the
		// failure counter; a repeated connect for the same owner must not
		// re-arm a tripped breaker.
		w.failures = failures
	}
	w.signer = signer
	notify := w.transitionLocked(StateInitializing)
	w.scheduleInitLocked()
	w.mu.Unlock()
	notify()
}

// OnDisconnect tears the session down synchronously. Any in-flight
// initialization is discarded when it completes.
func (w *WalletController) OnDisconnect() {
	w.mu.Lock()
	w.resetLocked()
	w.signer = nil
	notify := w.transitionLocked(StateNoAccount)
	w.mu.Unlock()
	notify()
}

// OnChainSwitch rebuilds the session against a new chain. Nothing from the
// old session is reused.
func (w *WalletController) OnChainSwitch(chainId *big.Int) {
	w.mu.Lock()
	w.chainId = new(big.Int).Set(chainId)
	w.resetLocked()
	if w.signer == nil {
		w.mu.Unlock()
		return
	}
	notify := w.transitionLocked(StateInitializing)
	w.scheduleInitLocked()
	w.mu.Unlock()
	notify()
}

// RetryInit clears the failure counter and starts a fresh initialization
// attempt. It is the only way forward once automatic attempts have stopped.
func (w *WalletController) RetryInit() {
	w.mu.Lock()
	if w.signer == nil || w.state == StateReady {
		w.mu.Unlock()
		return
	}
	w.failures = 0
	notify := w.transitionLocked(StateInitializing)
	w.scheduleInitLocked()
	w.mu.Unlock()
	notify()
}

// State returns the current session state.
func (w *WalletController) State() SessionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Account returns the active smart account, or ErrNotReady.
func (w *WalletController) Account() (*SmartAccount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateReady {
		return nil, ErrNotReady
	}
	return w.account, nil
}

// Executor returns the active executor, or ErrNotReady.
func (w *WalletController) Executor() (*Executor, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateReady {
		return nil, ErrNotReady
	}
	return w.executor, nil
}

// SendTransaction executes one call through the current session.
func (w *WalletController) SendTransaction(ctx context.Context, call Call) (*TransactionResult, error) {
	exec, err := w.Executor()
	if err != nil {
		return nil, err
	}
	return exec.Execute(ctx, call)
}

// SendBatchTransaction executes an ordered batch through the current session.
func (w *WalletController) SendBatchTransaction(ctx context.Context, calls []Call) (*TransactionResult, error) {
	exec, err := w.Executor()
	if err != nil {
		return nil, err
	}
	return exec.ExecuteBatch(ctx, calls)
}

// scheduleInitLocked arms (or re-arms) the debounce timer. Caller holds mu.
func (w *WalletController) scheduleInitLocked() {
	if w.failures >= w.cfg.InitFailureCap {
		w.log.Warn("initialization suspended after repeated failures",
			"failures", w.failures)
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	gen := w.gen
	w.debounce = time.AfterFunc(w.cfg.DebounceWindow, func() {
		w.startInit(gen)
	})
}

// startInit performs one initialization attempt. Attempts from superseded
// generations are dropped; an attempt arriving while another is still
// resolving is deferred, not run concurrently.
func (w *WalletController) startInit(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || w.signer == nil || w.state != StateInitializing {
		w.mu.Unlock()
		return
	}
	if w.inFlight {
		w.scheduleInitLocked()
		w.mu.Unlock()
		return
	}
	w.inFlight = true
	signer := w.signer
	chainId := new(big.Int).Set(w.chainId)
	w.mu.Unlock()

	account := NewSmartAccount(w.chain, w.cfg, signer.Address(), w.cache)
	addr, err := account.Address(context.Background())

	w.mu.Lock()
	w.inFlight = false
	if gen != w.gen {
		// Identity or chain changed while resolving; drop this stale session
		// and let the current generation initialize.
		if w.signer != nil && w.state == StateInitializing {
			w.scheduleInitLocked()
		}
		w.mu.Unlock()
		return
	}
	if err != nil {
		w.failures++
		w.log.Error("session initialization failed",
			"owner", signer.Address(), "attempt", w.failures, "err", err)
		w.scheduleInitLocked()
		w.mu.Unlock()
		return
	}

	builder := NewOpBuilder(account)
	negotiator := NewNegotiator(w.bundler, w.cfg, chainId, w.log)
	executor := NewExecutor(account, builder, negotiator, w.bundler, signer, w.cfg, chainId, w.log)
	if w.refreshFn != nil {
		executor.SetRefreshHook(w.refreshFn)
	}
	w.account = account
	w.executor = executor
	w.failures = 0
	w.log.Info("smart account session ready", "owner", signer.Address(), "account", addr)
	notify := w.transitionLocked(StateReady)
	w.mu.Unlock()
	notify()
}

// resetLocked invalidates any in-flight initialization and clears the active
// session. Caller holds mu.
func (w *WalletController) resetLocked() {
	w.gen++
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	w.account = nil
	w.executor = nil
	w.failures = 0
}

// transitionLocked records the state change and returns the hook invocation
// for the caller to run once the lock is released. Caller holds mu.
func (w *WalletController) transitionLocked(state SessionState) func() {
	if w.state == state {
		return func() {}
	}
	w.state = state
	hook := w.onState
	if hook == nil {
		return func() {}
	}
	return func() { hook(state) }
}
