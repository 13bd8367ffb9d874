package server

import (
	"EscrowLedger/internal/claim"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const maxBodyBytes = 1 << 16

// Ledger is the lock API exposed over HTTP.
type Ledger interface {
	Lock(ctx context.Context, owner, asset common.Address, amount *big.Int) (ledger.LockID, error)
	Allocate(ctx context.Context, id ledger.LockID, amount *big.Int) error
	Release(ctx context.Context, id ledger.LockID, amount *big.Int) error
	Unlock(ctx context.Context, id ledger.LockID) error
	GetLock(ctx context.Context, id ledger.LockID) (*ledger.ResourceLock, error)
	AvailableBalance(ctx context.Context, owner, asset common.Address) (*big.Int, error)
	Deposit(ctx context.Context, owner, asset common.Address, amount *big.Int) error
	Withdraw(ctx context.Context, owner, asset common.Address, amount *big.Int) error
	ExternalBalance(ctx context.Context, owner, asset common.Address) (*big.Int, error)
}

// Settlement is the engine-facing boundary exposed over HTTP.
type Settlement interface {
	GetSpreadedAmount(ctx context.Context, baseAmount *big.Int, encoded []byte) (*big.Int, error)
	ProcessClaim(ctx context.Context, claimHash common.Hash, sponsor common.Address, nonce *big.Int,
		expiresAt time.Time, lockID ledger.LockID, amount *big.Int, signature []byte) error
	VerifyClaim(ctx context.Context, c *claim.Claim) bool
}

// QuoteInjector accepts operator-submitted quotes.
type QuoteInjector interface {
	Inject(ctx context.Context, data []byte) (bool, error)
}

type api struct {
	ledger     Ledger
	settlement Settlement
	quotes     QuoteInjector // optional
	metrics    *observability.Metrics
}

// NewHandler builds the HTTP/JSON API on a gateway mux.
func NewHandler(l Ledger, s Settlement, quotes QuoteInjector, metrics *observability.Metrics) (http.Handler, error) {
	a := &api{ledger: l, settlement: s, quotes: quotes, metrics: metrics}
	mux := runtime.NewServeMux()

	routes := []route{
		{"POST", "/v1/locks", "create_lock", a.createLock},
		{"GET", "/v1/locks/{id}", "get_lock", a.getLock},
		{"POST", "/v1/locks/{id}/allocate", "allocate", a.allocate},
		{"POST", "/v1/locks/{id}/release", "release", a.release},
		{"POST", "/v1/locks/{id}/unlock", "unlock", a.unlock},
		{"GET", "/v1/balances/{owner}/{asset}", "balance", a.balance},
		{"GET", "/v1/funds/{owner}/{asset}", "funds", a.funds},
		{"POST", "/v1/funds/{owner}/{asset}/deposit", "deposit", a.deposit},
		{"POST", "/v1/funds/{owner}/{asset}/withdraw", "withdraw", a.withdraw},
		{"POST", "/v1/claims", "process_claim", a.processClaim},
		{"POST", "/v1/claims/verify", "verify_claim", a.verifyClaim},
		{"POST", "/v1/amounts", "amount", a.amount},
	}
	if quotes != nil {
		routes = append(routes, route{"POST", "/v1/quotes", "inject_quote", a.injectQuote})
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, a.instrument(r.name, r.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.path, err)
		}
	}
	return mux, nil
}

// handlerFunc returns the response body or an error to render.
type handlerFunc func(r *http.Request, params map[string]string) (any, error)

type route struct {
	method, path, name string
	h                  handlerFunc
}

func (a *api) instrument(route string, h handlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()

		code := http.StatusOK
		resp, err := h(r, params)
		if err != nil {
			code = writeError(w, err)
		} else {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(resp)
		}

		if a.metrics != nil {
			a.metrics.APIRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
			a.metrics.APIDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}

// --- Wire types ---

type lockJSON struct {
	ID        uint64    `json:"id"`
	Owner     string    `json:"owner"`
	Asset     string    `json:"asset"`
	Total     string    `json:"total"`
	Allocated string    `json:"allocated"`
	Available string    `json:"available"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func encodeLock(l *ledger.ResourceLock) lockJSON {
	return lockJSON{
		ID:        uint64(l.ID),
		Owner:     l.Owner.Hex(),
		Asset:     l.Asset.Hex(),
		Total:     l.Total.String(),
		Allocated: l.Allocated.String(),
		Available: l.Available().String(),
		Active:    l.Active,
		CreatedAt: l.CreatedAt,
	}
}

type createLockRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type claimRequest struct {
	ClaimHash string `json:"claim_hash"`
	Sponsor   string `json:"sponsor"`
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds
	LockID    uint64 `json:"lock_id"`
	Amount    string `json:"amount"`
	Signature string `json:"signature"`
}

type spreadedAmountRequest struct {
	BaseAmount string `json:"base_amount"`
	Request    string `json:"request"` // hex-encoded binary request
}

// --- Handlers ---

func (a *api) createLock(r *http.Request, _ map[string]string) (any, error) {
	var req createLockRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}

	id, err := a.ledger.Lock(r.Context(), owner, asset, amount)
	if err != nil {
		return nil, err
	}
	return a.lockResponse(r.Context(), id)
}

func (a *api) getLock(r *http.Request, params map[string]string) (any, error) {
	id, err := parseLockID(params["id"])
	if err != nil {
		return nil, err
	}
	return a.lockResponse(r.Context(), id)
}

func (a *api) allocate(r *http.Request, params map[string]string) (any, error) {
	return a.adjust(r, params, a.ledger.Allocate)
}

func (a *api) release(r *http.Request, params map[string]string) (any, error) {
	return a.adjust(r, params, a.ledger.Release)
}

func (a *api) adjust(r *http.Request, params map[string]string,
	op func(ctx context.Context, id ledger.LockID, amount *big.Int) error,
) (any, error) {
	id, err := parseLockID(params["id"])
	if err != nil {
		return nil, err
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if err := op(r.Context(), id, amount); err != nil {
		return nil, err
	}
	return a.lockResponse(r.Context(), id)
}

func (a *api) unlock(r *http.Request, params map[string]string) (any, error) {
	id, err := parseLockID(params["id"])
	if err != nil {
		return nil, err
	}
	if err := a.ledger.Unlock(r.Context(), id); err != nil {
		return nil, err
	}
	return a.lockResponse(r.Context(), id)
}

func (a *api) balance(r *http.Request, params map[string]string) (any, error) {
	owner, err := parseAddress("owner", params["owner"])
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", params["asset"])
	if err != nil {
		return nil, err
	}
	available, err := a.ledger.AvailableBalance(r.Context(), owner, asset)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"owner":     owner.Hex(),
		"asset":     asset.Hex(),
		"available": available.String(),
	}, nil
}

func (a *api) funds(r *http.Request, params map[string]string) (any, error) {
	owner, asset, err := parsePair(params)
	if err != nil {
		return nil, err
	}
	return a.fundsResponse(r.Context(), owner, asset)
}

func (a *api) deposit(r *http.Request, params map[string]string) (any, error) {
	return a.fund(r, params, a.ledger.Deposit)
}

func (a *api) withdraw(r *http.Request, params map[string]string) (any, error) {
	return a.fund(r, params, a.ledger.Withdraw)
}

func (a *api) fund(r *http.Request, params map[string]string,
	op func(ctx context.Context, owner, asset common.Address, amount *big.Int) error,
) (any, error) {
	owner, asset, err := parsePair(params)
	if err != nil {
		return nil, err
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if err := op(r.Context(), owner, asset, amount); err != nil {
		return nil, err
	}
	return a.fundsResponse(r.Context(), owner, asset)
}

func (a *api) fundsResponse(ctx context.Context, owner, asset common.Address) (any, error) {
	balance, err := a.ledger.ExternalBalance(ctx, owner, asset)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"owner":   owner.Hex(),
		"asset":   asset.Hex(),
		"balance": balance.String(),
	}, nil
}

func (a *api) processClaim(r *http.Request, _ map[string]string) (any, error) {
	c, err := decodeClaim(r)
	if err != nil {
		return nil, err
	}
	err = a.settlement.ProcessClaim(r.Context(),
		c.ClaimHash, c.Sponsor, c.Nonce, c.ExpiresAt, c.LockID, c.Amount, c.Signature)
	if err != nil {
		return nil, err
	}
	return map[string]string{"status": "processed", "claim_hash": c.ClaimHash.Hex()}, nil
}

func (a *api) verifyClaim(r *http.Request, _ map[string]string) (any, error) {
	c, err := decodeClaim(r)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"valid": a.settlement.VerifyClaim(r.Context(), c)}, nil
}

func (a *api) amount(r *http.Request, _ map[string]string) (any, error) {
	var req spreadedAmountRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	base, err := parseAmount("base_amount", req.BaseAmount)
	if err != nil {
		return nil, err
	}
	encoded, err := hexutil.Decode(req.Request)
	if err != nil {
		return nil, fmt.Errorf("%w: request: %v", errBadRequest, err)
	}

	out, err := a.settlement.GetSpreadedAmount(r.Context(), base, encoded)
	if err != nil {
		return nil, err
	}
	return map[string]string{"amount": out.String()}, nil
}

func (a *api) injectQuote(r *http.Request, _ map[string]string) (any, error) {
	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		return nil, err
	}
	applied, err := a.quotes.Inject(r.Context(), raw)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"applied": applied}, nil
}

func (a *api) lockResponse(ctx context.Context, id ledger.LockID) (any, error) {
	lock, err := a.ledger.GetLock(ctx, id)
	if err != nil {
		return nil, err
	}
	return encodeLock(lock), nil
}

// --- Parsing ---

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func decodeClaim(r *http.Request) (*claim.Claim, error) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	hash, err := hexutil.Decode(req.ClaimHash)
	if err != nil || len(hash) != common.HashLength {
		return nil, fmt.Errorf("%w: claim_hash must be 32 hex bytes", errBadRequest)
	}
	sponsor, err := parseAddress("sponsor", req.Sponsor)
	if err != nil {
		return nil, err
	}
	nonce, err := parseUint("nonce", req.Nonce)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", errBadRequest, err)
	}

	return &claim.Claim{
		ClaimHash: common.BytesToHash(hash),
		Sponsor:   sponsor,
		Nonce:     nonce,
		ExpiresAt: time.Unix(req.ExpiresAt, 0).UTC(),
		LockID:    ledger.LockID(req.LockID),
		Amount:    amount,
		Signature: sig,
	}, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s is not a hex address", errBadRequest, field)
	}
	return common.HexToAddress(s), nil
}

func parsePair(params map[string]string) (common.Address, common.Address, error) {
	owner, err := parseAddress("owner", params["owner"])
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	asset, err := parseAddress("asset", params["asset"])
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return owner, asset, nil
}

// parseAmount parses a base-10 integer. Sign and range are left to the
// domain layer so its own errors surface.
func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a base-10 integer", errBadRequest, field)
	}
	return v, nil
}

func parseUint(field, s string) (*big.Int, error) {
	v, err := parseAmount(field, s)
	if err != nil {
		return nil, err
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative", errBadRequest, field)
	}
	return v, nil
}

func parseLockID(s string) (ledger.LockID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid lock id %q", errBadRequest, s)
	}
	return ledger.LockID(id), nil
}
