package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	apperrors "token-renderer/internal/errors"
	"token-renderer/internal/metrics"
	"token-renderer/pkg/logging/logging"
)

// TokensPerProject is the divisor mapping a token id onto its project id.
const TokensPerProject = 1_000_000

// ProjectID returns the project a token belongs to.
func ProjectID(tokenID uint64) uint64 {
	return tokenID / TokensPerProject
}

// ProjectScriptInfo mirrors the projectScriptInfo tuple.
type ProjectScriptInfo struct {
	ScriptJSON    string
	ScriptCount   uint64
	UseHashString bool
	IPFSHash      string
	Locked        bool
	Paused        bool
}

// ScriptBundle is everything the document needs from the chain.
type ScriptBundle struct {
	TokenID   uint64
	ProjectID uint64
	Seed      string
	Script    string
	Info      ProjectScriptInfo
}

// Caller is the subset of bind.BoundContract used by the reader.
type Caller interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
}

// Config tunes the reader.
type Config struct {
	CallTimeout     time.Duration // per eth_call; default 30s
	MaxScriptChunks uint64        // larger scriptCount is treated as malformed; default 10000
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c Config) WithDefaults() Config {
	cfg := c
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MaxScriptChunks == 0 {
		cfg.MaxScriptChunks = 10000
	}
	return cfg
}

// Reader resolves token seeds and project scripts from a contract.
type Reader struct {
	cfg    Config
	bind   func(addr common.Address) Caller
	from   common.Address
	logger *zap.Logger
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc: %w", err)
	}
	return client, nil
}

// NewReader binds contract calls to backend.
func NewReader(cfg Config, backend bind.ContractCaller, logger *zap.Logger) (*Reader, error) {
	if backend == nil {
		return nil, errors.New("chain: backend is required")
	}
	parsed, err := abi.JSON(strings.NewReader(scriptContractABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	return newReader(cfg, func(addr common.Address) Caller {
		return bind.NewBoundContract(addr, parsed, backend, nil, nil)
	}, logger)
}

func newReader(cfg Config, bindFn func(common.Address) Caller, logger *zap.Logger) (*Reader, error) {
	key, err := crypto.HexToECDSA(throwawayGetterKey)
	if err != nil {
		return nil, fmt.Errorf("chain: getter key: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		cfg:    cfg.WithDefaults(),
		bind:   bindFn,
		from:   crypto.PubkeyToAddress(key.PublicKey),
		logger: logger.Named("chain"),
	}, nil
}

// FetchScriptBundle reads the seed of tokenID and the full script of its
// project. Chunks are read one by one in ascending index order.
func (r *Reader) FetchScriptBundle(ctx context.Context, contractAddr string, tokenID uint64) (_ ScriptBundle, err error) {
	ctx, span := otel.Tracer("token-renderer/chain").Start(ctx, "chain.FetchScriptBundle")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !common.IsHexAddress(contractAddr) {
		return ScriptBundle{}, apperrors.New(apperrors.KindChainRead, fmt.Sprintf("invalid contract address %q", contractAddr))
	}

	projectID := ProjectID(tokenID)
	span.SetAttributes(
		attribute.String("contract", contractAddr),
		attribute.Int64("project_id", int64(projectID)),
	)

	contract := r.bind(common.HexToAddress(contractAddr))
	tokenBig := new(big.Int).SetUint64(tokenID)
	projectBig := new(big.Int).SetUint64(projectID)

	out, err := r.call(ctx, contract, methodTokenIDToHash, tokenBig)
	if err != nil {
		return ScriptBundle{}, err
	}
	seed, err := decodeSeed(out)
	if err != nil {
		return ScriptBundle{}, err
	}

	out, err = r.call(ctx, contract, methodProjectScriptInfo, projectBig)
	if err != nil {
		return ScriptBundle{}, err
	}
	info, err := decodeScriptInfo(out)
	if err != nil {
		return ScriptBundle{}, err
	}
	if info.ScriptCount > r.cfg.MaxScriptChunks {
		return ScriptBundle{}, apperrors.New(apperrors.KindChainRead,
			fmt.Sprintf("projectScriptInfo: scriptCount %d exceeds limit %d", info.ScriptCount, r.cfg.MaxScriptChunks))
	}

	var script strings.Builder
	for i := uint64(0); i < info.ScriptCount; i++ {
		out, err := r.call(ctx, contract, methodProjectScriptByIndex, projectBig, new(big.Int).SetUint64(i))
		if err != nil {
			return ScriptBundle{}, err
		}
		chunk, ok := single[string](out)
		if !ok {
			return ScriptBundle{}, malformed(methodProjectScriptByIndex, out)
		}
		script.WriteString(chunk)
	}

	logging.L(ctx).Debug("script bundle fetched",
		zap.Uint64("token_id", tokenID),
		zap.Uint64("project_id", projectID),
		zap.Uint64("script_count", info.ScriptCount),
		zap.Int("script_bytes", script.Len()),
	)

	return ScriptBundle{
		TokenID:   tokenID,
		ProjectID: projectID,
		Seed:      seed,
		Script:    script.String(),
		Info:      info,
	}, nil
}

func (r *Reader) call(ctx context.Context, contract Caller, method string, params ...interface{}) ([]interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	var out []interface{}
	err := contract.Call(&bind.CallOpts{Context: callCtx, From: r.from}, &out, method, params...)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ChainCallsTotal.WithLabelValues(method, result).Inc()

	r.logger.Debug("eth_call",
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)

	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindChainRead, method, err)
	}
	return out, nil
}

func decodeSeed(out []interface{}) (string, error) {
	hash, ok := single[[32]byte](out)
	if !ok {
		return "", malformed(methodTokenIDToHash, out)
	}
	return common.Hash(hash).Hex(), nil
}

func decodeScriptInfo(out []interface{}) (ProjectScriptInfo, error) {
	if len(out) != 6 {
		return ProjectScriptInfo{}, malformed(methodProjectScriptInfo, out)
	}

	scriptJSON, ok1 := out[0].(string)
	count, ok2 := out[1].(*big.Int)
	useHash, ok3 := out[2].(bool)
	ipfs, ok4 := out[3].(string)
	locked, ok5 := out[4].(bool)
	paused, ok6 := out[5].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) || count == nil || count.Sign() < 0 || !count.IsUint64() {
		return ProjectScriptInfo{}, malformed(methodProjectScriptInfo, out)
	}

	return ProjectScriptInfo{
		ScriptJSON:    scriptJSON,
		ScriptCount:   count.Uint64(),
		UseHashString: useHash,
		IPFSHash:      ipfs,
		Locked:        locked,
		Paused:        paused,
	}, nil
}

func single[T any](out []interface{}) (T, bool) {
	var zero T
	if len(out) != 1 {
		return zero, false
	}
	v, ok := out[0].(T)
	return v, ok
}

func malformed(method string, out []interface{}) error {
	return apperrors.New(apperrors.KindChainRead, fmt.Sprintf("%s: malformed response %v", method, out))
}
