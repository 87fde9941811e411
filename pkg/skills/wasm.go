package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/ledgerline/cortex/pkg/contracts"
)

// WASMConfig bounds a guest module run.
type WASMConfig struct {
	// MemoryLimitBytes caps guest memory. wazero counts 64KB pages; the
	// limit rounds down to whole pages, minimum one.
	MemoryLimitBytes int64
	// Deadline bounds guest CPU time via context cancellation.
	Deadline time.Duration
}

// WASMRunner executes WASI guest modules as skill handlers, deny by
// default: no filesystem, no network, no environment, no wall clock, no
// randomness. The guest reads one JSON document {context, input} on stdin
// and writes a SkillOutput JSON document to stdout.
type WASMRunner struct {
	runtime wazero.Runtime
	config  wazero.ModuleConfig
	limits  WASMConfig
}

// NewWASMRunner builds a sandbox runtime with the given limits.
func NewWASMRunner(ctx context.Context, cfg WASMConfig) (*WASMRunner, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitBytes > 0 {
		pages := uint32(cfg.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	// No WithFSConfig, WithSysNanotime or WithRandSource: the guest gets
	// stdio and nothing else.
	modCfg := wazero.NewModuleConfig().
		WithName("cortex-skill").
		WithStartFunctions("_start")

	return &WASMRunner{
		runtime: r,
		config:  modCfg,
		limits:  cfg,
	}, nil
}

type guestInput struct {
	Context contracts.TenantSkillContext `json:"context"`
	Input   contracts.SkillInput         `json:"input"`
}

// Handler adapts a guest module's bytes into a skill Handler. The returned
// handler compiles and runs the module per invocation; guest output still
// passes the registry's output contract like any native handler's.
func (r *WASMRunner) Handler(wasmBytes []byte) Handler {
	return func(ctx context.Context, sctx contracts.TenantSkillContext, in contracts.SkillInput) (contracts.SkillOutput, error) {
		if r.limits.Deadline > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.limits.Deadline)
			defer cancel()
		}

		payload, err := json.Marshal(guestInput{Context: sctx, Input: in})
		if err != nil {
			return contracts.SkillOutput{}, fmt.Errorf("skills: encode guest input: %w", err)
		}

		var stdout, stderr bytes.Buffer
		modCfg := r.config.
			WithStdin(bytes.NewReader(payload)).
			WithStdout(&stdout).
			WithStderr(&stderr)

		compiled, err := r.runtime.CompileModule(ctx, wasmBytes)
		if err != nil {
			return contracts.SkillOutput{}, fmt.Errorf("skills: compile guest module: %w", err)
		}
		defer func() { _ = compiled.Close(ctx) }()

		mod, err := r.runtime.InstantiateModule(ctx, compiled, modCfg)
		if err != nil {
			if ctx.Err() != nil {
				return contracts.SkillOutput{}, fmt.Errorf("skills: guest execution timed out after %v", r.limits.Deadline)
			}
			return contracts.SkillOutput{}, fmt.Errorf("skills: run guest module: %w", err)
		}
		defer func() { _ = mod.Close(ctx) }()

		if stderr.Len() > 0 {
			return contracts.SkillOutput{}, fmt.Errorf("skills: guest wrote to stderr: %s", stderr.String())
		}

		var out contracts.SkillOutput
		if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
			return contracts.SkillOutput{}, fmt.Errorf("skills: decode guest output: %w", err)
		}
		return out, nil
	}
}

// Close shuts down the sandbox runtime, freeing all guest resources.
func (r *WASMRunner) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.runtime.Close(ctx)
}
