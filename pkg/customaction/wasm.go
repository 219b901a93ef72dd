package customaction

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/openfroyo/installengine/pkg/engine"
	"github.com/openfroyo/installengine/pkg/props"
)

// hostModule is the import module name of the functions modules may call.
const hostModule = "env"

type storeKey struct{}

// wasmHost owns the wazero runtime and the compiled module cache. The runtime
// is created on first use.
type wasmHost struct {
	mu               sync.Mutex
	runtime          wazero.Runtime
	compiled         map[string]wazero.CompiledModule
	memoryLimitPages uint32
}

func newWASMHost() *wasmHost {
	return &wasmHost{
		compiled:         make(map[string]wazero.CompiledModule),
		memoryLimitPages: 256,
	}
}

func (h *wasmHost) init(ctx context.Context) error {
	if h.runtime != nil {
		return nil
	}

	config := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(h.memoryLimitPages).
		WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, config)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	_, err := rt.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().
		WithFunc(setPropertyHost).
		Export("set_property").
		Instantiate(ctx)
	if err != nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("failed to instantiate host module: %w", err)
	}

	h.runtime = rt
	return nil
}

// setPropertyHost lets a module set a property: set_property(name_ptr,
// name_len, value_ptr, value_len). It returns 0 on success and 1 when the
// memory ranges are invalid.
func setPropertyHost(ctx context.Context, mod api.Module, namePtr, nameLen, valuePtr, valueLen uint32) uint32 {
	store, ok := ctx.Value(storeKey{}).(*props.Store)
	if !ok {
		return 1
	}
	name, ok := mod.Memory().Read(namePtr, nameLen)
	if !ok {
		return 1
	}
	value, ok := mod.Memory().Read(valuePtr, valueLen)
	if !ok {
		return 1
	}
	store.Set(string(name), string(value))
	return 0
}

// compile loads, verifies and compiles the module at path, caching the result.
func (h *wasmHost) compile(ctx context.Context, path, checksum string) (wazero.CompiledModule, error) {
	if m, ok := h.compiled[path]; ok {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module: %w", err)
	}
	if checksum != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != checksum {
			return nil, fmt.Errorf("checksum mismatch: expected %s, got %s", checksum, got)
		}
	}

	m, err := h.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module: %w", err)
	}
	h.compiled[path] = m
	return m, nil
}

func (h *wasmHost) close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runtime == nil {
		return nil
	}
	err := h.runtime.Close(ctx)
	h.runtime = nil
	h.compiled = make(map[string]wazero.CompiledModule)
	return err
}

// runWASM instantiates the module, which runs its _start function. Properties
// are passed as environment variables and the action name as the only
// argument. The WASI exit code is the installer result code.
func (r *Runner) runWASM(ctx context.Context, pkg *engine.Package, def Definition) error {
	h := r.wasm
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.init(ctx); err != nil {
		return engine.NewError(engine.CodeInstallFailure, "wasm runtime unavailable", err).WithAction(def.Name)
	}

	path := def.Module
	if !filepath.IsAbs(path) && r.baseDir != "" {
		path = filepath.Join(r.baseDir, path)
	}
	compiled, err := h.compile(ctx, path, def.Checksum)
	if err != nil {
		return engine.NewError(engine.CodeInstallFailure, "wasm module unavailable", err).
			WithAction(def.Name).
			WithDetail("module", path)
	}

	var stdout, stderr bytes.Buffer
	config := wazero.NewModuleConfig().
		WithName("").
		WithArgs(def.Name).
		WithStdout(&stdout).
		WithStderr(&stderr)
	for _, name := range pkg.Properties.Names() {
		config = config.WithEnv(name, pkg.Properties.Get(name))
	}

	mod, err := h.runtime.InstantiateModule(context.WithValue(ctx, storeKey{}, pkg.Properties), compiled, config)
	if mod != nil {
		_ = mod.Close(ctx)
	}

	if stdout.Len() > 0 {
		r.logger.Info().Str("action", def.Name).Str("stdout", stdout.String()).Msg("Custom action output")
	}
	if stderr.Len() > 0 {
		r.logger.Warn().Str("action", def.Name).Str("stderr", stderr.String()).Msg("Custom action output")
	}

	if err == nil {
		return nil
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return resultError(def.Name, int(exitErr.ExitCode()))
	}
	return engine.NewError(engine.CodeInstallFailure, "wasm custom action failed", err).WithAction(def.Name)
}
