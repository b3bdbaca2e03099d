package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/earshot-audio/earshot/internal/filter/manifest"
)

// allocExport is the guest allocator every filter module must export.
// The host calls it to reserve space for the input text.
const allocExport = "alloc"

// Runtime wraps a wazero runtime for executing filter modules.
type Runtime struct {
	rt   wazero.Runtime
	host HostBindings
}

// HostBindings are the functions the host exposes to filter modules.
type HostBindings struct {
	Logger *slog.Logger
}

// New creates a new filter runtime using wazero.
func New(ctx context.Context, host HostBindings) (*Runtime, error) {
	rt := wazero.NewRuntime(ctx)
	if err := instantiateHostModule(ctx, rt, host); err != nil {
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	return &Runtime{rt: rt, host: host}, nil
}

// Close releases resources held by the runtime.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil || r.rt == nil {
		return nil
	}
	return r.rt.Close(ctx)
}

// Filter represents a loaded filter module.
type Filter struct {
	Manifest manifest.Manifest
	module   api.Module
	entry    api.Function
	alloc    api.Function
	compiled wazero.CompiledModule
}

// Close releases resources for the filter.
func (f *Filter) Close(ctx context.Context) error {
	if f == nil {
		return nil
	}
	if f.module != nil {
		if err := f.module.Close(ctx); err != nil {
			return err
		}
	}
	if f.compiled != nil {
		if err := f.compiled.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Load compiles and instantiates a filter from a manifest.
func (r *Runtime) Load(ctx context.Context, m manifest.Manifest, env map[string]string) (*Filter, error) {
	if r == nil || r.rt == nil {
		return nil, fmt.Errorf("runtime not initialized")
	}
	if m.Runtime.Mode != "wasm" {
		return nil, fmt.Errorf("unsupported runtime mode %q", m.Runtime.Mode)
	}
	wasmBytes, err := os.ReadFile(m.Runtime.Module)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	compiled, err := r.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	moduleConfig := wazero.NewModuleConfig()
	for k, v := range env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}
	module, err := r.rt.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	entry := module.ExportedFunction(m.Runtime.Entrypoint)
	if entry == nil {
		module.Close(ctx)
		compiled.Close(ctx)
		return nil, fmt.Errorf("entrypoint %q not found", m.Runtime.Entrypoint)
	}
	alloc := module.ExportedFunction(allocExport)
	if alloc == nil {
		module.Close(ctx)
		compiled.Close(ctx)
		return nil, fmt.Errorf("allocator %q not found", allocExport)
	}
	return &Filter{
		Manifest: m,
		module:   module,
		entry:    entry,
		alloc:    alloc,
		compiled: compiled,
	}, nil
}

// Apply runs the filter over text. The input is copied into guest
// memory and the entrypoint returns the transformed region packed as
// pointer<<32|length, or zero to leave the text unchanged.
func (f *Filter) Apply(ctx context.Context, text string) (string, error) {
	if f == nil || f.entry == nil {
		return "", fmt.Errorf("filter entrypoint not available")
	}
	mem := f.module.Memory()
	if mem == nil {
		return "", fmt.Errorf("module exports no memory")
	}

	data := []byte(text)
	var ptr uint64
	if len(data) > 0 {
		allocated, err := f.alloc.Call(ctx, uint64(len(data)))
		if err != nil {
			return "", fmt.Errorf("allocate guest buffer: %w", err)
		}
		if len(allocated) == 0 {
			return "", fmt.Errorf("allocator returned no pointer")
		}
		ptr = allocated[0]
		if !mem.Write(uint32(ptr), data) {
			return "", fmt.Errorf("write text to guest memory (ptr=%d len=%d)", ptr, len(data))
		}
	}

	results, err := f.entry.Call(ctx, ptr, uint64(len(data)))
	if err != nil {
		return "", fmt.Errorf("call %s: %w", f.Manifest.Runtime.Entrypoint, err)
	}
	if len(results) == 0 || results[0] == 0 {
		return text, nil
	}
	outPtr := uint32(results[0] >> 32)
	outLen := uint32(results[0])
	out, ok := mem.Read(outPtr, outLen)
	if !ok {
		return "", fmt.Errorf("read transformed text (ptr=%d len=%d)", outPtr, outLen)
	}
	return string(out), nil
}

func instantiateHostModule(ctx context.Context, rt wazero.Runtime, host HostBindings) error {
	logger := host.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	builder := rt.NewHostModuleBuilder("env")
	filterLogFn := api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
		if len(stack) < 2 {
			return
		}
		ptr := api.DecodeU32(stack[0])
		length := api.DecodeU32(stack[1])
		if length == 0 {
			return
		}
		mem := mod.Memory()
		if mem == nil {
			return
		}
		data, ok := mem.Read(ptr, length)
		if !ok {
			logger.Warn("filter_log: unable to read memory", slog.Uint64("ptr", uint64(ptr)), slog.Uint64("len", uint64(length)))
			return
		}
		logger.Info("filter log", slog.String("message", string(data)))
	})
	builder.NewFunctionBuilder().
		WithGoModuleFunction(filterLogFn, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		WithName("filter_log").
		Export("filter_log")

	_, err := builder.Instantiate(ctx)
	return err
}
