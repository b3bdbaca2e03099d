package chain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/earshot-audio/earshot/internal/config"
	manifestpkg "github.com/earshot-audio/earshot/internal/filter/manifest"
	filterrt "github.com/earshot-audio/earshot/internal/filter/runtime"
	"github.com/earshot-audio/earshot/internal/protocol"
)

// Chain applies installed transcript filters in directory order.
type Chain struct {
	log     *slog.Logger
	rt      *filterrt.Runtime
	filters []*filterrt.Filter
	mu      sync.Mutex
}

// Load discovers filter.yaml manifests under cfg.Directory and
// instantiates their modules. It returns nil when filters are
// disabled. Any broken filter fails the load.
func Load(ctx context.Context, cfg config.FiltersConfig, logger *slog.Logger) (*Chain, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Directory == "" {
		return nil, errors.New("filters directory not configured")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	log := logger.With(slog.String("component", "filter.chain"))

	rt, err := filterrt.New(ctx, filterrt.HostBindings{Logger: log})
	if err != nil {
		return nil, err
	}
	c := &Chain{log: log, rt: rt}

	// WalkDir visits lexically, so chain order follows file names.
	err = filepath.WalkDir(cfg.Directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.EqualFold(d.Name(), "filter.yaml") {
			return nil
		}
		return c.add(ctx, path)
	})
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	if len(c.filters) == 0 {
		log.Warn("no filters discovered", slog.String("directory", cfg.Directory))
	} else {
		log.Info("filters loaded", slog.Int("count", len(c.filters)))
	}
	return c, nil
}

func (c *Chain) add(ctx context.Context, manifestPath string) error {
	mf, err := manifestpkg.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("load manifest %s: %w", manifestPath, err)
	}
	if err := manifestpkg.Validate(mf); err != nil {
		return fmt.Errorf("validate manifest %s: %w", manifestPath, err)
	}
	baseDir := filepath.Dir(manifestPath)
	if !filepath.IsAbs(mf.Runtime.Module) {
		mf.Runtime.Module = filepath.Join(baseDir, mf.Runtime.Module)
	}
	env := map[string]string{
		"EARSHOT_FILTER_NAME":      mf.Metadata.Name,
		"EARSHOT_FILTER_DIRECTORY": baseDir,
	}
	f, err := c.rt.Load(ctx, mf, env)
	if err != nil {
		return fmt.Errorf("load filter %s: %w", mf.Metadata.Name, err)
	}
	c.filters = append(c.filters, f)
	c.log.Info("filter loaded", slog.String("filter", mf.Metadata.Name), slog.String("version", mf.Metadata.Version))
	return nil
}

// Len reports the number of loaded filters.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.filters)
}

// Transform rewrites a transcript through every filter covering its
// stage. Module instances are not reentrant, so calls serialize.
func (c *Chain) Transform(ctx context.Context, t protocol.Transcript) (protocol.Transcript, error) {
	if c == nil || len(c.filters) == 0 || t.Text == "" {
		return t, nil
	}
	stage := "final"
	if t.Partial {
		stage = "partial"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.filters {
		if !f.Manifest.AppliesTo(stage) {
			continue
		}
		out, err := f.Apply(ctx, t.Text)
		if err != nil {
			return t, fmt.Errorf("filter %s: %w", f.Manifest.Metadata.Name, err)
		}
		t.Text = out
	}
	return t, nil
}

// Close releases every loaded module and the runtime.
func (c *Chain) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var firstErr error
	for _, f := range c.filters {
		if err := f.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.rt.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
