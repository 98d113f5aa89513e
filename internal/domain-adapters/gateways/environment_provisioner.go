package gateways

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/gateways"
)

// BootFunc creates a ready environment
type BootFunc func(ctx context.Context) (gateways.Environment, error)

// NewBootFunc returns the boot function of the configured sandbox backend
func NewBootFunc(cfg entities.SandboxConfig) (BootFunc, error) {
	switch cfg.Backend {
	case "", entities.BackendLocal:
		return func(ctx context.Context) (gateways.Environment, error) {
			return BootLocalEnvironment(ctx, cfg)
		}, nil
	case entities.BackendBwrap:
		return func(ctx context.Context) (gateways.Environment, error) {
			return BootBwrapEnvironment(ctx, cfg)
		}, nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}

// EnvironmentProvisioner boots the environment on first use and hands the
// same instance to every later caller. At most one boot is in flight.
type EnvironmentProvisioner struct {
	boot   BootFunc
	logger interfaces.Logger
	group  singleflight.Group

	mu    sync.Mutex
	env   gateways.Environment
	state entities.EnvironmentState
}

// NewEnvironmentProvisioner creates a provisioner around a boot function
func NewEnvironmentProvisioner(boot BootFunc, logger interfaces.Logger) *EnvironmentProvisioner {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &EnvironmentProvisioner{
		boot:   boot,
		logger: logger,
		state:  entities.EnvironmentNotBooted,
	}
}

// Acquire returns the ready environment, booting it if none exists.
// Callers arriving during a boot share its outcome. A failed boot leaves
// no environment behind, so the next Acquire boots again.
func (p *EnvironmentProvisioner) Acquire(ctx context.Context) (gateways.Environment, error) {
	p.mu.Lock()
	if p.env != nil {
		env := p.env
		p.mu.Unlock()
		return env, nil
	}
	p.mu.Unlock()

	// The boot outlives any single caller so waiters are not failed by
	// whoever happened to start it.
	bootCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan("boot", func() (interface{}, error) {
		return p.bootOnce(bootCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(gateways.Environment), nil
	case <-ctx.Done():
		return nil, entities.NewEnvironmentBootFailed(ctx.Err())
	}
}

func (p *EnvironmentProvisioner) bootOnce(ctx context.Context) (gateways.Environment, error) {
	p.mu.Lock()
	if p.env != nil {
		env := p.env
		p.mu.Unlock()
		return env, nil
	}
	p.state = entities.EnvironmentBooting
	p.mu.Unlock()

	p.logger.Info("booting environment")
	env, err := p.boot(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = entities.EnvironmentBootFailed
		p.logger.Error("environment boot failed", interfaces.F("error", err))
		return nil, entities.NewEnvironmentBootFailed(err)
	}

	p.env = env
	p.state = entities.EnvironmentReady
	p.logger.Info("environment ready",
		interfaces.F("environment_id", env.ID()),
		interfaces.F("root", env.Root()))
	return env, nil
}

// State returns the environment readiness
func (p *EnvironmentProvisioner) State() entities.EnvironmentState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
