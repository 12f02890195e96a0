package trace

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Config is the subset of the configuration surface the core needs
// directly. internal/config.Config is the full record produced by flag
// parsing and YAML; cmd/cctrace derives one of these from it.
type Config struct {
	SocketPath    string
	BatchSize     int
	TracePC       bool
	TraceReads    bool
	TraceWrites   bool
	TraceInstrs   bool
	TraceSyscalls bool
	TraceBranches bool
}

func (c Config) flags() FeatureFlags {
	var f FeatureFlags
	if c.TracePC {
		f |= FlagPC
	}
	if c.TraceReads || c.TraceWrites {
		f |= FlagMem
	}
	if c.TraceInstrs {
		f |= FlagInstrs
	}
	if c.TraceSyscalls {
		f |= FlagSyscalls
	}
	if c.TraceBranches {
		f |= FlagBranches
	}
	return f
}

// Context bundles every piece of process-wide state the handlers need
// (the configuration mask, the registry, the sender, the host, the
// logger) behind one owned value passed by reference to every handler,
// instead of free-standing package globals.
type Context struct {
	flags    FeatureFlags
	registry *registry
	sender   *Sender
	host     Host
	log      *slog.Logger

	loadEmitted atomic.Bool
}

// Init computes the configuration mask, allocates the registry mappings,
// and sets up the sender. It does not register hooks itself; the host
// contract is owned by whoever holds the real (or simulated) Host,
// typically the cgo adapter or internal/hostsim in this repo. The
// returned Context's WantsTranslation and WantsSyscalls report whether
// OnTranslate and OnSyscallEnter/OnSyscallReturn are live per the
// configured flags, so a caller can skip registering hooks for features
// that were never requested; OnExit is always live.
func Init(cfg Config, host Host, log *slog.Logger) (*Context, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("%w: socket path is required", ErrBadConfig)
	}
	if log == nil {
		log = slog.Default()
	}

	sender, err := SetupSender(cfg.SocketPath, cfg.BatchSize, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSenderSetup, err)
	}

	ctx := &Context{
		flags:    cfg.flags(),
		registry: newRegistry(),
		sender:   sender,
		host:     host,
		log:      log,
	}
	log.Info("trace: initialized", "flags", ctx.flags.String(), "socket", cfg.SocketPath)
	return ctx, nil
}

// Flags returns the immutable configuration mask computed at Init.
func (c *Context) Flags() FeatureFlags { return c.flags }

// WantsTranslation reports whether the caller must register the
// translation hook.
func (c *Context) WantsTranslation() bool { return c.flags.AnyPerInstruction() }

// WantsSyscalls reports whether the caller must register both syscall
// hooks.
func (c *Context) WantsSyscalls() bool { return c.flags.Has(FlagSyscalls) }

// instrRegistryLen and memRegistryLen expose registry occupancy for
// tests asserting the leak-bound property.
func (c *Context) instrRegistryLen() int { return c.registry.instrRegistryLen() }
func (c *Context) memRegistryLen() int   { return c.registry.memRegistryLen() }
