// registryctl is the operator CLI for a Gray Logic registry.
//
// It works directly on the document store, so it can run beside the daemon
// (documents are locked per operation) or against a stopped installation:
//
//	registryctl --dir /var/lib/graylogic/registry init
//	registryctl --dir /var/lib/graylogic/registry issue --level 2
//	registryctl devices
//	registryctl props set <token> room '"kitchen"'
//
// Without --dir the storage settings come from the daemon's config file
// (--config, GRAYLOGIC_CONFIG, or configs/config.yaml).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-registry/internal/registry"
	"github.com/nerrad567/gray-logic-registry/internal/store"
)

// version is set at build time via ldflags.
var version = "dev"

const defaultConfigPath = "configs/config.yaml"

// errUsage marks errors caused by bad invocation; main exits 2 for them.
var errUsage = errors.New("usage")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// globalOptions are the flags accepted before the subcommand.
type globalOptions struct {
	configPath string
	dir        string
	jsonOutput bool
	reveal     bool
	verbose    bool
}

// env is what every subcommand runs against.
type env struct {
	hub    *registry.Hub
	out    io.Writer
	errOut io.Writer
	json   bool
	reveal bool
}

// command is one registryctl subcommand.
type command struct {
	name    string
	args    string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

func commands() []command {
	return []command{
		{"init", "", "create any missing documents", runInit},
		{"issue", "[--id ID] [--level N]", "issue a pending token", runIssue},
		{"tokens", "", "list pending tokens", runTokens},
		{"promote", "--token T --name N --kind app|web [--ip IP] [--connection C] [--level N]", "promote a pending token to a device", runPromote},
		{"devices", "", "list devices", runDevices},
		{"remove", "TOKEN", "remove a device with its properties and instants", runRemove},
		{"props", "get TOKEN KEY | set TOKEN KEY JSON | all TOKEN | find KEY", "read and write device properties", runProps},
		{"instants", "scan [--recipient T] [--type T] | delete RECIPIENT TYPE", "inspect the instant channel", runInstants},
		{"sweep", "", "apply the liveness rule to every device and purge expired tokens", runSweep},
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts globalOptions

	flagSet := pflag.NewFlagSet("registryctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&opts.configPath, "config", "", "daemon config file (default: $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")
	flagSet.StringVar(&opts.dir, "dir", "", "document directory; bypasses the config file and uses the file backend")
	flagSet.BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")
	flagSet.BoolVar(&opts.reveal, "reveal", false, "print raw tokens instead of fingerprints")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log document access to stderr")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return fmt.Errorf("%w: missing command", errUsage)
	}

	var cmd *command
	for _, c := range commands() {
		if c.name == rest[0] {
			cmd = &c
			break
		}
	}
	if cmd == nil {
		return fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	hub, closeHub, err := openHub(ctx, cfg, opts.verbose)
	if err != nil {
		return err
	}
	defer closeHub()

	return cmd.run(ctx, &env{
		hub:    hub,
		out:    stdout,
		errOut: stderr,
		json:   opts.jsonOutput,
		reveal: opts.reveal,
	}, rest[1:])
}

// loadConfig returns defaults pointed at --dir, or the daemon's config file.
func loadConfig(opts globalOptions) (*config.Config, error) {
	if opts.dir != "" {
		cfg := config.Default()
		cfg.Storage.Backend = config.BackendFile
		cfg.Storage.Directory = opts.dir
		return cfg, nil
	}

	path := opts.configPath
	if path == "" {
		path = os.Getenv("GRAYLOGIC_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func openHub(ctx context.Context, cfg *config.Config, verbose bool) (*registry.Hub, func(), error) {
	backend, release, err := registry.OpenBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	cached, err := store.ParseNames(cfg.Registry.CachedDocuments)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("registry.cached_documents: %w", err)
	}

	st, err := store.New(backend, store.Options{Cached: cached})
	if err != nil {
		backend.Close()
		release()
		return nil, nil, fmt.Errorf("creating document store: %w", err)
	}

	hub := registry.New(st, registry.Options{
		TokenTTL:    cfg.GetTokenTTL(),
		StaleAfter:  cfg.GetStaleAfter(),
		MasterToken: cfg.Security.MasterToken,
	})

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := logging.New(config.LoggingConfig{Level: level, Format: "text", Output: "stderr"}, version)
	hub.SetLogger(logger)

	// Missing documents are reported, not created, except by "init".
	return hub, func() {
		st.Close()
		release()
		logger.Close()
	}, nil
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "registryctl: operate on a Gray Logic registry\n\n")
	fmt.Fprintf(w, "Usage: registryctl [flags] <command> [args]\n\nCommands:\n")

	cmds := commands()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].name < cmds[j].name })
	for _, c := range cmds {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
		if c.args != "" {
			fmt.Fprintf(w, "  %-9s   %s %s\n", "", c.name, c.args)
		}
	}
	fmt.Fprintf(w, "\nFlags:\n%s", flagSet.FlagUsages())
}

// usageError formats a subcommand usage failure.
func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, strings.TrimSpace(fmt.Sprintf(format, args...)))
}
