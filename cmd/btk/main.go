// Command btk runs behavior tree assets against independent knowledge
// containers and prints each agent's container after every tick, as JSON
// lines.
//
// Usage:
//
//	btk [flags] [tree.yaml]
//
// Settings come from the config file (see -config-help), overridden by
// BTK_* environment variables, overridden by flags.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/joeycumines/behavior-knowledge/internal/asset"
	"github.com/joeycumines/behavior-knowledge/internal/behavior"
	"github.com/joeycumines/behavior-knowledge/internal/config"
	"github.com/joeycumines/behavior-knowledge/internal/exprcache"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	bt "github.com/joeycumines/go-behaviortree"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// record is one output line.
type record struct {
	Agent     string              `json:"agent"`
	Tick      int                 `json:"tick"`
	Status    string              `json:"status"`
	State     string              `json:"state"`
	Error     string              `json:"error,omitempty"`
	Knowledge *knowledge.Snapshot `json:"knowledge"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("btk", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", "", "config file (default $BTK_CONFIG or ~/.behavior-knowledge/config)")
		treePath    = fs.String("tree", "", "tree asset YAML file")
		agents      = fs.Int("agents", 0, "number of agents sharing the tree")
		ticks       = fs.Int("ticks", 0, "ticks per agent, 0 to tick until the tree finishes")
		interval    = fs.Duration("interval", 0, "delay between ticks")
		loop        = fs.Bool("loop", false, "restart the tree when it finishes")
		logLevel    = fs.String("log-level", "", "log level: debug, info, warn, error")
		setOption   = fs.String("set", "", "write `[section.]key=value` to the config file and exit")
		configHelp  = fs.Bool("config-help", false, "describe the config options and exit")
		showVersion = fs.Bool("version", false, "print the version and exit")
	)
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "Usage: btk [flags] [tree.yaml]")
		_, _ = fmt.Fprintln(stderr, "\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *showVersion:
		_, _ = fmt.Fprintf(stdout, "btk version %s\n", version)
		return nil
	case *configHelp:
		_, _ = fmt.Fprint(stdout, config.DefaultSchema().FormatHelp())
		return nil
	}

	path := *configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}
	if *setOption != "" {
		return setConfigOption(path, *setOption)
	}

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("expected at most one tree file, got %d", fs.NArg())
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	// command line beats BTK_TREE and the file; -tree beats the argument
	if fs.NArg() == 1 {
		settings.Tree = fs.Arg(0)
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tree":
			settings.Tree = *treePath
		case "agents":
			settings.Agents = *agents
		case "ticks":
			settings.Ticks = *ticks
		case "interval":
			settings.Interval = *interval
		case "loop":
			settings.Loop = *loop
		case "log-level":
			if err := settings.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
				flagErr = errors.Join(flagErr, fmt.Errorf("-log-level: %w", err))
			}
		}
	})
	if flagErr != nil {
		return flagErr
	}
	if settings.Agents < 1 || settings.Ticks < 0 || settings.Interval <= 0 {
		return fmt.Errorf("invalid run settings: agents=%d ticks=%d interval=%s", settings.Agents, settings.Ticks, settings.Interval)
	}
	if settings.Tree == "" {
		fs.Usage()
		return errors.New("no tree asset given")
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: settings.LogLevel}))
	exprcache.SetSize(settings.ExprCacheSize)

	tree, err := asset.LoadFile(settings.Tree)
	if err != nil {
		return err
	}
	if err := tree.Compile(behavior.DefaultRegistry()); err != nil {
		return err
	}
	logger.Info("tree compiled",
		"tree", tree.Name(),
		"nodes", tree.NodeCount(),
		"memory", tree.InstanceMemorySize(),
		"blackboard", tree.BlackboardType().String())

	out := &recorder{enc: json.NewEncoder(stdout)}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := range settings.Agents {
		b := behavior.New(tree,
			behavior.WithLogger(logger),
			behavior.WithLoop(settings.Loop),
			behavior.WithName(fmt.Sprintf("agent-%d", i)))
		wg.Go(func() {
			if err := runAgent(ctx, b, settings.Ticks, settings.Interval, out); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

// runAgent ticks b until it finishes, ticks passes have run (when
// positive), or ctx is done. The container is always released on return.
func runAgent(ctx context.Context, b *behavior.Behavior, ticks int, interval time.Duration, out *recorder) error {
	if err := b.StartLogic(); err != nil {
		return err
	}
	defer b.StopLogic()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 1; ticks == 0 || n <= ticks; n++ {
		status, err := b.Tick()
		if errors.Is(err, behavior.ErrNotRunning) {
			return nil
		}
		res := b.Result()
		snap := res.Final
		if b.State() == behavior.StateRunning {
			s := b.Snapshot()
			snap = &s
		}
		if werr := out.write(record{
			Agent:     b.Name(),
			Tick:      res.Ticks,
			Status:    statusString(status),
			State:     b.State().String(),
			Error:     errString(err),
			Knowledge: snap,
		}); werr != nil {
			return werr
		}
		if err != nil {
			return err
		}
		if b.State() != behavior.StateRunning {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

type recorder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (r *recorder) write(rec record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(rec)
}

func statusString(s bt.Status) string {
	switch s {
	case bt.Running:
		return "running"
	case bt.Success:
		return "success"
	case bt.Failure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// setConfigOption handles -set: "key=value" for a global option or
// "section.key=value".
func setConfigOption(path, assignment string) error {
	name, value, ok := strings.Cut(assignment, "=")
	if !ok || name == "" {
		return fmt.Errorf("-set: expected [section.]key=value, got %q", assignment)
	}
	section, key, found := strings.Cut(name, ".")
	if !found {
		section, key = "", name
	}
	schema := config.DefaultSchema()
	if schema.Lookup(section, key) == nil {
		return fmt.Errorf("-set: unknown option %q", name)
	}
	c := config.NewConfig()
	c.SetOption(section, key, value)
	if issues := schema.Validate(c); len(issues) > 0 {
		return fmt.Errorf("-set: %s", strings.Join(issues, "; "))
	}
	return config.SetKeyInFile(path, section, key, value)
}
