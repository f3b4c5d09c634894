package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/mpxgo/mpx"
	"github.com/mpxgo/mpx/internal/eventbus"
	"github.com/mpxgo/mpx/internal/launchcfg"
	"github.com/mpxgo/mpx/internal/localrt"
	"github.com/mpxgo/mpx/internal/otel"
)

const rootUsage = `mpxrun — local process launcher for mpx programs

USAGE:
  mpxrun <command> [flags]

COMMANDS:
  run     Spawn N copies of an executable
  grid    Spawn the task grid described by an HCL file
  env     Print this process's runtime environment
  help    Show help for any command
`

const runUsage = `run FLAGS:
  mpxrun run [flags] <executable> [args...]

  -n <count>            Number of processes to spawn (default: 1)
  -root <rank>          Root rank of the spawn call (default: 0)
  -wdir <dir>           Working directory for spawned processes
  -info <key=value>     Launch info entry. Repeatable
  -errcodes             Request per-process error codes and report failures
  -universe <count>     Override the universe size
  -otel.endpoint <addr> OTLP collector endpoint
  -otel.service <name>  OpenTelemetry service name (default: mpxrun)
`

const gridUsage = `grid FLAGS:
  mpxrun grid [flags] <file.hcl>

  -errcodes             Request per-process error codes and report failures
  -otel.endpoint <addr> OTLP collector endpoint
  -otel.service <name>  OpenTelemetry service name (default: mpxrun)

  The grid file holds an optional universe_size attribute and one or more
  task blocks:

    universe_size = 8
    task "worker" {
      maxprocs = 4
      argv     = ["--shard", env.SHARD]
      wdir     = "/tmp"
      info     = { soft = "1:4" }
    }
`

const envUsage = `env FLAGS:
  mpxrun env

  Initializes a session and prints rank, world size, universe size,
  processor name and every entry of the environment info map. Useful as a
  spawn target when debugging launch configurations.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("mpxrun", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "run":
		return cmdRun(cmdArgs)
	case "grid":
		return cmdGrid(cmdArgs)
	case "env":
		return cmdEnv(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "run":
		fmt.Print(runUsage)
	case "grid":
		fmt.Print(gridUsage)
	case "env":
		fmt.Print(envUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type infoFlag []mpx.Pair

func (f *infoFlag) String() string { return "" }

func (f *infoFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("invalid info entry %q", v)
	}
	*f = append(*f, mpx.Pair{Key: key, Value: value})
	return nil
}

func cmdRun(args []string) error {
	n := 1
	root := 0
	wdir := ""
	errcodes := false
	universe := 0
	otelEndpoint := ""
	otelService := "mpxrun"
	var infos infoFlag

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.IntVar(&n, "n", n, "Number of processes to spawn")
	fs.IntVar(&root, "root", root, "Root rank of the spawn call")
	fs.StringVar(&wdir, "wdir", wdir, "Working directory for spawned processes")
	fs.Var(&infos, "info", "Launch info entry")
	fs.BoolVar(&errcodes, "errcodes", errcodes, "Request per-process error codes")
	fs.IntVar(&universe, "universe", universe, "Override the universe size")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, runUsage)
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(os.Stderr, runUsage)
		return fmt.Errorf("missing executable")
	}

	ctx := context.Background()
	sess, shutdown, err := startSession(ctx, universe, otelEndpoint, otelService)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()
	defer func() { _ = sess.Finalize(context.Background()) }()

	sp := mpx.NewSingleSpawner(rest[0], n).
		SetRoot(root).
		SetWantErrcodes(errcodes)
	for _, a := range rest[1:] {
		sp.AddArgv(a)
	}
	if wdir != "" || len(infos) > 0 {
		m := mpx.NewInfoMap()
		if wdir != "" {
			m.Put("wdir", wdir)
		}
		for _, p := range infos {
			m.Put(p.Key, p.Value)
		}
		sp.SetSpawnInfo(m)
	}

	res, err := sp.Spawn(ctx)
	if err != nil {
		return err
	}
	return report(res, rest[0], errcodes)
}

func cmdGrid(args []string) error {
	errcodes := false
	otelEndpoint := ""
	otelService := "mpxrun"

	fs := flag.NewFlagSet("grid", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.BoolVar(&errcodes, "errcodes", errcodes, "Request per-process error codes")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, gridUsage)
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprint(os.Stderr, gridUsage)
		return fmt.Errorf("expected exactly one grid file")
	}

	cfg, err := launchcfg.Load(rest[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	sess, shutdown, err := startSession(ctx, cfg.UniverseSize, otelEndpoint, otelService)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()
	defer func() { _ = sess.Finalize(context.Background()) }()

	tasks := make([]mpx.Task, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		tasks[i] = mpx.Task{Command: t.Command, MaxProcs: t.MaxProcs}
	}
	ms := mpx.NewMultiSpawner(tasks...).SetWantErrcodes(errcodes)
	for i, t := range cfg.Tasks {
		if len(t.Argv) > 0 {
			argv := make([]any, len(t.Argv))
			for j, a := range t.Argv {
				argv[j] = a
			}
			if err := ms.AddArgvAt(i, argv...); err != nil {
				return err
			}
		}
		if t.Wdir == "" && len(t.Info) == 0 {
			continue
		}
		m := mpx.NewInfoMap()
		if t.Wdir != "" {
			m.Put("wdir", t.Wdir)
		}
		for _, k := range slices.Sorted(maps.Keys(t.Info)) {
			m.Put(k, t.Info[k])
		}
		if err := ms.SetSpawnInfoAt(i, m); err != nil {
			return err
		}
	}

	res, err := ms.Spawn(ctx)
	if err != nil {
		return err
	}
	return report(res, rest[0], errcodes)
}

func cmdEnv(args []string) error {
	fs := flag.NewFlagSet("env", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, envUsage)
		return err
	}

	ctx := context.Background()
	eventbus.Use(eventbus.New())
	sess, err := mpx.Init(ctx, mpx.ThreadMultiple)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Finalize(context.Background()) }()

	world := sess.World()
	name, err := sess.ProcessorName()
	if err != nil {
		return err
	}
	size, known := sess.UniverseSize()
	fmt.Printf("rank           %d\n", world.Rank())
	fmt.Printf("world_size     %d\n", world.Size())
	if known {
		fmt.Printf("universe_size  %d\n", size)
	}
	fmt.Printf("processor      %s\n", name)
	fmt.Printf("thread_support %s\n", sess.ThreadSupport())
	for k, v := range mpx.InfoEnv().All() {
		fmt.Printf("env.%-11s %s\n", k, v)
	}
	return nil
}

// startSession wires the event bus and telemetry, then opens a session on
// a local runtime.
func startSession(ctx context.Context, universe int, otelEndpoint, otelService string) (*mpx.Session, func(context.Context) error, error) {
	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return nil, nil, fmt.Errorf("otel setup: %w", err)
	}
	var rtOpts []localrt.Option
	if universe > 0 {
		rtOpts = append(rtOpts, localrt.WithUniverseSize(universe))
	}
	sess, err := mpx.Init(ctx, mpx.ThreadMultiple, mpx.WithRuntime(localrt.New(rtOpts...)))
	if err != nil {
		_ = shutdown(context.Background())
		return nil, nil, err
	}
	return sess, shutdown, nil
}

func report(res *mpx.SpawnResult, what string, errcodes bool) error {
	if errcodes && !res.MaxProcsSpawned() {
		res.PrintErrorsTo(os.Stderr)
		return fmt.Errorf("spawned %d process(es) of %s, some failed to start", res.NumSpawned(), what)
	}
	log.Printf("spawned %d process(es) of %s", res.NumSpawned(), what)
	return nil
}
