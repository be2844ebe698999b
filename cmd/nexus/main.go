// Command nexus ingests documents into the knowledge graph from the shell.
//
// Usage:
//
//	nexus [-config nexus.yaml] ingest <file>...
//	nexus [-config nexus.yaml] stats
//	nexus [-config nexus.yaml] checksums
//	nexus [-config nexus.yaml] delete-checksum <fingerprint>
//	nexus [-config nexus.yaml] reviews [open|accepted|dismissed]
//	nexus [-config nexus.yaml] resolve <review-id> accept|dismiss
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/brunobiangulo/nexus"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	concurrency := flag.Int("concurrency", 0, "Chunks extracted in parallel (overrides config)")
	cascade := flag.Bool("cascade", false, "Cascade deletions to dependents")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := nexus.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nexus:", err)
		os.Exit(1)
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *cascade {
		cfg.Conflicts.CascadeDelete = true
	}

	logger, err := nexus.NewLogger(cfg.Log.Level, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, "nexus:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := nexus.New(cfg, nexus.WithLogger(logger))
	if err != nil {
		logger.Fatal("creating engine", zap.Error(err))
	}
	defer engine.Close()

	if err := run(ctx, engine, os.Stdout, flag.Args()); err != nil {
		logger.Error("command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		engine.Close()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: nexus [flags] <command> [args]

Commands:
  ingest <file>...              parse, extract and consolidate documents
  stats                         print graph and ledger counts
  checksums                     list recorded fingerprints
  delete-checksum <fp>          forget a fingerprint (see -cascade)
  reviews [status]              list review queue items
  resolve <id> accept|dismiss   close a review item

Flags:
`)
	flag.PrintDefaults()
}

// run executes one command and writes its JSON result to out.
func run(ctx context.Context, e nexus.Engine, out io.Writer, args []string) error {
	cmd, rest := args[0], args[1:]
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch cmd {
	case "ingest":
		if len(rest) == 0 {
			return fmt.Errorf("ingest needs at least one file")
		}
		var failed int
		for _, path := range rest {
			rep, err := e.Ingest(ctx, path)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				failed++
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				continue
			}
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if rep.ChunksFailed > 0 {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents did not complete", failed, len(rest))
		}
		return nil

	case "stats":
		stats, err := e.Stats(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(stats)

	case "checksums":
		list, err := e.Checksums(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(list)

	case "delete-checksum":
		if len(rest) != 1 {
			return fmt.Errorf("delete-checksum needs exactly one fingerprint")
		}
		res, err := e.DeleteChecksum(ctx, rest[0])
		if err != nil {
			return err
		}
		return enc.Encode(res)

	case "reviews":
		status := ""
		if len(rest) > 0 {
			status = rest[0]
		}
		items, err := e.Reviews(ctx, status)
		if err != nil {
			return err
		}
		return enc.Encode(items)

	case "resolve":
		if len(rest) != 2 {
			return fmt.Errorf("resolve needs a review id and an action")
		}
		return e.ResolveReview(ctx, rest[0], rest[1])

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
