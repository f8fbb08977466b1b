// Package main provides the EverMemoryArchive actor daemon: a single
// memory-backed AI actor reading user input lines from stdin and printing
// the structured replies it produces.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/actor"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/config"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/llm/openai"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/llm/retry"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/memory"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	userID := flag.Int64("user", 1, "user id")
	actorID := flag.Int64("actor", 1, "actor id")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ema v%s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	provider, err := openai.New(cfg.LLM.APIKey,
		openai.WithModel(cfg.LLM.Model),
		openai.WithBaseURL(orDefault(cfg.LLM.BaseURL, openai.DefaultBaseURL)),
		openai.WithRetry(retry.Config{
			Enabled:        cfg.LLM.Retry.Enabled,
			MaxAttempts:    cfg.LLM.Retry.MaxAttempts,
			InitialBackoff: cfg.LLM.Retry.InitialBackoff.Std(),
			MaxBackoff:     cfg.LLM.Retry.MaxBackoff.Std(),
		}),
	)
	if err != nil {
		log.Fatalf("create provider: %v", err)
	}

	db, err := memory.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer db.Close()

	worker := actor.NewWorker(
		provider,
		memory.NewBufferStore(db),
		memory.NewShortTermStore(db),
		memory.NewLongTermStore(db),
		actor.Config{
			UserID:       *userID,
			ActorID:      *actorID,
			Name:         cfg.Actor.Name,
			SystemPrompt: cfg.Actor.SystemPrompt,
			MaxSteps:     cfg.Actor.MaxSteps,
			TokenLimit:   cfg.Actor.TokenLimit,
		},
	)
	defer worker.Close()

	worker.Subscribe(func(snapshot *types.Snapshot) {
		for _, ev := range snapshot.Events {
			switch ev.Type {
			case types.EventTypeEmaReplyReceived:
				if payload, ok := ev.Content.(*types.EmaReplyPayload); ok {
					fmt.Printf("[%s/%s] %s\n",
						payload.Reply.Expression, payload.Reply.Action, payload.Reply.Response)
				}
			case types.EventTypeRunFinished:
				if result, ok := ev.Content.(*types.RunResult); ok && !result.OK {
					fmt.Fprintf(os.Stderr, "run failed: %s\n", result.Msg)
				}
			}
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		worker.Agent().Abort()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := worker.Work([]types.Content{types.NewTextContent(line)}); err != nil {
			fmt.Fprintf(os.Stderr, "input rejected: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read input: %v", err)
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
