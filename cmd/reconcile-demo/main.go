// reconcile-demo walks through the engine's lifecycle against a simulated
// server: optimistic apply, confirmation, a transient failure that retries,
// a version conflict with resolution, and a cancelled operation.
//
// Usage:
//
//	reconcile-demo [-config engine.yaml] [-journal demo.db]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	mutErrors "github.com/c0deZ3R0/go-mutation-kit/errors"
	"github.com/c0deZ3R0/go-mutation-kit/logging"
	"github.com/c0deZ3R0/go-mutation-kit/mutkit"
	"github.com/c0deZ3R0/go-mutation-kit/storage/sqlite"
)

// simulatedServer is the authority: it keeps its own copy of entity state,
// checks versions, and misbehaves on request.
type simulatedServer struct {
	mu       sync.Mutex
	entities map[mutkit.EntityID]mutkit.EntityState

	// failures is a countdown of transient errors to inject before the
	// next success.
	failures int
}

func newSimulatedServer() *simulatedServer {
	return &simulatedServer{entities: make(map[mutkit.EntityID]mutkit.EntityState)}
}

func (s *simulatedServer) put(id mutkit.EntityID, state mutkit.EntityState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[id] = state
}

func (s *simulatedServer) injectTransientFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *simulatedServer) Execute(ctx context.Context, op mutkit.Operation) mutkit.Outcome {
	time.Sleep(30 * time.Millisecond) // network latency

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return mutkit.Failed(mutErrors.NewTransient(mutErrors.OpExecute, errors.New("503 service unavailable")))
	}

	current := s.entities[op.EntityID]
	if current.Version != op.BaseVersion {
		return mutkit.Conflicted(current)
	}

	next := current.Clone()
	switch op.Kind {
	case mutkit.KindDelete:
		delete(s.entities, op.EntityID)
		return mutkit.Confirmed(mutkit.EntityState{Version: current.Version + 1, Deleted: true})
	case mutkit.KindCreate:
		next = mutkit.EntityState{}
		next.ApplyPatch(op.ForwardPatch)
	default:
		next.ApplyPatch(op.ForwardPatch)
	}
	next.Version = current.Version + 1
	s.entities[op.EntityID] = next
	return mutkit.Confirmed(next)
}

func main() {
	configPath := flag.String("config", "", "optional engine config file (yaml or json)")
	journalPath := flag.String("journal", "", "optional sqlite journal path")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "text", Environment: "dev"})
	logger := logging.Default()

	cfg := mutkit.DefaultEngineConfig()
	if *configPath != "" {
		loaded, err := mutkit.LoadConfigFile(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}

	server := newSimulatedServer()

	opts := append(cfg.Options(),
		mutkit.WithExecutor(server),
		mutkit.WithLogger(logger.Logger),
	)
	if *journalPath != "" {
		j, err := sqlite.NewWithDataSource(*journalPath)
		if err != nil {
			log.Fatalf("journal: %v", err)
		}
		opts = append(opts, mutkit.WithJournal(j))
	}

	engine, err := mutkit.NewEngine(opts...)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer engine.Close()

	engine.SubscribeAll(func(ev mutkit.ChangeEvent) {
		fmt.Printf("  [event] %-11s entity=%s fields=%v version=%d\n",
			ev.Reason, ev.EntityID, ev.State.Fields, ev.State.Version)
	})

	ctx := context.Background()
	const article = mutkit.EntityID("article-1")

	fmt.Println("=== 1. Seed and a clean confirmation ===")
	server.put(article, mutkit.EntityState{Fields: map[string]any{"title": "Hello"}, Version: 1})
	if err := engine.Seed(article, mutkit.EntityState{Fields: map[string]any{"title": "Hello"}, Version: 1}); err != nil {
		log.Fatalf("seed: %v", err)
	}

	_, results, err := engine.Submit(ctx, article, mutkit.KindUpdate, mutkit.Patch{"title": "Hello, world"})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	res := <-results
	fmt.Printf("  settled: %s version=%d\n\n", res.Status, res.State.Version)

	fmt.Println("=== 2. Transient failure, retried to success ===")
	server.injectTransientFailures(1)
	_, results, err = engine.Submit(ctx, article, mutkit.KindUpdate, mutkit.Patch{"body": "First post."})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	res = <-results
	fmt.Printf("  settled: %s version=%d\n\n", res.Status, res.State.Version)

	fmt.Println("=== 3. Conflict: the server moved on behind our back ===")
	// Another client edits directly on the server, bumping its version.
	server.put(article, mutkit.EntityState{
		Fields:  map[string]any{"title": "Hello, world", "body": "Edited elsewhere."},
		Version: 9,
	})

	opID, results, err := engine.Submit(ctx, article, mutkit.KindUpdate, mutkit.Patch{"body": "My local edit."})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}

	// Wait for the conflict to surface, then keep our local patch.
	for {
		if _, ok := engine.Conflict(opID); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	crec, _ := engine.Conflict(opID)
	fmt.Printf("  conflict: local=%v remote_version=%d\n", crec.LocalPatch, crec.RemoteState.Version)

	if err := engine.Resolve(ctx, opID, mutkit.KeepLocal()); err != nil {
		log.Fatalf("resolve: %v", err)
	}
	res = <-results
	fmt.Printf("  settled after keep_local: %s version=%d\n\n", res.Status, res.State.Version)

	fmt.Println("=== 4. Cancel before the server answers ===")
	server.injectTransientFailures(3) // keep the executor busy retrying
	cancelID, results, err := engine.Submit(ctx, article, mutkit.KindUpdate, mutkit.Patch{"title": "Never mind"})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := engine.Cancel(cancelID); err != nil {
		log.Fatalf("cancel: %v", err)
	}
	res = <-results
	fmt.Printf("  settled: %s\n\n", res.Status)
	server.injectTransientFailures(0)

	fmt.Println("=== 5. Final state ===")
	state, ok := engine.Project(article)
	fmt.Printf("  projected: ok=%v fields=%v version=%d pending=%d\n",
		ok, state.Fields, state.Version, engine.PendingCount(article))
}
