// Command rulesd serves the chess rules service on its own: POST
// /validate_and_predict over HTTP plus a gRPC health endpoint that reports
// whether the engine is still answering.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/boardwatch/internal/api"
	"github.com/banshee-data/boardwatch/internal/engine"
	"github.com/banshee-data/boardwatch/internal/rules"
	"github.com/banshee-data/boardwatch/internal/timeutil"
	"github.com/banshee-data/boardwatch/internal/version"
)

var (
	listen       = flag.String("listen", ":8090", "HTTP listen address")
	grpcListen   = flag.String("grpc-listen", ":8091", "gRPC health listen address; empty disables it")
	enginePath   = flag.String("engine", "", "UCI engine binary; empty plays the first legal move")
	moveTime     = flag.Duration("movetime", 500*time.Millisecond, "Engine search time per move")
	depth        = flag.Int("depth", 0, "Engine search depth, 0 for unlimited")
	probeEvery   = flag.Duration("probe-interval", 30*time.Second, "Health probe interval")
	probeTimeout = flag.Duration("probe-timeout", 5*time.Second, "Health probe timeout")
)

// moverFromFlags starts the engine when a path is given. The close func is
// never nil.
func moverFromFlags(path string, opts engine.Options) (rules.Mover, func(), error) {
	if path == "" {
		log.Printf("no engine configured, replies are the first legal move")
		return engine.FirstLegal{}, func() {}, nil
	}
	eng, err := engine.New(path, opts)
	if err != nil {
		return nil, nil, err
	}
	return eng, func() { eng.Close() }, nil
}

func newMux(svc *rules.Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(rules.ValidatePath, svc.Handler())
	return mux
}

func main() {
	flag.Parse()
	log.Printf("rulesd %s", version.String())

	mover, closeMover, err := moverFromFlags(*enginePath, engine.Options{MoveTime: *moveTime, Depth: *depth})
	if err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}
	defer closeMover()
	svc := rules.NewService(mover)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *grpcListen != "" {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			log.Fatalf("failed to listen on %s: %v", *grpcListen, err)
		}
		health := rules.NewHealth(svc, *probeTimeout)
		gs := grpc.NewServer()
		health.Register(gs)

		wg.Add(1)
		go func() {
			defer wg.Done()
			health.Run(ctx, timeutil.RealClock{}, *probeEvery)
			gs.GracefulStop()
			log.Print("gRPC health routine terminated")
		}()
		go func() {
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Printf("gRPC server error: %v", err)
				stop()
			}
		}()
		log.Printf("gRPC health listening on %s", *grpcListen)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(newMux(svc)),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
