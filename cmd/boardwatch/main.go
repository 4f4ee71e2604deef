package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/boardwatch/internal/api"
	"github.com/banshee-data/boardwatch/internal/config"
	"github.com/banshee-data/boardwatch/internal/db"
	"github.com/banshee-data/boardwatch/internal/engine"
	"github.com/banshee-data/boardwatch/internal/feedback"
	"github.com/banshee-data/boardwatch/internal/motion"
	"github.com/banshee-data/boardwatch/internal/orchestrator"
	"github.com/banshee-data/boardwatch/internal/rules"
	"github.com/banshee-data/boardwatch/internal/sensor"
	"github.com/banshee-data/boardwatch/internal/serialmux"
	"github.com/banshee-data/boardwatch/internal/tracker"
	"github.com/banshee-data/boardwatch/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode (emulated arm, fixture sensor)")
	listen     = flag.String("listen", ":8080", "Listen address")
	port       = flag.String("port", "/dev/ttyUSB0", "Servo controller serial port (ignored in dev mode)")
	baud       = flag.Int("baud", serialmux.DefaultBaudRate, "Servo controller baud rate")
	framing    = flag.String("framing", "8N1", "Servo controller data bits, parity and stop bits")
	noArm      = flag.Bool("no-arm", false, "Run without an arm; the player makes the robot's moves")
	cameraURL  = flag.String("camera-url", "", "HTTP snapshot URL of the board camera")
	images     = flag.String("images", "", "Comma-separated still frames to cycle through instead of a camera")
	fixtures   = flag.String("fixtures", "", "Occupancy fixture file to replay instead of a camera")
	rulesURL   = flag.String("rules-url", "", "Base URL of the rules service; empty runs it in-process")
	rulesGRPC  = flag.String("rules-health", "", "gRPC health address of the remote rules service to wait for")
	enginePath = flag.String("engine", "", "UCI engine binary for the in-process rules service")
	dbPath     = flag.String("db", "boardwatch.db", "SQLite database path; empty disables persistence")
	configPath = flag.String("config", config.DefaultConfigPath, "Tuning config JSON")
	espeak     = flag.Bool("espeak", false, "Speak feedback through espeak as well as the log")
)

const devFixtures = "fixtures/dev_game.txt"

// sensorFromFlags picks the occupancy source: fixtures, then still frames,
// then a live camera. Dev mode falls back to the bundled fixtures.
func sensorFromFlags(cfg *config.TuningConfig, fixturePath, imagePaths, url string, dev bool) (sensor.Sensor, error) {
	if fixturePath == "" && imagePaths == "" && url == "" && dev {
		fixturePath = devFixtures
	}
	detector := sensor.Detector{Threshold: cfg.GetBrightnessThreshold()}
	switch {
	case fixturePath != "":
		grids, err := sensor.LoadFixtures(fixturePath)
		if err != nil {
			return nil, err
		}
		log.Printf("replaying %d fixture grids from %s", len(grids), fixturePath)
		return sensor.NewReplay(grids, false), nil
	case imagePaths != "":
		return sensor.NewImageFiles(strings.Split(imagePaths, ","), detector), nil
	case url != "":
		return sensor.NewCamera(url, nil, detector), nil
	default:
		return nil, errors.New("one of -camera-url, -images or -fixtures is required outside dev mode")
	}
}

// rulesFromFlags returns a remote client, or an in-process service backed by
// the engine when one is given. The returned close func is never nil.
func rulesFromFlags(url, enginePath string, timeout time.Duration) (orchestrator.Rules, func(), error) {
	if url != "" {
		return rules.NewClient(url, nil, timeout), func() {}, nil
	}
	if enginePath == "" {
		log.Printf("no engine configured, replies are the first legal move")
		return rules.NewService(engine.FirstLegal{}), func() {}, nil
	}
	eng, err := engine.New(enginePath, engine.Options{})
	if err != nil {
		return nil, nil, err
	}
	return rules.NewService(eng), func() { eng.Close() }, nil
}

// waitForRules blocks until the remote rules service reports SERVING.
func waitForRules(ctx context.Context, addr string, timeout time.Duration) error {
	conn, err := rules.DialHealth(addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return rules.WaitForHealth(ctx, conn)
}

func speakerFromFlags(useEspeak bool) feedback.Speaker {
	if useEspeak {
		return feedback.Multi{feedback.LogSpeaker{}, feedback.Espeak{}}
	}
	return feedback.LogSpeaker{}
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("boardwatch %s", version.String())

	cfg, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Printf("using built-in tuning defaults: %v", err)
		cfg = config.DefaultTuningConfig()
	}

	var servo serialmux.SerialMuxInterface
	switch {
	case *devMode:
		servo = serialmux.NewEmulatedSerialMux()
	case *noArm:
		servo = serialmux.NewDisabledSerialMux()
	default:
		portOpts, err := serialmux.PortOptions{BaudRate: *baud}.ParseFraming(*framing)
		if err != nil {
			log.Fatalf("bad -framing: %v", err)
		}
		log.Printf("opening servo controller on %s at %s", *port, portOpts)
		servo, err = serialmux.NewRealSerialMux(*port, portOpts)
		if err != nil {
			log.Fatalf("failed to open servo controller: %v", err)
		}
	}
	defer servo.Close()

	if err := servo.Initialize(); err != nil {
		log.Fatalf("failed to initialize servo controller: %v", err)
	}

	sens, err := sensorFromFlags(cfg, *fixtures, *images, *cameraURL, *devMode)
	if err != nil {
		log.Fatalf("failed to set up sensor: %v", err)
	}

	judge, closeRules, err := rulesFromFlags(*rulesURL, *enginePath, cfg.GetRulesTimeout())
	if err != nil {
		log.Fatalf("failed to set up rules service: %v", err)
	}
	defer closeRules()
	if *rulesGRPC != "" {
		if err := waitForRules(context.Background(), *rulesGRPC, 30*time.Second); err != nil {
			log.Fatalf("rules service not ready: %v", err)
		}
	}

	tr, err := tracker.New(tracker.ConfigFromTuning(cfg), rules.Oracle{})
	if err != nil {
		log.Fatalf("failed to create tracker: %v", err)
	}

	deps := orchestrator.Deps{
		Tracker: tr,
		Sensor:  sens,
		Rules:   judge,
		Speaker: speakerFromFlags(*espeak),
	}
	if !*noArm {
		deps.Arm = motion.NewArm(servo, motion.SettingsFromTuning(cfg), nil)
	}

	var store *db.DB
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()
		deps.Store = store
	}

	orch, err := orchestrator.New(deps, orchestrator.SettingsFromTuning(cfg))
	if err != nil {
		log.Fatalf("failed to create orchestrator: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// fold controller replies into the state shown on /api/status; subscribe
	// before Monitor starts so the version reply is not missed
	device := &serialmux.DeviceState{}
	replyID, replies := servo.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer servo.Unsubscribe(replyID)
		for {
			select {
			case payload, ok := <-replies:
				if !ok {
					return
				}
				device.HandleReply(payload, time.Now())
			case <-ctx.Done():
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := servo.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("orchestrator stopped: %v", err)
		}
		log.Print("orchestrator routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		opts := []api.Option{api.WithSerial(servo, device)}
		if store != nil {
			opts = append(opts, api.WithHistory(store), api.WithAdminDB(store))
		}
		mux, err := api.NewServer(orch, opts...).ServeMux()
		if err != nil {
			log.Printf("failed to build routes: %v", err)
			stop()
			return
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
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
