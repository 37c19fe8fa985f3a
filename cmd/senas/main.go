package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ayusman/senas/internal/app"
	"github.com/ayusman/senas/internal/capture"
	"github.com/ayusman/senas/internal/classifier"
	"github.com/ayusman/senas/internal/config"
	"github.com/ayusman/senas/internal/detector"
	"github.com/ayusman/senas/internal/server"
	"github.com/ayusman/senas/internal/store"
	"github.com/ayusman/senas/internal/training"
	"github.com/ayusman/senas/internal/tray"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to a YAML config file")
		addr         = flag.String("addr", "", "listen address (overrides config and "+config.EnvAddr+")")
		cameraID     = flag.Int("camera", -1, "camera device index (overrides config and "+config.EnvCamera+")")
		userID       = flag.String("user", "", "model to load at startup (overrides "+config.EnvUserID+")")
		debug        = flag.Bool("debug", false, "mount the debug pages under /debug/")
		requireModel = flag.Bool("require-model", false, "refuse to open the camera until a model is loaded")
		mockDetector = flag.Bool("mock-detector", false, "use a detector that never finds hands")
		withTray     = flag.Bool("tray", false, "show the system tray icon")
	)
	flag.Parse()

	fmt.Println("Senas - Sign Language Recognition")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *cameraID >= 0 {
		cfg.Camera.DeviceID = *cameraID
	}
	if *userID != "" {
		cfg.Models.DefaultUser = *userID
	}
	if *debug {
		cfg.Server.Debug = true
	}
	if *requireModel {
		cfg.Models.RequireModel = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	var st *store.Store
	if !cfg.Store.Disabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
			log.Printf("create store directory: %v", err)
		}
		st, err = store.New(cfg.Store.Path)
		if err != nil {
			log.Printf("store unavailable, gesture events will not be persisted: %v", err)
			st = nil
		} else {
			defer st.Close()
		}
	}

	labels, err := cfg.LabelSets()
	if err != nil {
		log.Fatalf("Invalid labels: %v", err)
	}

	registry := classifier.NewRegistry(classifier.NewArtifactStore(cfg.Models.Dir))

	camera := capture.NewCameraWithSize(cfg.Camera.DeviceID, cfg.Camera.Width, cfg.Camera.Height)
	if cfg.Camera.FPS > 0 {
		camera.SetFPS(cfg.Camera.FPS)
	}

	sess, err := app.New(app.Config{
		Camera:             camera,
		Manager:            cfg.Camera.Manager,
		Detector:           newDetector(cfg.Detector, *mockDetector),
		Registry:           registry,
		Labels:             labels,
		Stabilizer:         cfg.Stabilizer,
		Pipeline:           cfg.Pipeline,
		Store:              st,
		RequireModel:       cfg.Models.RequireModel,
		StreamWithoutModel: cfg.Models.StreamWithoutModel,
		DatasetDir:         cfg.Training.DatasetDir,
		EventRetention:     cfg.Store.Retention,
	})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess.Start(ctx)
	defer sess.Shutdown()

	if u := cfg.Models.DefaultUser; u != "" {
		if a, err := sess.LoadModel(u); err != nil {
			log.Printf("default model %s not loaded: %v", u, err)
		} else {
			log.Printf("loaded model for %s (%d classes)", a.UserID, a.Model.Classes())
		}
	}

	if cfg.Models.Watch {
		w, err := classifier.NewWatcher(registry, cfg.Models.WatchDelay)
		if err != nil {
			log.Printf("model watcher disabled: %v", err)
		} else {
			go w.Run(ctx)
		}
	}

	staticDir := cfg.Server.StaticDir
	if staticDir == "" {
		staticDir = findWebDir(cfg.DataDir)
	}
	if staticDir != "" {
		fmt.Printf("Serving static files from: %s\n", staticDir)
	}

	srv := server.New(server.Config{
		Session:   sess,
		Trainer:   training.NewRunner(cfg.Training, cfg.Models.Dir),
		StaticDir: staticDir,
		Debug:     cfg.Server.Debug,
	})
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		fmt.Printf("Starting server on %s\n", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server failed: %v", err)
		}
	}()

	if *withTray {
		t := newTray(sess, uiURL(cfg.Server.Addr), stop)
		go func() {
			select {
			case <-ctx.Done():
			case <-serverDone:
			}
			t.Quit()
		}()
		t.Run()
		stop()
	}

	select {
	case <-ctx.Done():
	case <-serverDone:
	}

	// Open MJPEG streams only end once the camera is released.
	sess.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	log.Println("stopped")
}

// newDetector returns the MediaPipe detector, or a mock that never sees a
// hand when the landmark service is unavailable.
func newDetector(cfg detector.Config, mock bool) detector.Detector {
	if mock {
		return detector.NewMockDetector()
	}
	d, err := detector.NewMediaPipeDetector(cfg)
	if err != nil {
		log.Printf("MediaPipe detector unavailable, streaming without recognition: %v", err)
		return detector.NewMockDetector()
	}
	return d
}

// newTray wires the menu to the session. Run must be called on the main goroutine.
func newTray(sess *app.Session, url string, quit func()) *tray.Tray {
	t := tray.New()
	t.OnToggleCamera(func(open bool) bool {
		if !open {
			sess.CloseCamera()
			return false
		}
		if err := sess.OpenCamera(); err != nil {
			log.Printf("tray: open camera: %v", err)
		}
		return sess.CameraActive()
	})
	t.OnOpenUI(func() {
		if err := openBrowser(url); err != nil {
			log.Printf("tray: open browser: %v", err)
		}
	})
	t.OnQuit(quit)

	events, unsubscribe := sess.Subscribe()
	go func() {
		defer unsubscribe()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				t.SetLastGesture(e.Label)
			case <-ticker.C:
				if active := sess.CameraActive(); active != t.CameraActive() {
					t.SetCameraActive(active)
				}
			}
		}
	}()
	return t
}

func uiURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

// findWebDir searches for the web client in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	dataWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(dataWebDir); err == nil && info.IsDir() {
		return dataWebDir
	}

	return ""
}
