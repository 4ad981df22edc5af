// reachd is the controller daemon for a 2.5D pick-and-place arm: it owns
// the serial link to the arm, the calibration profile, and the command
// history, and exposes planning and operation execution over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/reach-arm/reachd/internal/api"
	"github.com/reach-arm/reachd/internal/calib"
	"github.com/reach-arm/reachd/internal/commandlog"
	"github.com/reach-arm/reachd/internal/feedback"
	"github.com/reach-arm/reachd/internal/transport"
	"github.com/reach-arm/reachd/internal/vision"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	serialPort = flag.String("port", "", "Serial port to open at startup (e.g. /dev/ttyUSB0)")
	calibPath  = flag.String("calibration", "calibration.json", "Calibration profile path")
	dbPath     = flag.String("db", "reach_commands.db", "Command log database path")
	visionURL  = flag.String("vision", "", "Base URL of the detection service")
	password   = flag.String("password", "", "Shared password required on mutating endpoints")
	reconnect  = flag.Bool("reconnect", false, "Reopen the serial port automatically if it drops")
	speak      = flag.Bool("speak", false, "Log spoken operation feedback")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	store := calib.NewFileStore(*calibPath)

	logDB, err := commandlog.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open command log database: %v", err)
	}
	defer logDB.Close()

	var source vision.Source
	if *visionURL != "" {
		source = vision.NewHTTPSource(*visionURL)
	}

	server := api.NewServer(store, logDB, source, *password)
	if *speak {
		server.SetFeedback(feedback.Logged{}, feedback.Logged{})
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *serialPort != "" {
		port, err := transport.Open(*serialPort)
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", *serialPort, err)
		}
		defer port.Close()
		server.AttachPort(port)

		if *reconnect {
			rc := &transport.Reconnector{
				PortName: *serialPort,
				OnOpen:   func(t *transport.SerialTransport) { server.AttachPort(t) },
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				rc.Run(ctx, port)
				log.Print("reconnect routine terminated")
			}()
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(server.ServeMux()),
		}

		go func() {
			log.Printf("🦾 reachd listening on %s", *listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Print("reachd stopped")
}
