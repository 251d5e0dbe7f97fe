package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/dectpair/internal/device"
	"github.com/nextlevelbuilder/dectpair/internal/discovery"
	"github.com/nextlevelbuilder/dectpair/internal/gateway"
	"github.com/nextlevelbuilder/dectpair/internal/gateway/methods"
	"github.com/nextlevelbuilder/dectpair/pkg/protocol"
)

func simulateCmd(a *app) *cobra.Command {
	var (
		listen    string
		token     string
		delay     time.Duration
		battery   int
		rateLimit int
		advertise bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve a simulated dongle and headset as a device-session daemon",
		Long: `Run a WebSocket device-session daemon backed by simulated devices: a
DECT dongle, a headset and a speaker that is neither. Point
session.url at ws://<listen>/ws to use it from pair, devices and monitor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if token == "" {
				token = a.cfg.Session.Token
			}
			sim := device.NewSimulation(delay)
			sim.Battery = battery
			if advertise {
				ad, err := advertiseSimulation(listen)
				if err != nil {
					return err
				}
				defer ad.Shutdown()
			}
			return serveSimulation(ctx, sim, listen, gateway.Options{Token: token, RateLimitRPM: rateLimit})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:18790", "listen address")
	cmd.Flags().StringVar(&token, "token", "", "token clients must present (default session.token)")
	cmd.Flags().DurationVar(&delay, "delay", 2*time.Second, "time the dongle takes to report a linked headset")
	cmd.Flags().IntVar(&battery, "battery", 80, "battery level reported after pairing (0 makes verification fail)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per minute per connection (0 = unlimited)")
	cmd.Flags().BoolVar(&advertise, "advertise", false, "announce the daemon over mDNS for session.discover clients")
	return cmd
}

func advertiseSimulation(listen string) (discovery.Advertisement, error) {
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return nil, fmt.Errorf("listen address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return nil, fmt.Errorf("advertise needs a fixed port, got %q", portStr)
	}
	host, _ := os.Hostname()
	ad, err := discovery.Advertise("dectpair-sim-"+host, port, "/ws", protocol.ProtocolVersion)
	if err != nil {
		return nil, err
	}
	slog.Info("advertising simulator", "service", discovery.Service, "port", port)
	return ad, nil
}

func serveSimulation(ctx context.Context, sim *device.Simulation, addr string, opts gateway.Options) error {
	srv := gateway.NewServer(sim.Devices(), opts)
	methods.NewDeviceMethods(srv).Register(srv.Router())
	srv.Start()
	defer srv.Close()

	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	httpSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	fmt.Printf("Simulated device daemon listening on ws://%s/ws\n", addr)
	for _, d := range sim.Devices() {
		fmt.Printf("  %s  %s\n", d.Info().ID, d.Info().Name)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("simulator shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Close()
	return httpSrv.Shutdown(shutdownCtx)
}
