package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/dectpair/internal/bus"
	"github.com/nextlevelbuilder/dectpair/internal/config"
	"github.com/nextlevelbuilder/dectpair/internal/discovery"
	"github.com/nextlevelbuilder/dectpair/pkg/protocol"
)

func doctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, daemon reachability and terminal",
		Run: func(cmd *cobra.Command, args []string) {
			a.runDoctor(cmd.Context())
		},
	}
}

func (a *app) runDoctor(ctx context.Context) {
	fmt.Println("dectpair doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	fmt.Printf("  Config:   %s", a.cfgPath)
	if _, err := os.Stat(a.cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}
	fmt.Printf("  Log:      %s (%s)\n", a.level.Level(), a.cfg.Log.Format)
	fmt.Printf("  Confirm:  %s\n", a.cfg.ConfirmationTimeout())

	fmt.Println()
	fmt.Println("  Device daemon:")
	if a.cfg.Session.Discover {
		fmt.Printf("    %-12s mDNS %s (%s)\n", "URL:", discovery.Service, a.cfg.DiscoverTimeout())
	} else {
		fmt.Printf("    %-12s %s\n", "URL:", a.cfg.Session.URL)
	}
	fmt.Printf("    %-12s %s\n", "Token:", tokenSource(a.cfg.Session.Token))
	checkDaemon(ctx, a)

	fmt.Println()
	fmt.Println("  Terminal:")
	checkTerminal("stdin", os.Stdin)
	checkTerminal("stdout", os.Stdout)

	fmt.Println()
	fmt.Println("  Telemetry:")
	if a.cfg.Telemetry.Enabled {
		fmt.Printf("    %-12s %s (%s)\n", "OTLP:", a.cfg.Telemetry.Endpoint, a.cfg.Telemetry.Protocol)
	} else {
		fmt.Printf("    %-12s disabled\n", "OTLP:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkDaemon(ctx context.Context, a *app) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	c, err := a.dial(ctx)
	if err != nil {
		fmt.Printf("    %-12s UNREACHABLE (%v)\n", "Status:", err)
		return
	}
	defer c.Close()

	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		fmt.Printf("    %-12s ERROR (%v)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK (%s)\n", "Status:", time.Since(start).Round(time.Millisecond))

	devices, err := c.Devices(ctx)
	if err != nil {
		fmt.Printf("    %-12s ERROR (%v)\n", "Devices:", err)
		return
	}
	fmt.Printf("    %-12s %d attached\n", "Devices:", len(devices))
}

func tokenSource(tok string) string {
	if tok == "" {
		return "none"
	}
	if stored, err := config.StoredToken(); err == nil && stored == tok {
		return "set (keyring)"
	}
	return "set (config/env)"
}

func checkTerminal(name string, f *os.File) {
	if bus.Interactive(f) {
		fmt.Printf("    %-12s interactive\n", name+":")
	} else {
		fmt.Printf("    %-12s not a terminal (arrow-key selection unavailable)\n", name+":")
	}
}
