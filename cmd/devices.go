package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/dectpair/internal/device"
	"github.com/nextlevelbuilder/dectpair/internal/probe"
)

// deviceRow is one line of `dectpair devices`. Headset is only known when
// headsets were probed.
type deviceRow struct {
	device.Info `yaml:",inline"`
	Dongle      bool  `json:"dongle" yaml:"dongle"`
	Headset     *bool `json:"headset,omitempty" yaml:"headset,omitempty"`
}

func devicesCmd(a *app) *cobra.Command {
	var (
		output        string
		filter        string
		probeHeadsets bool
		simulate      bool
		yes           bool
	)
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List attached devices and their DECT roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q (table, json, yaml)", output)
			}

			ctx := cmd.Context()
			devices, closeDevices, err := a.openDevices(ctx, simulate)
			if err != nil {
				return err
			}
			defer closeDevices()

			if devices, err = filterDevices(devices, filter); err != nil {
				return err
			}

			if probeHeadsets && !simulate && a.cfg.Pairing.ConfirmProbe && !yes {
				ok, err := promptConfirm("Probe devices for headset capability?",
					"Probing writes a neutral pairing key to every device that is not a dongle.", false)
				if err != nil || !ok {
					fmt.Println("Cancelled.")
					return nil
				}
			}

			rows := a.classify(ctx, devices, probeHeadsets)
			return writeDevices(os.Stdout, rows, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	cmd.Flags().StringVar(&filter, "filter", "", "CEL expression over id, name, vendor, serial, product")
	cmd.Flags().BoolVar(&probeHeadsets, "probe-headsets", false, "also detect headsets (writes a pairing key to each candidate)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "list simulated devices")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask before probing")
	return cmd
}

func (a *app) classify(ctx context.Context, devices []device.Device, probeHeadsets bool) []deviceRow {
	p := probe.NewProber(a.cfg.Probe.CacheSize, a.cfg.Probe.Concurrency)

	dongleSet := make(map[string]bool)
	headsetSet := make(map[string]bool)
	if probeHeadsets {
		dongles, headsets := p.Classify(ctx, devices)
		for _, d := range dongles {
			dongleSet[d.Info().ID] = true
		}
		for _, h := range headsets {
			headsetSet[h.Info().ID] = true
		}
	} else {
		for _, d := range p.Dongles(ctx, devices) {
			dongleSet[d.Info().ID] = true
		}
	}

	rows := make([]deviceRow, 0, len(devices))
	for _, d := range devices {
		info := d.Info()
		row := deviceRow{Info: info, Dongle: dongleSet[info.ID]}
		if probeHeadsets {
			isHeadset := headsetSet[info.ID]
			row.Headset = &isHeadset
		}
		rows = append(rows, row)
	}
	return rows
}

func writeDevices(w io.Writer, rows []deviceRow, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "No devices attached.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSERIAL\tVENDOR\tDONGLE\tHEADSET")
	for _, r := range rows {
		headset := "?"
		if r.Headset != nil {
			headset = yesNo(*r.Headset)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Serial, r.Vendor, yesNo(r.Dongle), headset)
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
