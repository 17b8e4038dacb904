package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
	"github.com/edumarques81/nas-companion/internal/infra/store"
	"github.com/edumarques81/nas-companion/internal/render"
	"github.com/edumarques81/nas-companion/internal/version"
)

const apiKeyEnv = "NASCOMPANION_API_KEY"

func newConnectCmd(opts *globalOptions) *cobra.Command {
	var apiKey string

	cmd := &cobra.Command{
		Use:   "connect <address>",
		Short: "Store a NAS address and API key and check the connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := strings.TrimSpace(args[0])
			if !nas.ValidIPv4(address) {
				return fmt.Errorf("invalid IPv4 address %q", address)
			}
			if apiKey == "" {
				apiKey = os.Getenv(apiKeyEnv)
			}
			if apiKey == "" {
				return fmt.Errorf("an API key is required (--api-key or %s)", apiKeyEnv)
			}

			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			r := a.coordinator.Connect(cmd.Context(), address, apiKey)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, render.Result("connect", r))
			if kind, failed := r.Err(); failed {
				if kind == nas.ConnectionError {
					fmt.Fprintln(out, render.InfoMsg("if the NAS is asleep, try 'nascompanion wake --mac <address>'"))
				}
				return fmt.Errorf("connect to %s: %s", address, kind)
			}

			info, _ := r.Value()
			fmt.Fprintln(out, render.SuccessMsg("server id %s", info.ID))
			if d, ok := a.client.Current(); ok {
				fmt.Fprint(out, render.Descriptor(d))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "NAS API key (default $"+apiKeyEnv+")")
	return cmd
}

func newWakeCmd(opts *globalOptions) *cobra.Command {
	var (
		mac       string
		broadcast string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "wake [address]",
		Short: "Send a Wake-on-LAN packet and wait for the NAS to come back",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mac != "" && !nas.ValidMAC(mac) {
				return fmt.Errorf("invalid MAC address %q", mac)
			}
			if broadcast != "" && !nas.ValidIPv4(broadcast) {
				return fmt.Errorf("invalid broadcast address %q", broadcast)
			}
			if port < 0 || port > 65535 {
				return fmt.Errorf("invalid port %d", port)
			}

			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var d nas.Descriptor
			if len(args) == 1 {
				d, err = a.connections.FindByAddress(cmd.Context(), args[0])
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no stored connection for %s", args[0])
				}
			} else {
				d, err = a.activeDescriptor(cmd.Context())
			}
			if err != nil {
				return err
			}

			if mac != "" {
				d.MACAddress = mac
			}
			if broadcast != "" {
				d.BroadcastAddress = broadcast
			}
			if port != 0 {
				d.WakeOnLanPort = port
			}
			if d.MACAddress == "" {
				return errors.New("no MAC address stored for this NAS, pass --mac")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, render.InfoMsg("waking %s via %s:%d", d.Address, d.BroadcastAddress, d.Port()))

			r := a.coordinator.WakeOnLan(cmd.Context(), d)
			fmt.Fprintln(out, render.Result("wake", r))
			if kind, failed := r.Err(); failed {
				return fmt.Errorf("wake %s: %s", d.Address, kind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mac, "mac", "", "MAC address (AA:BB:CC:DD:EE:FF), stored for later use")
	cmd.Flags().StringVar(&broadcast, "broadcast", "", "Broadcast address (default: address with host octet 255)")
	cmd.Flags().IntVar(&port, "port", 0, "Wake-on-LAN UDP port (default 9)")
	return cmd
}

func newDashboardCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show array, shares, containers and parity history of the active NAS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.activeDescriptor(cmd.Context()); err != nil {
				return err
			}

			r := a.client.QueryDashboardData(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			data, ok := r.Value()
			if !ok {
				if !asJSON {
					fmt.Fprintln(out, render.Result("dashboard", r))
				}
				kind, _ := r.Err()
				return fmt.Errorf("dashboard: %s", kind)
			}
			if !asJSON {
				fmt.Fprint(out, render.Dashboard(data))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw result as JSON")
	return cmd
}

func newConnectionsCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "connections",
		Short: "List stored NAS connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.connections.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if list == nil {
					list = []nas.Descriptor{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			fmt.Fprintln(out, render.Connections(list))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
