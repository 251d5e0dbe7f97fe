package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/dectpair/internal/bus"
	"github.com/nextlevelbuilder/dectpair/internal/config"
)

func tokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the device daemon token in the OS keyring",
	}

	var fromStdin bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the daemon token",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				tok string
				err error
			)
			switch {
			case fromStdin:
				tok, err = readToken(os.Stdin)
			case bus.Interactive(os.Stdin):
				tok, err = promptPassword("Device daemon token", "Stored in the OS keyring, not in the config file")
			default:
				return errors.New("stdin is not a terminal; use --stdin")
			}
			if err != nil {
				return err
			}
			if err := config.StoreToken(tok); err != nil {
				return fmt.Errorf("store token: %w", err)
			}
			fmt.Fprintln(a.out, "Token stored.")
			return nil
		},
	}
	set.Flags().BoolVar(&fromStdin, "stdin", false, "read the token from the first line of stdin")

	forget := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored daemon token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ForgetToken(); err != nil {
				return fmt.Errorf("remove token: %w", err)
			}
			fmt.Fprintln(a.out, "Token removed.")
			return nil
		},
	}

	cmd.AddCommand(set, forget)
	return cmd
}

func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	tok := strings.TrimSpace(line)
	if tok == "" {
		return "", errors.New("no token on stdin")
	}
	return tok, nil
}
