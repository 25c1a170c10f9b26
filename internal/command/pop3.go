package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jjmerchante/perceval-publicinbox/internal/backend"
	"github.com/jjmerchante/perceval-publicinbox/internal/pop3source"
)

func init() {
	flags := &fetchFlags{}
	var (
		account  string
		port     int
		username string
		password string
		useTLS   bool
	)

	cmd := &cobra.Command{
		Use:   "pop3 HOST",
		Short: "Fetch messages from a POP3 mailbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := backend.Options{
				Host:     args[0],
				Port:     port,
				Username: username,
				Password: password,
				UseTLS:   useTLS,
				Tag:      flags.tag,
				Logger:   logger,
			}
			if account != "" {
				acct, ok := cfg.Account(account)
				if !ok {
					return fmt.Errorf("account %q not found in configuration", account)
				}
				if acct.Protocol != "pop3" {
					return fmt.Errorf("account %q is not a pop3 account", account)
				}
				opts.Host = acct.Host
				opts.Port = acct.Port
				opts.Username = acct.Username
				opts.Password = acct.Password
				opts.UseTLS = acct.UseTLS
			}

			b, err := registry.Open(pop3source.Name, opts)
			if err != nil {
				return err
			}
			return runFetch(cmd, b, flags)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "use credentials from this named account in the config file")
	cmd.Flags().IntVar(&port, "port", 995, "POP3 port")
	cmd.Flags().StringVar(&username, "username", "", "POP3 username")
	cmd.Flags().StringVar(&password, "password", "", "POP3 password")
	cmd.Flags().BoolVar(&useTLS, "tls", true, "connect over TLS")
	flags.register(cmd)

	rootCmd.AddCommand(cmd)
}
