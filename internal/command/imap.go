package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jjmerchante/perceval-publicinbox/internal/backend"
	"github.com/jjmerchante/perceval-publicinbox/internal/imapsource"
)

func init() {
	flags := &fetchFlags{}
	var (
		account  string
		port     int
		folder   string
		username string
		password string
		useTLS   bool
	)

	cmd := &cobra.Command{
		Use:   "imap HOST",
		Short: "Fetch messages from a remote IMAP folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := backend.Options{
				Host:     args[0],
				Port:     port,
				Username: username,
				Password: password,
				UseTLS:   useTLS,
				Folder:   folder,
				Tag:      flags.tag,
				Logger:   logger,
			}
			if account != "" {
				acct, ok := cfg.Account(account)
				if !ok {
					return fmt.Errorf("account %q not found in configuration", account)
				}
				if acct.Protocol != "imap" {
					return fmt.Errorf("account %q is not an imap account", account)
				}
				opts.Host = acct.Host
				opts.Port = acct.Port
				opts.Username = acct.Username
				opts.Password = acct.Password
				opts.UseTLS = acct.UseTLS
				if folder == "" {
					opts.Folder = acct.GetFolder()
				}
			}

			b, err := registry.Open(imapsource.Name, opts)
			if err != nil {
				return err
			}
			return runFetch(cmd, b, flags)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "use credentials from this named account in the config file")
	cmd.Flags().IntVar(&port, "port", 993, "IMAP port")
	cmd.Flags().StringVar(&folder, "folder", "", "IMAP folder (default INBOX)")
	cmd.Flags().StringVar(&username, "username", "", "IMAP username")
	cmd.Flags().StringVar(&password, "password", "", "IMAP password")
	cmd.Flags().BoolVar(&useTLS, "tls", true, "connect over TLS")
	flags.register(cmd)

	rootCmd.AddCommand(cmd)
}
