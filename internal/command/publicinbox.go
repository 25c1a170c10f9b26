package command

import (
	"github.com/spf13/cobra"

	"github.com/jjmerchante/perceval-publicinbox/internal/backend"
	"github.com/jjmerchante/perceval-publicinbox/internal/publicinbox"
)

func init() {
	flags := &fetchFlags{}

	cmd := &cobra.Command{
		Use:   "publicinbox URI GITPATH",
		Short: "Fetch messages from a public-inbox git archive",
		Long: `Fetch messages from a local clone of a public-inbox archive.

URI is the canonical location of the archive (stamped into items as
their origin); GITPATH is the path of the cloned git repository.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := registry.Open(publicinbox.Name, backend.Options{
				URI:     args[0],
				GitPath: args[1],
				Tag:     flags.tag,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			return runFetch(cmd, b, flags)
		},
	}

	flags.register(cmd)
	rootCmd.AddCommand(cmd)
}
