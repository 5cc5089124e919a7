package command

import (
	"encoding/csv"
	"strconv"

	"github.com/spf13/cobra"
)

func newInboxesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inboxes",
		Short: "List the Chatwoot account's inboxes as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateAccount(); err != nil {
				return err
			}
			client, err := a.chatwoot()
			if err != nil {
				return err
			}
			inboxes, err := client.ListInboxes(cmd.Context())
			if err != nil {
				return err
			}

			w := csv.NewWriter(cmd.OutOrStdout())
			_ = w.Write([]string{"id", "name", "channel_type", "website_url"})
			for _, in := range inboxes {
				_ = w.Write([]string{strconv.FormatInt(in.ID, 10), in.Name, in.ChannelType, in.WebsiteURL})
			}
			w.Flush()
			return w.Error()
		},
	}
}
