package command

import (
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/ferry/internal/api"
	"github.com/MikeSquared-Agency/ferry/internal/extract"
)

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ops API (health, run status, sample extraction)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if port == 0 {
				port = a.cfg.Port
			}

			be, err := a.openBackend(ctx)
			if err != nil {
				return err
			}
			defer be.close()

			var sampler api.Sampler
			if source, err := a.botmaker(); err != nil {
				a.logger.Warn("botmaker not configured; sample endpoint disabled", "error", err)
			} else {
				sampler = extract.NewRunner(source, nil, nil, nil, extract.Config{
					DefaultStart: a.cfg.ExtractStart,
					DefaultEnd:   a.cfg.ExtractEnd,
				}, a.logger)
			}

			srv := api.NewServer(port, be.extracts, be.loads, sampler, a.logger)
			err = srv.Start(ctx)
			a.logger.Info("ferry stopped")
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default FERRY_PORT)")
	return cmd
}
