package command

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/ferry/internal/config"
	"github.com/MikeSquared-Agency/ferry/internal/reconcile"
	"github.com/MikeSquared-Agency/ferry/internal/transport"
)

func writeCommandError(cmd *cobra.Command, err error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Hint: %s\n", hint)
	}
}

func errorHint(err error) string {
	if errors.Is(err, config.ErrMissing) {
		return "set the missing variables in the environment, .env or the --config file"
	}
	var rerr *reconcile.Error
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case reconcile.Configuration:
			return "check CHATWOOT_API_ACCESS_TOKEN, CHATWOOT_ACCOUNT_ID and CHATWOOT_INBOX_ID"
		case reconcile.Transient:
			return "the destination kept failing; re-run the same command to resume from the ledgers"
		}
	}
	switch transport.StatusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "the API rejected the credentials; check BOTMAKER_API_TOKEN or CHATWOOT_API_ACCESS_TOKEN"
	}
	if transport.IsKind(err, transport.Transient) {
		return "the source kept failing; try a smaller window or re-run later"
	}
	return ""
}
