package rootcmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/repcoach/cmd/repcoach/chat"
	"github.com/papercomputeco/repcoach/cmd/repcoach/cliconfig"
	mergecmder "github.com/papercomputeco/repcoach/cmd/repcoach/merge"
	pushcmder "github.com/papercomputeco/repcoach/cmd/repcoach/push"
	tuicmder "github.com/papercomputeco/repcoach/cmd/repcoach/tui"
)

const rootLongDesc string = `repcoach is a terminal client for the AI fitness coach.

Chat with the coach from the shell or a full-screen UI, keep a
content-addressed record of every conversation, and merge or push
those records between machines and a coach relay.

Configuration is read from ~/.repcoach/config.toml and REPCOACH_*
environment variables; flags override both.`

const rootShortDesc string = "Terminal client for the AI fitness coach"

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "repcoach",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cliconfig.AddFlags(cmd)

	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(tuicmder.NewTUICmd())
	cmd.AddCommand(mergecmder.NewMergeCmd())
	cmd.AddCommand(pushcmder.NewPushCmd())

	return cmd
}
