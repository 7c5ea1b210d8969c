package gateway

import (
	"github.com/spf13/cobra"

	"github.com/perimetra/authgate/internal/business"
	"github.com/perimetra/authgate/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"gateway",
		"Authgate HTTP gateway",
		"Authgate HTTP gateway hosts the public auth routes and fronts the resource API.",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
