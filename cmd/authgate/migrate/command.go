package migrate

import (
	"github.com/spf13/cobra"

	"github.com/perimetra/authgate/internal/business"
	"github.com/perimetra/authgate/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Authgate database migrations",
		"Authgate database migrations prepare the schema for the postgres session store.",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
