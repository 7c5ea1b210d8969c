package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/perimetra/authgate/internal/business"
	"github.com/perimetra/authgate/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"Authgate housekeeping job",
		"Authgate housekeeping job purges expired session records from the database.",
		buildInfo,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
