package cmd

import (
	"github.com/fatih/color"

	"github.com/mikoworkspace/mikoproxy/api"
)

const banner = `
            _ _
  _ __ ___ (_) | _____  _ __  _ __ _____  ___   _
 | '_ ` + "`" + ` _ \| | |/ / _ \| '_ \| '__/ _ \ \/ / | | |
 | | | | | | |   < (_) | |_) | | | (_) >  <| |_| |
 |_| |_| |_|_|_|\_\___/| .__/|_|  \___/_/\_\\__, |
                       |_|                  |___/
`

func printBanner() {
	color.New(color.FgBlue).Print(banner)
	color.New(color.FgGreen).Printf("  Workspace Desktop Proxy - Version %s\n\n", api.Version)
}
