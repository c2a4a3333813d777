package version

import "github.com/spf13/cobra"

// AttachCobraVersionFlag enables `-v, --version` on root, printing Full.
// A flag keeps every positional argument free for device nicknames.
func AttachCobraVersionFlag(root *cobra.Command) {
	root.Version = Full()
	root.SetVersionTemplate("{{.Version}}\n")
}
