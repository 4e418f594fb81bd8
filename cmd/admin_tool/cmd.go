package admin_tool

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

// Cmd is the admin-tool sub-command.
var Cmd = cobra.Command{
	Use:   "admin-tool",
	Short: "Debug utility for operating queues by hand",
}

var tenant string

func init() {
	Cmd.PersistentFlags().StringVar(&tenant, "tenant", "", "Tenant owning the queues")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
