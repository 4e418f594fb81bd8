package migrate

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.od2.network/queues/cmd/providers"
	"go.od2.network/queues/pkg/storage"
	"go.od2.network/queues/pkg/storage/sqlstore"
	"go.uber.org/zap"
)

var Cmd = cobra.Command{
	Use:   "migrate",
	Short: "Prepare the storage backend",
	Long: "Creates the MySQL tables if they don't exist.\n" +
		"Redis needs no schema, connecting loads the server-side scripts.",
	Args: cobra.NoArgs,
	Run:  providers.NewCmd(Run),
}

// Run prepares the configured backend.
func Run(ctx context.Context, log *zap.Logger, driver storage.Driver) error {
	switch d := driver.(type) {
	case *sqlstore.Driver:
		if err := d.CreateTables(ctx); err != nil {
			return err
		}
		log.Info("MySQL schema is up to date")
	default:
		log.Info("Backend needs no migration", zap.String("backend", fmt.Sprintf("%T", driver)))
	}
	return nil
}
