package admin_tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"
	"go.od2.network/queues/cmd/providers"
	"go.od2.network/queues/pkg/storage"
	"go.uber.org/zap"
)

var queueCmd = cobra.Command{
	Use:   "queue",
	Short: "Manage queues",
}

func init() {
	Cmd.AddCommand(&queueCmd)
}

var queueCreateCmd = cobra.Command{
	Use:   "create <name> [metadata]",
	Short: "Create or replace a queue",
	Args:  cobra.RangeArgs(1, 2),
	Run:   providers.NewCmd(runQueueCreate),
}

var queueListCmd = cobra.Command{
	Use:   "list",
	Short: "List queues of a tenant, or of all tenants with --all",
	Args:  cobra.NoArgs,
	Run:   providers.NewCmd(runQueueList),
}

var queueGetCmd = cobra.Command{
	Use:   "get <name>",
	Short: "Print queue metadata",
	Args:  cobra.ExactArgs(1),
	Run:   providers.NewCmd(runQueueGet),
}

var queueStatsCmd = cobra.Command{
	Use:   "stats <name>",
	Short: "Print message counts",
	Args:  cobra.ExactArgs(1),
	Run:   providers.NewCmd(runQueueStats),
}

var queueDeleteCmd = cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a queue with all its messages and claims",
	Args:  cobra.ExactArgs(1),
	Run:   providers.NewCmd(runQueueDelete),
}

var queueImportCmd = cobra.Command{
	Use:   "import <file.toml>",
	Short: "Create or replace queues from a TOML catalog",
	Long: `Reads [[queue]] tables with tenant, name and a metadata table:

  [[queue]]
  tenant = "acme"
  name = "jobs"
  [queue.metadata]
  purpose = "builds"`,
	Args: cobra.ExactArgs(1),
	Run:  providers.NewCmd(runQueueImport),
}

var queueListAll bool

func init() {
	queueListCmd.Flags().BoolVar(&queueListAll, "all", false, "List queues of all tenants")
	queueCmd.AddCommand(
		&queueCreateCmd,
		&queueListCmd,
		&queueGetCmd,
		&queueStatsCmd,
		&queueDeleteCmd,
		&queueImportCmd,
	)
}

func runQueueCreate(ctx context.Context, args []string, driver storage.Driver) error {
	var metadata json.RawMessage
	if len(args) > 1 {
		metadata = json.RawMessage(args[1])
		if !json.Valid(metadata) {
			return fmt.Errorf("invalid metadata JSON: %s", args[1])
		}
	}
	created, err := driver.Queues().Upsert(ctx, args[0], metadata, tenant)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"name": args[0], "created": created})
}

func runQueueList(ctx context.Context, driver storage.Driver) error {
	if queueListAll {
		refs, err := driver.Queues().ListAll(ctx)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			fmt.Println(ref.String())
		}
		return nil
	}
	queues, err := driver.Queues().List(ctx, tenant)
	if err != nil {
		return err
	}
	return printJSON(queues)
}

func runQueueGet(ctx context.Context, args []string, driver storage.Driver) error {
	metadata, err := driver.Queues().Get(ctx, args[0], tenant)
	if err != nil {
		return err
	}
	return printJSON(metadata)
}

func runQueueStats(ctx context.Context, args []string, driver storage.Driver) error {
	stats, err := driver.Queues().Stats(ctx, args[0], tenant)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runQueueDelete(ctx context.Context, args []string, driver storage.Driver) error {
	return driver.Queues().Delete(ctx, args[0], tenant)
}

// catalog is the TOML file format of queue import.
type catalog struct {
	Queues []struct {
		Tenant   string                 `toml:"tenant"`
		Name     string                 `toml:"name"`
		Metadata map[string]interface{} `toml:"metadata"`
	} `toml:"queue"`
}

func readCatalog(path string) (*catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cat := new(catalog)
	if err := toml.NewDecoder(f).Decode(cat); err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	for i, q := range cat.Queues {
		if q.Name == "" {
			return nil, fmt.Errorf("queue %d: missing name", i)
		}
	}
	return cat, nil
}

func runQueueImport(ctx context.Context, log *zap.Logger, args []string, driver storage.Driver) error {
	cat, err := readCatalog(args[0])
	if err != nil {
		return err
	}
	for _, q := range cat.Queues {
		queueTenant := q.Tenant
		if queueTenant == "" {
			queueTenant = tenant
		}
		var metadata json.RawMessage
		if q.Metadata != nil {
			if metadata, err = json.Marshal(q.Metadata); err != nil {
				return fmt.Errorf("queue %s: %w", q.Name, err)
			}
		}
		created, err := driver.Queues().Upsert(ctx, q.Name, metadata, queueTenant)
		if err != nil {
			return fmt.Errorf("queue %s: %w", q.Name, err)
		}
		log.Info("Imported queue",
			zap.String("tenant", queueTenant),
			zap.String("queue", q.Name),
			zap.Bool("created", created))
	}
	return nil
}
