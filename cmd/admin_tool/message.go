package admin_tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.od2.network/queues/cmd/providers"
	"go.od2.network/queues/pkg/storage"
)

var messageCmd = cobra.Command{
	Use:   "message",
	Short: "Manage messages",
}

func init() {
	Cmd.AddCommand(&messageCmd)
}

var messagePostCmd = cobra.Command{
	Use:   "post <queue> <body>...",
	Short: "Post JSON message bodies as one batch",
	Args:  cobra.MinimumNArgs(2),
	Run:   providers.NewCmd(runMessagePost),
}

var messageListCmd = cobra.Command{
	Use:   "list <queue>",
	Short: "List visible messages",
	Args:  cobra.ExactArgs(1),
	Run:   providers.NewCmd(runMessageList),
}

var messageGetCmd = cobra.Command{
	Use:   "get <queue> <message>",
	Short: "Print a message",
	Args:  cobra.ExactArgs(2),
	Run:   providers.NewCmd(runMessageGet),
}

var messageDeleteCmd = cobra.Command{
	Use:   "delete <queue> <message>",
	Short: "Delete a message",
	Args:  cobra.ExactArgs(2),
	Run:   providers.NewCmd(runMessageDelete),
}

var (
	messageClient string
	messageTTL    int64
	messageMarker string
	messageLimit  int
	messageEcho   bool
	messageClaim  string
)

func init() {
	messageCmd.PersistentFlags().StringVar(&messageClient, "client", "admin-tool", "Client ID")
	messagePostCmd.Flags().Int64Var(&messageTTL, "ttl", 3600, "Message TTL in seconds")
	messageListCmd.Flags().StringVar(&messageMarker, "marker", "", "Resume after this marker")
	messageListCmd.Flags().IntVar(&messageLimit, "limit", 10, "Max messages")
	messageListCmd.Flags().BoolVar(&messageEcho, "echo", false, "Include messages posted by this client")
	messageDeleteCmd.Flags().StringVar(&messageClaim, "claim", "", "Claim that must hold the message")
	messageCmd.AddCommand(
		&messagePostCmd,
		&messageListCmd,
		&messageGetCmd,
		&messageDeleteCmd,
	)
}

func runMessagePost(ctx context.Context, args []string, driver storage.Driver, limits *storage.Limits) error {
	msgs := make([]storage.NewMessage, len(args)-1)
	for i, body := range args[1:] {
		if !json.Valid([]byte(body)) {
			return fmt.Errorf("message %d: invalid JSON", i)
		}
		msgs[i] = storage.NewMessage{TTL: messageTTL, Body: json.RawMessage(body)}
	}
	if err := limits.ValidateMessages(msgs); err != nil {
		return err
	}
	ids, err := driver.Messages().Post(ctx, args[0], msgs, tenant, messageClient)
	if err != nil {
		return err
	}
	return printJSON(ids)
}

func runMessageList(ctx context.Context, args []string, driver storage.Driver) error {
	msgs, err := driver.Messages().List(ctx, args[0], tenant, storage.ListOptions{
		Marker:   messageMarker,
		Limit:    messageLimit,
		Echo:     messageEcho,
		ClientID: messageClient,
	})
	if err != nil {
		return err
	}
	return printJSON(msgs)
}

func runMessageGet(ctx context.Context, args []string, driver storage.Driver) error {
	msg, err := driver.Messages().Get(ctx, args[0], args[1], tenant)
	if err != nil {
		return err
	}
	return printJSON(msg)
}

func runMessageDelete(ctx context.Context, args []string, driver storage.Driver) error {
	return driver.Messages().Delete(ctx, args[0], args[1], tenant, messageClaim)
}
