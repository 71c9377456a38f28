package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AsafMeizner/reels-battle/internal/config"
	"github.com/AsafMeizner/reels-battle/internal/protocol"
	"github.com/AsafMeizner/reels-battle/internal/relay"
	"github.com/AsafMeizner/reels-battle/internal/ui"
)

var flagPublishURL string

var publishCmd = &cobra.Command{
	Use:   "publish <channel> <event> [json]",
	Short: "Publish one event through the relay's HTTP bridge",
	Long: `Publish a single event to every subscriber of a channel. Room events are
checked before sending; other event names are passed through as is.

Examples:
  reels-battle publish ABC123 newVote '{"which":"A"}'
  reels-battle publish abc123 newVote '{"which":"B"}'
  reels-battle publish ABC123 roundStart '{"sharerIds":["id-1","id-2"]}'`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{RelayURL: flagPublishURL})
		if err != nil {
			return err
		}

		channel, event := roomChannel(args[0]), args[1]
		data := []byte("null")
		if len(args) == 3 {
			data = []byte(args[2])
		}
		if !json.Valid(data) {
			return fmt.Errorf("event data is not valid JSON")
		}

		if _, err := protocol.Decode(event, data); err != nil {
			if !errors.Is(err, protocol.ErrUnknownEvent) {
				return err
			}
			ui.PrintWarning(fmt.Sprintf("%q is not a room event, sending it anyway", event))
		}

		pub := relay.NewBridgePublisher(cfg.BridgeURL())
		if err := pub.Publish(cmd.Context(), channel, event, data); err != nil {
			return err
		}
		ui.PrintSuccessf("Published %s to %s", event, channel)
		return nil
	},
}

// roomChannel maps a room code to the channel sessions subscribe to. Other
// channel names are kept as they are.
func roomChannel(channel string) string {
	if room, err := protocol.NormalizeRoomCode(channel); err == nil {
		return room
	}
	return channel
}

var codeCmd = &cobra.Command{
	Use:   "code",
	Short: "Print a fresh room code",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), protocol.GenerateRoomCode())
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(codeCmd)

	publishCmd.Flags().StringVarP(&flagPublishURL, "url", "u", "", "Relay websocket URL (the bridge is served next to it)")
}
