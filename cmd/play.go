package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AsafMeizner/reels-battle/internal/config"
	"github.com/AsafMeizner/reels-battle/internal/media"
	"github.com/AsafMeizner/reels-battle/internal/peer"
	"github.com/AsafMeizner/reels-battle/internal/relay"
	"github.com/AsafMeizner/reels-battle/internal/session"
	"github.com/AsafMeizner/reels-battle/internal/ui"
)

var (
	flagRelayURL string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagVideo    string
	flagRecord   string
)

var playCmd = &cobra.Command{
	Use:     "play [room-code]",
	Aliases: []string{"p"},
	Short:   "Join a room from the terminal",
	Long: `Join a battle room. Pick a role, wait in the lobby, then share your reels
or watch both sides and vote.

Sharing streams an IVF file (VP8 or VP9) given with --video. Watchers can keep
what they receive with --record.

Examples:
  reels-battle play
  reels-battle play ABC123 --video reel.ivf
  reels-battle play ABC123 --record ./received
  reels-battle play --url wss://relay.example.com/ws --turn turn.example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{
			RelayURL:   flagRelayURL,
			STUNServer: flagSTUN,
			TURNServer: flagTURN,
			TURNUser:   flagTURNUser,
			TURNPass:   flagTURNPass,
			ForceRelay: flagRelay,
		})
		if err != nil {
			return err
		}

		var code string
		if len(args) == 1 {
			code = args[0]
		}
		return play(cmd.Context(), cfg, code)
	},
}

func play(ctx context.Context, cfg *config.Config, code string) error {
	stopSpinner := ui.RunConnectionSpinner("Connecting to relay...")
	client, err := relay.Dial(ctx, cfg.RelayURL)
	stopSpinner()
	if err != nil {
		return fmt.Errorf("connect to relay %s: %w", cfg.RelayURL, err)
	}
	defer client.Close()

	var onTrack peer.TrackHandler
	if flagRecord != "" {
		if err := os.MkdirAll(flagRecord, 0o755); err != nil {
			return fmt.Errorf("create record dir: %w", err)
		}
		onTrack = media.NewRecorder(flagRecord).Handle
	}

	var opts []session.Option
	if flagVideo != "" {
		opts = append(opts, session.WithCapturer(media.NewFileSource(flagVideo)))
	}
	sess := session.New(client, peer.NewPionDialer(cfg, onTrack), opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sess.Run(ctx)

	err = ui.Run(ctx, sess, code)
	cancel()
	<-sess.Done()
	return err
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringVarP(&flagRelayURL, "url", "u", "", "Relay websocket URL")
	playCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	playCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	playCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	playCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	playCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	playCmd.Flags().StringVar(&flagVideo, "video", "", "IVF file to share when picked")
	playCmd.Flags().StringVar(&flagRecord, "record", "", "Directory to record received VP8 streams into")
}
