package cmd

import (
	"context"
	stdsignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yomogy/ito/internal/client"
	"github.com/yomogy/ito/internal/config"
	"github.com/yomogy/ito/internal/domain"
	"github.com/yomogy/ito/internal/protocol"
	"github.com/yomogy/ito/internal/voice"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run a headless voice participant (testing aid)",
	RunE:  runClient,
}

var (
	clientServer  string
	clientName    string
	clientRoom    string
	clientSession string
	clientICE     []string
)

func init() {
	clientCmd.Flags().StringVar(&clientServer, "server", "ws://localhost:8080/api/ws/signal", "signaling endpoint")
	clientCmd.Flags().StringVar(&clientName, "name", "headless", "display name")
	clientCmd.Flags().StringVar(&clientRoom, "room", "", "room code to join; empty creates a room")
	clientCmd.Flags().StringVar(&clientSession, "session", "", "session id to resume")
	clientCmd.Flags().StringSliceVar(&clientICE, "ice", nil, "ICE server urls (default from config)")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx, cancel := stdsignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	iceServers := clientICE
	if len(iceServers) == 0 {
		iceServers = cfg.ICEServers
	}

	// Pushes are funneled through a channel so the main loop handles them
	// serially; the read loop never touches the mesh directly.
	pushCh := make(chan protocol.In, 64)
	c, state, err := client.Dial(ctx, clientServer, domain.SessionID(clientSession), func(in protocol.In) {
		select {
		case pushCh <- in:
		default:
			log.Warn().Str("type", string(in.T)).Msg("push dropped, queue full")
		}
	})
	if err != nil {
		return err
	}
	defer c.Close()
	c.SetCallTimeout(cfg.RequestTimeout)
	log.Info().Str("sid", string(state.Session.ID)).Msg("connected; keep --session to resume this identity")

	capture, err := voice.AcquireCapture()
	if err != nil {
		return err
	}
	defer capture.Release()
	go feedSilence(ctx, capture)

	rtcCfg := voice.DefaultRTCConfig(iceServers)
	link := client.NewVoiceLink(c)
	mesh := voice.NewMesh(state.Session.ID, link, func() (voice.MediaConn, error) {
		return voice.NewPeer(rtcCfg, capture)
	})
	defer mesh.Close()
	mesh.OnPeerMute(func(user domain.UserID, muted bool) {
		log.Info().Str("user", string(user)).Bool("muted", muted).Msg("peer mute changed")
	})

	if state.User == nil {
		if _, err := c.Call(ctx, protocol.Login, protocol.LoginReq{Name: clientName}); err != nil {
			return err
		}
	}
	if state.Room == nil {
		if clientRoom != "" {
			if _, err := c.Call(ctx, protocol.JoinRoom, protocol.JoinRoomReq{RoomID: clientRoom}); err != nil {
				return err
			}
		} else {
			reply, err := c.Call(ctx, protocol.CreateRoom, protocol.CreateRoomReq{})
			if err != nil {
				return err
			}
			if p := protocol.Unwrap[protocol.RoomStatePush](reply.Payload); p != nil && p.Room != nil {
				log.Info().Str("room", string(p.Room.ID)).Msg("room created, share this code")
			}
		}
	}

	if err := c.Notify(protocol.MicReady, nil); err != nil {
		return err
	}

	keepalive := time.NewTicker(cfg.PingPeriod)
	defer keepalive.Stop()

	for {
		select {
		case <-keepalive.C:
			if err := c.Notify(protocol.Ping, nil); err != nil {
				return err
			}
		case <-ctx.Done():
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, _ = c.Call(leaveCtx, protocol.LeaveRoom, nil)
			leaveCancel()
			return nil
		case in := <-pushCh:
			if link.Route(mesh, in) {
				continue
			}
			switch in.T {
			case protocol.Chat:
				if p := protocol.Unwrap[protocol.ChatMsg](in.Payload); p != nil {
					log.Info().Str("from", p.Name).Str("message", p.Message).Msg("chat")
				}
			case protocol.PlayerJoined, protocol.PlayerReconnected:
				if p := protocol.Unwrap[protocol.PlayerEvent](in.Payload); p != nil {
					log.Info().Str("user", p.User.Name).Str("type", string(in.T)).Msg("roster change")
				}
			case protocol.AdminChanged:
				if p := protocol.Unwrap[protocol.AdminChangedPush](in.Payload); p != nil {
					log.Info().Str("admin", string(p.AdminUserID)).Msg("admin changed")
				}
			default:
				log.Debug().Str("type", string(in.T)).Msg("push")
			}
		}
	}
}

// opusSilence is one encoded opus frame of silence.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

// feedSilence keeps the outbound track alive with 20ms silence frames;
// a headless participant has no capture device behind the handle.
func feedSilence(ctx context.Context, capture *voice.Capture) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if capture.Released() {
				return
			}
			if err := capture.WriteFrame(opusSilence, 20*time.Millisecond); err != nil {
				return
			}
		}
	}
}
