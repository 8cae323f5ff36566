package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/huddle-chat/huddle/client/internal/auth"
	"github.com/huddle-chat/huddle/client/internal/config"
	"github.com/huddle-chat/huddle/client/internal/conn"
	"github.com/huddle-chat/huddle/client/internal/directory"
	"github.com/huddle-chat/huddle/client/internal/eventbus"
	"github.com/huddle-chat/huddle/client/internal/room"
	"github.com/huddle-chat/huddle/client/internal/session"
	"github.com/huddle-chat/huddle/client/internal/transport"
	"github.com/huddle-chat/huddle/client/internal/tui/chat"
)

func newChatCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "chat",
		Short: "Join a room and chat",
		Long:  "Join a room and chat. Uses the full-screen view on a terminal and plain lines otherwise.",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}
	c.Flags().StringP("room", "r", "", "room code to join")
	c.Flags().Bool("create", false, "create a new room and join it")
	c.Flags().String("name", "", "display name (overrides identity.name)")
	c.Flags().Bool("plain", false, "use line mode even on a terminal")
	return c
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	roomFlag, _ := cmd.Flags().GetString("room")
	create, _ := cmd.Flags().GetBool("create")
	plain, _ := cmd.Flags().GetBool("plain")

	id, err := identityFrom(cfg, name)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpClient := newHTTPClient(cfg)
	code, err := resolveRoom(ctx, directory.New(cfg.APIURL, httpClient), roomFlag, create)
	if err != nil {
		return err
	}

	tuiMode := !plain && term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))

	bus := eventbus.New(256)
	defer bus.Close()

	logger, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFile, tuiMode, bus)
	if err != nil {
		return err
	}
	defer closeLog()

	rs := room.New(logger)
	mgr := conn.NewManager(conn.Options{
		URL:               cfg.WebSocketURL(),
		ConnectTimeout:    cfg.Connection.ConnectTimeout.Duration,
		ReconnectInterval: cfg.Connection.ReconnectInterval.Duration,
		MaxReconnectDelay: cfg.Connection.MaxReconnectDelay.Duration,
	}, auth.NewHTTPExchanger(cfg.APIURL, httpClient), &transport.WSDialer{TLSSkipVerify: cfg.Connection.TLSSkipVerify}, rs, logger)
	defer mgr.Close()

	ctl, err := session.New(mgr, rs, bus, session.Options{
		AgentFailureTimeout: cfg.Agent.FailureTimeout.Duration,
	}, logger)
	if err != nil {
		return err
	}
	defer ctl.Close()

	var lines *eventbus.Subscription
	if !tuiMode {
		lines = bus.Subscribe(lineTopics...)
		defer lines.Close()
	}

	logger.Info("huddle starting", "version", version, "room", code, "api_url", cfg.APIURL)
	if err := ctl.Update(id, code); err != nil {
		return err
	}
	defer func() {
		if err := ctl.LeaveRoom(); err != nil && !errors.Is(err, conn.ErrClosed) {
			logger.Warn("leave failed", "room", code, "error", err)
		}
	}()

	if tuiMode {
		return chat.Run(ctx, ctl, bus, id.DisplayName)
	}
	return runLines(ctx, ctl, lines, os.Stdin, cmd.OutOrStdout())
}

// identityFrom resolves the chat identity from config, falling back to a
// development identity named after the local user.
func identityFrom(cfg *config.Config, name string) (auth.Identity, error) {
	id := auth.Identity{
		Provider:          cfg.Identity.Provider,
		ProviderSubjectID: cfg.Identity.Subject,
		Email:             cfg.Identity.Email,
		DisplayName:       cfg.Identity.Name,
	}
	if id.IsZero() {
		u, err := user.Current()
		if err != nil || u.Username == "" {
			return auth.Identity{}, errors.New("no identity configured: set identity in the config file or HUDDLE_IDENTITY_* variables")
		}
		id.Provider = "dev"
		id.ProviderSubjectID = u.Username
	}
	if name != "" {
		id.DisplayName = name
	}
	if id.DisplayName == "" {
		id.DisplayName = id.ProviderSubjectID
		if id.DisplayName == "" {
			id.DisplayName = id.Email
		}
	}
	return id, nil
}

type roomDirectory interface {
	Exists(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context) (string, error)
}

// resolveRoom returns the room to join: a freshly created one, or the given
// code once the directory confirms it exists.
func resolveRoom(ctx context.Context, dir roomDirectory, code string, create bool) (string, error) {
	if create {
		if code != "" {
			return "", errors.New("--room and --create are mutually exclusive")
		}
		return dir.Create(ctx)
	}
	if code == "" {
		return "", errors.New("a room is required: pass --room CODE or --create")
	}
	code, err := directory.NormalizeCode(code)
	if err != nil {
		return "", err
	}
	exists, err := dir.Exists(ctx, code)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("room %s does not exist (create one with `huddle rooms create`)", code)
	}
	return code, nil
}

func newHTTPClient(cfg *config.Config) *http.Client {
	c := &http.Client{Timeout: 10 * time.Second}
	if cfg.Connection.TLSSkipVerify {
		c.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return c
}
