package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/codefionn/transports/internal/config"
	"github.com/codefionn/transports/internal/demo"
	"github.com/codefionn/transports/internal/logger"
	"github.com/codefionn/transports/internal/pidfile"
	"github.com/codefionn/transports/internal/session"
	"github.com/codefionn/transports/internal/socketclient"
	"github.com/codefionn/transports/internal/transport"
	"github.com/codefionn/transports/internal/web"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	logLevel   string
	logPath    string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "transports",
		Short:         "Host and synchronize models over WebSocket sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return logger.Global().Close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.GetConfigPath(), "config file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error, none)")
	flags.StringVar(&a.logPath, "log-path", "", "log file, - for stderr")

	rootCmd.AddCommand(
		newServeCmd(a),
		newConnectCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logPath != "" {
		cfg.LogPath = a.logPath
	}
	a.cfg = cfg

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Debug("Configuration loaded: path=%s log_level=%s log_path=%s", a.configPath, cfg.LogLevel, cfg.LogPath)
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(a *app) *cobra.Command {
	var (
		title    string
		counters []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host a demo board over WebSocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := a.cfg.WebOptions()
			flags := cmd.Flags()
			if flags.Changed("addr") {
				opts.Addr, _ = flags.GetString("addr")
			}
			if flags.Changed("shared") {
				opts.Host.Shared, _ = flags.GetBool("shared")
			}
			if flags.Changed("readonly") {
				opts.Host.ReadOnly, _ = flags.GetBool("readonly")
			}
			if flags.Changed("max-conns") {
				opts.MaxConns, _ = flags.GetInt("max-conns")
			}

			pidPath := a.cfg.Server.PidFile
			if flags.Changed("pidfile") {
				pidPath, _ = flags.GetString("pidfile")
			}
			if pidPath != "" {
				pf := pidfile.New(pidPath)
				if err := pf.Acquire(); err != nil {
					return err
				}
				defer func() {
					if err := pf.Release(); err != nil {
						logger.Warn("Failed to release pidfile: %v", err)
					}
				}()
			}

			if a.logLevel == "" {
				if _, err := os.Stat(a.configPath); err == nil {
					if err := config.Watch(a.configPath, func(c *config.Config) {
						logger.Global().SetLevel(logger.ParseLevel(c.LogLevel))
					}); err != nil {
						logger.Warn("Config reload disabled: %v", err)
					}
				}
			}

			board := demo.NewBoard(title)
			for _, arg := range counters {
				name, value, err := parseCounter(arg)
				if err != nil {
					return err
				}
				board.Counters = append(board.Counters, demo.NewCounter(name, value))
			}
			board.OnChange(func(b *demo.Board) {
				printBoard(cmd.OutOrStdout(), b)
			})

			tr := transport.NewJSON()
			demo.Register(tr)

			srv := web.NewServer(tr, board, opts)
			if err := srv.Start(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hosting %q on %s\n", title, srv.URL())

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			<-ctx.Done()

			return srv.Stop()
		},
	}

	flags := cmd.Flags()
	flags.String("addr", web.DefaultAddr, "listen address")
	flags.Bool("shared", true, "expose the same board to every client")
	flags.Bool("readonly", false, "reject updates from clients")
	flags.Int("max-conns", 0, "maximum simultaneous connections, 0 for no limit")
	flags.String("pidfile", "", "write the process id here and refuse to start if another host holds it")
	flags.StringVar(&title, "title", "board", "board title")
	flags.StringSliceVar(&counters, "counter", nil, "initial counter as name=value (repeatable)")
	return cmd
}

func newConnectCmd(a *app) *cobra.Command {
	var increments []string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open a session to a hosted board and follow its updates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := a.cfg.SocketClient()
			clientID := a.cfg.Client.ClientID
			flags := cmd.Flags()
			if flags.Changed("host") {
				sc.Host, _ = flags.GetString("host")
			}
			if flags.Changed("client-id") {
				clientID, _ = flags.GetString("client-id")
			}

			conn, err := socketclient.NewClient(sc)
			if err != nil {
				return err
			}
			tr := transport.NewJSON()
			demo.Register(tr)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client := session.NewClient[[]byte](conn, tr, clientID)
			m, err := client.Open(ctx)
			if err != nil {
				return err
			}
			board, ok := m.(*demo.Board)
			if !ok {
				_ = client.Close(context.WithoutCancel(ctx))
				return fmt.Errorf("host sent %s, expected %s", m.TypeName(), demo.BoardType.Name)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "connected to %s\n", conn.URL())
			printBoard(out, board)
			board.OnChange(func(b *demo.Board) {
				printBoard(out, b)
			})

			for _, arg := range increments {
				name, delta, err := parseCounter(arg)
				if err != nil {
					_ = client.Close(context.WithoutCancel(ctx))
					return err
				}
				if err := board.Increment(name, delta); err != nil {
					_ = client.Close(context.WithoutCancel(ctx))
					return err
				}
			}

			return client.HandleDuplex(ctx)
		},
	}

	flags := cmd.Flags()
	flags.String("host", "", "host[:port] of the session endpoint")
	flags.String("client-id", "", "identity presented to the host")
	flags.StringSliceVar(&increments, "inc", nil, "increment a counter as name=delta after connecting (repeatable)")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Save(a.configPath); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", a.configPath)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), a.configPath)
			return err
		},
	})
	return cmd
}

func parseCounter(arg string) (string, int, error) {
	name, raw, ok := strings.Cut(arg, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", 0, fmt.Errorf("invalid counter %q, expected name=value", arg)
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return "", 0, fmt.Errorf("invalid counter %q: %w", arg, err)
	}
	return name, value, nil
}

func printBoard(w io.Writer, b *demo.Board) {
	title, values := b.Snapshot()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, values[name]))
	}
	fmt.Fprintf(w, "[%s] %s\n", title, strings.Join(parts, " "))
}
