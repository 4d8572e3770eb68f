package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/directory"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/engine"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/i18n"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/scheduler"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/server"
	"golang.org/x/sync/errgroup"
)

// cli holds the flag values shared by all commands.
type cli struct {
	configPath string
	debug      bool
	out        string

	logCloser io.Closer
}

func (c *cli) close() {
	if c.logCloser != nil {
		_ = c.logCloser.Close() // Best effort close
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           config.CmdRoot,
		Short:         config.CmdDescRoot,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			c.logCloser = setupLogging(cmd.ErrOrStderr(), c.debug)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, config.FlagConfig, config.DefaultConfigPath, config.FlagDescConfig)
	root.PersistentFlags().BoolVar(&c.debug, config.FlagDebug, false, config.FlagDescDebug)

	serve := &cobra.Command{
		Use:   config.CmdServe,
		Short: config.CmdDescServe,
		Args:  cobra.NoArgs,
		RunE:  c.runServe,
	}

	once := &cobra.Command{
		Use:   config.CmdOnce,
		Short: config.CmdDescOnce,
		Args:  cobra.NoArgs,
		RunE:  c.runOnce,
	}
	once.Flags().StringVar(&c.out, config.FlagOut, "", config.FlagDescOut)

	version := &cobra.Command{
		Use:   config.CmdVersion,
		Short: config.CmdDescVersion,
		Args:  cobra.NoArgs,
		// Version output must not be mixed with log setup.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}

	root.AddCommand(serve, once, version)
	return root
}

// loadSettings reads the settings file and completes credentials from the keyring.
func (c *cli) loadSettings() (*config.Settings, error) {
	settings, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if err := engine.ValidateReminder(settings.Reminder); err != nil {
		return nil, err
	}
	settings.ResolvePassword()
	return settings, nil
}

// newService wires the refresh pipeline for settings.
func newService(settings *config.Settings, pub engine.FeedPublisher) *engine.Service {
	catalog := i18n.NewCatalog(settings.Language)
	return &engine.Service{
		Clock:     engine.RealClock{},
		Connect:   directory.Open,
		Publisher: pub,
		Options: engine.CalendarOptions{
			Name:     catalog.CalendarName(),
			Reminder: settings.Reminder,
			Describe: func(e engine.CalendarEvent) string {
				return catalog.Describe(e.Title, e.Book, e.YearKnown, e.Date.Year)
			},
		},
	}
}

// runServe refreshes on schedule and serves the feed until SIGINT/SIGTERM.
// SIGHUP requests an immediate refresh.
func (c *cli) runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logStartupInfo()

	settings, err := c.loadSettings()
	if err != nil {
		return err
	}

	srv := server.NewCalendarServer(settings.Listen, settings.FeedPath)
	srv.Auth = settings.FeedAuth

	sched := scheduler.New(newService(settings, srv))
	if _, err := sched.Configure(settings); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return forwardHangups(gctx, sched) })

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info(config.MsgAppStop, config.LogKeyComponent, config.CompMain)
	return nil
}

func forwardHangups(ctx context.Context, sched *scheduler.Scheduler) error {
	hup := make(chan os.Signal, config.ChannelBufferSize)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			sched.Trigger()
		}
	}
}

// runOnce performs a single refresh and writes the calendar to --out or stdout.
// An empty directory still produces a valid, empty calendar.
func (c *cli) runOnce(cmd *cobra.Command, _ []string) error {
	settings, err := c.loadSettings()
	if err != nil {
		return err
	}

	snap, err := newService(settings, nil).Snapshot(cmd.Context(), settings)
	if err != nil {
		return err
	}

	data := snap.Calendar
	if len(data) == 0 {
		slog.Warn(config.MsgNothingToOutput, config.LogKeyComponent, config.CompMain)
		data = []byte(config.StubVCalendar)
	}

	if c.out == "" {
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return fmt.Errorf("%s: %w", config.ErrOutputWrite, err)
		}
		return nil
	}
	if err := os.WriteFile(c.out, data, config.FilePermUserRW); err != nil {
		return fmt.Errorf("%s: %w", config.ErrOutputWrite, err)
	}
	slog.Info(config.MsgOutputWritten,
		config.LogKeyComponent, config.CompMain,
		config.LogKeyFile, c.out,
		config.LogKeyEvents, len(snap.Events),
	)
	return nil
}
