package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/assignment"
	"github.com/zulandar/junction/internal/chat"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/presence"
	"github.com/zulandar/junction/internal/profile"
	"github.com/zulandar/junction/internal/realtime"
	"github.com/zulandar/junction/internal/telegraph"
	"github.com/zulandar/junction/internal/telegraph/discord"
	"github.com/zulandar/junction/internal/telegraph/slack"
	"gorm.io/gorm"
)

const (
	defaultConfigPath = "junction.yaml"
	defaultEnvPath    = ".env"
)

// configFlags are shared by every command that reads the config file.
type configFlags struct {
	configPath string
	envPath    string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().StringVar(&f.envPath, "env", defaultEnvPath, "dotenv file loaded before the config is expanded")
}

func (f *configFlags) load() (*config.Config, error) {
	if err := config.LoadEnv(f.envPath); err != nil {
		return nil, err
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (f *configFlags) connect() (*config.Config, *gorm.DB, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
	}
	return cfg, gormDB, nil
}

// buildResolver picks the profile directory client. Without a directory URL
// every user resolves anonymously. The returned closer releases the cache.
func buildResolver(ctx context.Context, cfg config.ProfilesConfig) (profile.Resolver, func() error, error) {
	noop := func() error { return nil }
	if cfg.DirectoryURL == "" {
		return profile.Anonymous{}, noop, nil
	}
	directory := profile.NewHTTPResolver(cfg.DirectoryURL, cfg.Timeout)
	if cfg.RedisURL == "" {
		return profile.NewCached(directory, profile.NewMemoryCache(), cfg.CacheTTL), noop, nil
	}
	cache, err := profile.NewRedisCache(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return profile.NewCached(directory, cache, cfg.CacheTTL), cache.Close, nil
}

// buildNotifier connects the configured support channels. It returns nil
// when none is configured.
func buildNotifier(ctx context.Context, cfg config.NotifyConfig, out io.Writer) (*telegraph.Notifier, error) {
	adapters := map[string]telegraph.Adapter{}
	if cfg.Slack.BotToken != "" {
		a, err := slack.New(slack.AdapterOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		adapters["slack"] = a
	}
	if cfg.Discord.BotToken != "" {
		a, err := discord.New(discord.AdapterOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		adapters["discord"] = a
	}
	if len(adapters) == 0 {
		return nil, nil
	}
	n, err := telegraph.NewNotifier(telegraph.NotifierOpts{Adapters: adapters, Out: out})
	if err != nil {
		return nil, err
	}
	if err := n.Connect(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

// serviceOpts holds the inputs to newService.
type serviceOpts struct {
	cfg      *config.Config
	db       *gorm.DB
	resolver profile.Resolver
	notifier assignment.Notifier
}

// newService wires a chat service and its dispatcher from config.
func newService(opts serviceOpts) (*chat.Service, *realtime.Dispatcher, error) {
	cfg := opts.cfg
	policy, err := assignment.NewPolicy(cfg.Assignment.Policy)
	if err != nil {
		return nil, nil, err
	}
	resolver := opts.resolver
	if resolver == nil {
		resolver = profile.Anonymous{}
	}
	dispatcher := realtime.NewDispatcher(cfg.Server.Shards)
	tracker := presence.NewTracker(presence.Thresholds{
		AwayAfter:    cfg.Presence.AwayAfter,
		OfflineAfter: cfg.Presence.OfflineAfter,
	}, cfg.Server.Shards, nil)

	svc, err := chat.New(chat.Opts{
		DB:          opts.db,
		Timeout:     cfg.Database.Timeout,
		Profiles:    resolver,
		Broadcaster: dispatcher,
		Presence:    tracker,
		Assignment:  assignment.NewEngine(opts.db, cfg.Database.Timeout, policy, opts.notifier),
	})
	if err != nil {
		dispatcher.Close()
		return nil, nil, err
	}
	return svc, dispatcher, nil
}
