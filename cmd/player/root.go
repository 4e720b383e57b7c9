package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/guhur/plus-proche/internal/config"
	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/provider"
	"github.com/guhur/plus-proche/internal/question"
)

type Config struct {
	Relay struct {
		URL          string
		SyncFallback time.Duration
		SyncTimeout  time.Duration
	}

	Redis struct {
		Addrs []string
		Pass  string
	}

	Generator struct {
		URL     string
		Timeout time.Duration
	}

	Namespace string
	Profile   string
	Name      string
}

func defaultConfig() Config {
	var c Config
	c.Relay.URL = "ws://localhost:8080/ws"
	c.Relay.SyncFallback = provider.DefaultSyncFallback
	c.Relay.SyncTimeout = 10 * time.Second
	c.Redis.Addrs = []string{"localhost:6379"}
	c.Generator.URL = "http://localhost:8080" + question.Path
	c.Generator.Timeout = 30 * time.Second
	c.Namespace = provider.DefaultNamespace
	return c
}

func newRootCmd() *cobra.Command {
	var (
		c      = defaultConfig()
		file   string
		pinArg string
		create bool
	)

	root := &cobra.Command{
		Use:          "player",
		Short:        "Play a Plus Proche session from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			flags := c
			flags.Redis.Addrs = append([]string(nil), c.Redis.Addrs...)
			if err := config.Load(file, &c, config.WithEnvPrefix("PLUSPROCHE")); err != nil {
				return err
			}

			// Flags set on the command line win over the file and the environment.
			f := cmd.Flags()
			if f.Changed("relay") {
				c.Relay.URL = flags.Relay.URL
			}
			if f.Changed("redis") {
				c.Redis.Addrs = flags.Redis.Addrs
			}
			if f.Changed("generator") {
				c.Generator.URL = flags.Generator.URL
			}
			if f.Changed("profile") {
				c.Profile = flags.Profile
			}
			if f.Changed("name") {
				c.Name = flags.Name
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if create == (pinArg != "") {
				return fmt.Errorf("exactly one of --create and --pin is required")
			}
			return play(cmd.Context(), c, pinArg, create, newTerminal(cmd.InOrStdin(), cmd.OutOrStdout()))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&file, "config", "", "config file")
	pf.StringVar(&c.Relay.URL, "relay", c.Relay.URL, "relay websocket endpoint")
	pf.StringSliceVar(&c.Redis.Addrs, "redis", c.Redis.Addrs, "local redis addresses")
	pf.StringVar(&c.Generator.URL, "generator", c.Generator.URL, "question generator endpoint")
	pf.StringVar(&c.Profile, "profile", c.Profile, "local profile, to run several players on one machine")

	root.Flags().StringVar(&pinArg, "pin", "", "pin of the session to join")
	root.Flags().BoolVar(&create, "create", false, "create a new session and host it")
	root.Flags().StringVar(&c.Name, "name", c.Name, "player name, remembered for the next sessions")

	root.AddCommand(newThemesCmd())
	return root
}

func newThemesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "themes",
		Short: "List the themes and difficulties a picker can choose",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Themes:")
			for _, t := range question.Themes {
				fmt.Fprintf(out, "  %s\n", t)
			}

			fmt.Fprintln(out, "Difficulties:")
			for d := domain.MinDifficulty; d <= domain.MaxDifficulty; d++ {
				fmt.Fprintf(out, "  %d  %s\n", d, question.DifficultyName(d))
			}
		},
	}
}
