package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/CZERTAINLY/herald/internal/log"
	"github.com/CZERTAINLY/herald/internal/model"
	"github.com/CZERTAINLY/herald/internal/service"
	"github.com/CZERTAINLY/herald/internal/settings"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string // /default/config/path/herald on given OS
	store          *settings.Store
	closeLog       = func() error { return nil }

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "herald")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is herald.yaml in "+userConfigPath+" or in current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initHerald
	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return closeLog()
	}

	postCmd.Flags().StringVar(&flagFile, "file", "", "read the text from a file")
	postCmd.Flags().IntVar(&flagStart, "start", 0, "start of the region of --file, in characters")
	postCmd.Flags().IntVar(&flagEnd, "end", -1, "end of the region of --file, in characters, -1 is the end of file")
	postCmd.Flags().BoolVar(&flagEditor, "editor", false, "compose the text in $EDITOR")
	postCmd.Flags().StringVar(&flagServices, "services", "", "comma separated services to post to, instead of the configured ones")
	postCmd.MarkFlagsMutuallyExclusive("file", "editor")

	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(servicesCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("herald failed", "err", err)
		_ = closeLog()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "herald",
	Short:        "Posts a text to several social networks at once",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a herald",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("herald: version info not available")
			return
		}

		if store != nil {
			fmt.Printf("config: %s\n", store.Path())
		}
		fmt.Printf("herald: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initHerald(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	notifier := service.Notifiers{
		service.NewWriteNotifier(os.Stdout),
		service.NewLogNotifier(slog.LevelDebug),
	}

	var configPath string
	if envConfig, ok := os.LookupEnv("HERALDCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "herald.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		configPath = filepath.Join(userConfigPath, "herald.yaml")
		store = settings.New(configPath, model.DefaultConfig(ctx), notifier)
		if err := store.Save(); err != nil {
			return err
		}
	} else {
		var err error
		store, err = settings.Open(configPath, notifier)
		if err != nil {
			for _, d := range model.CueErrDetails(errors.Unwrap(err)) {
				slog.ErrorContext(ctx, d.Message, d.Attr("detail"))
			}
			return err
		}
	}
	config := store.Config()

	// initialize logging
	w, closeFunc, err := log.Output(config.LogOutput())
	if err != nil {
		return err
	}
	closeLog = closeFunc
	// --verbose has a precedence over config file
	slog.SetDefault(log.New(w, flagVerbose || config.IsVerbose()))

	slog.Debug("herald run", "configPath", configPath)
	slog.Debug("herald run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
