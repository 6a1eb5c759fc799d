/*
	Copyright 2023 Markus Papenbrock
*/

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	layoutCmd "github.com/mpapenbr/iracelog-sectortiming/pkg/cmd/layout"
	listenCmd "github.com/mpapenbr/iracelog-sectortiming/pkg/cmd/listen"
	replayCmd "github.com/mpapenbr/iracelog-sectortiming/pkg/cmd/replay"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/config"
	"github.com/mpapenbr/iracelog-sectortiming/version"
)

const envPrefix = "IST"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "ist",
	Short:   "Sector timing and lap segmentation for iRacing telemetry",
	Long:    ``,
	Version: version.FullVersion,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:funlen // flag definitions
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.ist.yml)")

	rootCmd.PersistentFlags().StringVar(&config.DB, "db",
		"",
		"Connection string for the database (laps are stored if set)")
	rootCmd.PersistentFlags().StringVar(&config.NatsURL, "nats-url",
		"nats://localhost:4222",
		"URL of the NATS server")
	rootCmd.PersistentFlags().StringVar(&config.LapSubject, "lap-subject",
		"",
		"NATS subject to publish completed laps to ({session} is replaced)")
	rootCmd.PersistentFlags().StringVar(&config.LogLevel, "log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().StringVar(&config.LogFormat, "log-format",
		"text",
		"controls the log output format (json, text)")
	rootCmd.PersistentFlags().StringVar(&config.LogFilter, "log-filter",
		"",
		"zapfilter rules, e.g. \"debug:processing.sector\"")
	rootCmd.PersistentFlags().BoolVar(&config.EnableTelemetry, "enable-telemetry",
		false,
		"export metrics to stdout")
	rootCmd.PersistentFlags().StringVar(&config.TelemetryInterval, "telemetry-interval",
		"30s",
		"interval for the metrics export")
	rootCmd.PersistentFlags().StringVar(&config.WaitForServices,
		"wait-for-services",
		"15s",
		"Duration to wait for other services to be ready")
	rootCmd.PersistentFlags().IntVar(&config.Sectors, "sectors",
		0,
		"divide the lap into this number of equal sectors")
	rootCmd.PersistentFlags().StringVar(&config.Boundaries, "boundaries",
		"",
		"comma separated sector start fractions, e.g. 0,0.33,0.66")
	rootCmd.PersistentFlags().StringVar(&config.LayoutFile, "layout-file",
		"",
		"track or SessionInfo yaml file containing the sector layout")
	rootCmd.PersistentFlags().IntVar(&config.TrackID, "track-id",
		0,
		"load the sector layout of this track from the database")
	rootCmd.PersistentFlags().BoolVar(&config.WatchLayout, "watch-layout",
		false,
		"reload the layout file on changes")
	rootCmd.PersistentFlags().BoolVar(&config.FallbackSingleSector, "fallback-single-sector",
		false,
		"use a single sector if no layout is available")
	rootCmd.PersistentFlags().BoolVar(&config.PrintFrames, "print-frames",
		false,
		"log the augmented frames on debug level")

	// add commands here
	rootCmd.AddCommand(replayCmd.NewReplayCmd())
	rootCmd.AddCommand(listenCmd.NewListenCmd())
	rootCmd.AddCommand(layoutCmd.NewLayoutCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".ist" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ist")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	bindFlags(rootCmd, viper.GetViper())
	for _, cmd := range rootCmd.Commands() {
		bindFlags(cmd, viper.GetViper())
	}
}

// Bind each cobra flag to its associated viper configuration
// (config file and environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// Environment variables can't have dashes in them, so bind them to their
		// equivalent keys with underscores, e.g. --favorite-color to STING_FAVORITE_COLOR
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name,
				fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				fmt.Fprintf(os.Stderr, "Could not bind env var %s: %v", f.Name, err)
			}
		}
		// Apply the viper config value to the flag when the flag is not set and viper
		// has a value
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				fmt.Fprintf(os.Stderr, "Could set flag value for %s: %v", f.Name, err)
			}
		}
	})
}
