/*
	Copyright 2025 NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/


package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/unlock-automation/unlock/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "unlock-sim",
	Short: "Replays scripted lock screen timelines against the unlock engine",
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:      true,
		DisableTimestamp: true,
		PadLevelText:     true,
	})
	logrus.SetReportCaller(false)

	v := viper.New()
	v.SetEnvPrefix("UNLOCK_SIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if v.GetBool("verbose") {
			logrus.SetLevel(logrus.DebugLevel)
		}
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	_ = v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	runCmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "replay a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v, args[0])
		},
	}
	runCmd.Flags().StringP("config", "c", "", "unlock configuration file (json, yaml or toml), watched for changes")
	runCmd.Flags().Duration("settle", 2*time.Second, "time to wait after the last step")
	runCmd.Flags().Bool("inspect", false, "print the engine inspection after the run")
	_ = v.BindPFlags(runCmd.Flags())

	checkCmd := &cobra.Command{
		Use:   "check <config-file>",
		Short: "decode an unlock configuration file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := config.NewFileSource(args[0])
			if err != nil {
				return err
			}
			cfg, err := source.LoadEngineConfig()
			if err != nil {
				return err
			}
			return printJson(cfg)
		},
	}

	rootCmd.AddCommand(runCmd, checkCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(v *viper.Viper, scenarioPath string) error {
	scenario, err := LoadScenario(scenarioPath)
	if err != nil {
		return err
	}

	sim := &Simulator{
		Settle: v.GetDuration("settle"),
		Out:    os.Stdout,
	}

	if configPath := v.GetString("config"); configPath != "" {
		source, err := config.NewFileSource(configPath)
		if err != nil {
			return err
		}
		if err = source.Watch(); err != nil {
			pfxlog.Logger().WithError(err).Warn("unable to watch unlock configuration, changes will be ignored")
		}
		defer func() { _ = source.Close() }()
		sim.Config = source
	}

	report, err := sim.Run(scenario)
	if err != nil {
		return err
	}

	fmt.Printf("\ndismissed: %d  confirmations: %d  collapsed: %d  denied: %d  quick unlocks: %d\n",
		report.Dismissed, report.Confirmations, report.Collapsed, report.Denied, report.QuickUnlocks)

	if v.GetBool("inspect") {
		return printJson(report.Inspect)
	}
	return nil
}

func printJson(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
