package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "minimq",
		Short:         "MQTT relay board client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path of config file.")

	rootCmd.AddCommand(
		runCmd(&configFlag),
		serviceCmd(&configFlag),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runCmd(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run in the foreground, or under the service manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService(*configFlag)
			if err != nil {
				return err
			}
			return s.Run()
		},
	}
}

func serviceCmd(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:       "service <action>",
		Short:     "Control the system service",
		Long:      fmt.Sprintf("Control the system service. Valid actions: %q", service.ControlAction),
		Args:      cobra.ExactArgs(1),
		ValidArgs: service.ControlAction[:],
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService(*configFlag)
			if err != nil {
				return err
			}
			return service.Control(s, args[0])
		},
	}
}

func newService(configFlag string) (service.Service, error) {
	ePath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	eDir, _ := filepath.Split(ePath)

	// Set defaults before config override.
	if service.Interactive() {
		log.SetLevel(log.DebugLevel)
	}

	svcConfig := service.Config{
		Name:        "minimq",
		DisplayName: "minimq MQTT device client",
		Description: "Switches relay outputs from MQTT commands.",
	}
	if configFlag != "" {
		abs, err := filepath.Abs(configFlag)
		if err != nil {
			return nil, err
		}
		configFlag = abs
		svcConfig.Arguments = []string{"run", "-c", abs}
	} else {
		svcConfig.Arguments = []string{"run"}
	}

	prg := program{configFlag: configFlag, execDir: eDir}
	return service.New(&prg, &svcConfig)
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
