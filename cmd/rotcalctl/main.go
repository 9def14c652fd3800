package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/rotation_calibrator/internal/app"
	"github.com/relabs-tech/rotation_calibrator/internal/config"
)

var (
	configPath    string
	statusTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "rotcalctl",
	Short:         "Control rotation calibrator sensors over MQTT",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.InitGlobal(configPath)
	},
}

var calibrateCmd = &cobra.Command{
	Use:       "calibrate start|stop <sensor>",
	Short:     "Start or stop a calibration pass",
	Long:      "Start discards the learned range and learns a new one from every reading until stop is sent.",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"start", "stop"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunControl(args[1], app.CtlCalibrate, args[0])
	},
}

var reverseCmd = &cobra.Command{
	Use:   "reverse on|off <sensor>",
	Short: "Invert the calibrated output direction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunControl(args[1], app.CtlReverse, args[0])
	},
}

var maxValueCmd = &cobra.Command{
	Use:   "max-value <sensor> <1-100>",
	Short: "Set the upper end of the calibrated output range",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunControl(args[0], app.CtlMaxValue, args[1])
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <sensor>",
	Short: "Print the retained state of a sensor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunStatus(cmd.OutOrStdout(), args[0], statusTimeout)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.Path(), "configuration file")
	statusCmd.Flags().DurationVarP(&statusTimeout, "timeout", "t", 3*time.Second, "how long to wait for retained messages")

	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(reverseCmd)
	rootCmd.AddCommand(maxValueCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rotcalctl: %v\n", err)
		os.Exit(1)
	}
}
