// dynschema 运维命令行：初始化元数据表、查看模型与变更日志、发布版本、观察时钟变化
package main

import (
	"fmt"
	"os"

	"github.com/hatlonely/dynschema/schema"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	configFile string
	manager    *schema.Manager
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "dynschema",
	Short:         "Inspect and operate a live relational schema",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile == "" {
			return errors.New("--config is required")
		}
		m, err := schema.NewManagerWithConfig(configFile)
		if err != nil {
			return err
		}
		if err := m.Migrate(cmd.Context()); err != nil {
			_ = m.Close()
			return err
		}
		manager = m
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if manager == nil {
			return nil
		}
		err := manager.Close()
		manager = nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, toml, json or ini)")

	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(revisionsCmd)
	rootCmd.AddCommand(bumpCmd)
	rootCmd.AddCommand(watchCmd)
}
