// Package main 提供 commsd 命令行入口
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	comms "github.com/dep2p/go-comms"
	"github.com/dep2p/go-comms/pkg/lib/log"
)

var logger = log.Logger("comms/cmd")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "commsd",
		Short: "commsd - 点对点连接管理节点",
		Long: `commsd 运行一个 go-comms 节点：在配置的地址上监听，
通过 Noise 握手认证对端，并在 Yamux 会话上提供子流。`,
		Version:       comms.VersionInfo(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.ParseLevels(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"日志级别，如 info 或 info,core/connmgr=debug")

	root.AddCommand(runCmd())
	root.AddCommand(keygenCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), comms.VersionInfo())
		},
	}
}
