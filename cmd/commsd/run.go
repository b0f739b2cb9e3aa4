package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	comms "github.com/dep2p/go-comms"
	"github.com/dep2p/go-comms/pkg/types"
)

// runFlags run 命令参数
//
// 命令行参数覆盖配置文件中的同名设置。
type runFlags struct {
	configPath  string
	identity    string
	listen      []string
	dial        []string
	maxConns    int
	metricsAddr string
	dialTimeout time.Duration
}

func runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "启动节点",
		Long:  "启动节点并监听配置的地址，可选地连接 --dial 指定的对端（nodeid@multiaddr）。",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "配置文件路径（JSON 或 YAML）")
	flags.StringVar(&f.identity, "identity", "", "身份密钥文件，不存在时自动生成")
	flags.StringSliceVarP(&f.listen, "listen", "l", nil, "监听地址（multiaddr），可重复")
	flags.StringSliceVarP(&f.dial, "dial", "d", nil, "启动后连接的对端 nodeid@multiaddr，可重复")
	flags.IntVar(&f.maxConns, "max-conns", 0, "最大连接数")
	flags.StringVar(&f.metricsAddr, "metrics", "", "/metrics 监听地址，如 127.0.0.1:9090")
	flags.DurationVar(&f.dialTimeout, "dial-timeout", 0, "单次连接总超时")
	return cmd
}

func buildOptions(f runFlags) []comms.Option {
	var opts []comms.Option
	if f.configPath != "" {
		opts = append(opts, comms.WithConfigFile(f.configPath))
	}
	if f.identity != "" {
		opts = append(opts, comms.WithIdentityKeyFile(f.identity))
	}
	if len(f.listen) > 0 {
		opts = append(opts, comms.WithListenAddrs(f.listen...))
	}
	if f.maxConns > 0 {
		opts = append(opts, comms.WithMaxConnections(f.maxConns))
	}
	if f.dialTimeout > 0 {
		opts = append(opts, comms.WithDialTimeout(f.dialTimeout))
	}
	if f.metricsAddr != "" {
		opts = append(opts, comms.WithMetrics(f.metricsAddr))
	}
	return opts
}

func runNode(ctx context.Context, cmd *cobra.Command, f runFlags) error {
	// 先校验 --dial，避免节点启动后才发现参数错误
	for _, d := range f.dial {
		if _, _, err := comms.ParsePeerAddr(d); err != nil {
			return err
		}
	}

	logger.Info("启动 commsd", "version", comms.Version, "commit", comms.GitCommit)
	node, err := comms.Start(ctx, buildOptions(f)...)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "NodeID: %s\n", node.ID())
	for _, a := range node.FullAddrs() {
		fmt.Fprintf(out, "  %s\n", a)
	}

	sub, err := node.Subscribe(new(types.EvtPeerDisconnected))
	if err != nil {
		return err
	}
	defer sub.Close()
	go func() {
		for ev := range sub.Out() {
			e := ev.(types.EvtPeerDisconnected)
			fmt.Fprintf(out, "断开: %s (%s)\n", e.NodeID.ShortString(), e.Reason)
		}
	}()

	for _, d := range f.dial {
		dialPeer(ctx, cmd, node, d)
	}

	<-ctx.Done()
	fmt.Fprintln(out, "正在关闭节点...")
	return nil
}

func dialPeer(ctx context.Context, cmd *cobra.Command, node *comms.Node, full string) {
	out := cmd.OutOrStdout()
	conn, err := node.ConnectAddr(ctx, full)
	if err != nil {
		var cmErr *comms.ConnectionManagerError
		if errors.As(err, &cmErr) {
			logger.Warn("连接失败", "peer", full, "kind", cmErr.Kind.String(), "error", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "连接 %s 失败: %v\n", full, err)
		return
	}

	rtt, err := conn.Ping(ctx)
	if err != nil {
		fmt.Fprintf(out, "已连接 %s (%s)，ping 失败: %v\n", conn.NodeID().ShortString(), conn.UserAgent(), err)
		return
	}
	fmt.Fprintf(out, "已连接 %s (%s)，rtt %s\n", conn.NodeID().ShortString(), conn.UserAgent(), rtt)
}
