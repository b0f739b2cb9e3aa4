package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dep2p/go-comms/internal/core/identity"
)

func keygenCmd() *cobra.Command {
	var (
		out   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "生成节点身份密钥",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s 已存在，使用 --force 覆盖", out)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			id, err := identity.Generate(rand.Reader)
			if err != nil {
				return err
			}
			if err := identity.Save(id, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "NodeID:    %s\nPublicKey: %s\nKeyFile:   %s\n",
				id.NodeID(), id.PublicKey(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "identity.key", "密钥文件路径")
	cmd.Flags().BoolVar(&force, "force", false, "覆盖已存在的密钥文件")
	return cmd
}
