package main

import (
	"bytes"
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	cfgpkg "fragpuzzle/internal/config"
	"fragpuzzle/plugins/writer/filesystem"
)

func (a *app) initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a template config (.json or .yaml); never overwrites",
		Args:  checkArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "fragpuzzle.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			b, err := cfgpkg.MarshalTemplate(path, cfgpkg.DefaultTemplateConfig())
			if err != nil {
				return err
			}
			if path == "-" {
				_, err := a.stdout.Write(b)
				return err
			}
			w, id, err := filesystem.ForFile(path, true)
			if err != nil {
				return configErr("%w", err)
			}
			if err := w.Write(cmd.Context(), id, bytes.NewReader(b)); err != nil {
				if errors.Is(err, fs.ErrExist) {
					return configErr("%s 已存在，未覆盖", path)
				}
				return configErr("生成默认配置失败: %w", err)
			}
			cmd.PrintErrf("wrote %s\n", path)
			return nil
		},
	}
}
