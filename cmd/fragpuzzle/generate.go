package main

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "fragpuzzle/internal/config"
	"fragpuzzle/internal/store"
	"fragpuzzle/pkg/contract"
	rfs "fragpuzzle/plugins/reader/filesystem"
	wfs "fragpuzzle/plugins/writer/filesystem"
)

func (a *app) generateCmd() *cobra.Command {
	var (
		output string
		force  bool
		seed   int64
	)
	cmd := &cobra.Command{
		Use:   "generate [file|dir|-]...",
		Short: "Tokenize source text and write the shuffled fragment data file",
		Args:  checkArgs(cobra.ArbitraryArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.loadConfig(cfgpkg.Config{}); err != nil {
				return err
			}
			text, err := rfs.New(nil, a.stdin).ReadAll(cmd.Context(), args)
			if err != nil {
				if rfs.IsNotFound(err) || errors.Is(err, contract.ErrInvalidInput) {
					return configErr("读取输入失败: %w", err)
				}
				return err
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			recs := store.Generate(text, rand.New(rand.NewSource(seed)))
			if len(recs) == 0 {
				return configErr("输入不含任何词")
			}
			var buf bytes.Buffer
			if err := store.Encode(&buf, recs); err != nil {
				return err
			}
			if output == "-" {
				_, err := a.stdout.Write(buf.Bytes())
				return err
			}
			w, id, err := wfs.ForFile(output, !force)
			if err != nil {
				return configErr("%w", err)
			}
			timer := a.logger.StartWithKV("generate", "write", map[string]string{"path": output})
			if err := w.Write(cmd.Context(), id, &buf); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			timer.Finish("write", int64(len(recs)))
			cmd.PrintErrf("wrote %d fragments to %s\n", len(recs), output)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "lorem_ipsum.json", "数据文件输出路径（- 表示 STDOUT）")
	f.BoolVar(&force, "force", false, "覆盖已存在的输出文件")
	f.Int64Var(&seed, "seed", 0, "随机种子（0 表示按时间）")
	return cmd
}
