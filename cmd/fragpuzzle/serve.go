package main

import (
	"github.com/spf13/cobra"

	cfgpkg "fragpuzzle/internal/config"
	"fragpuzzle/internal/server"
	"fragpuzzle/internal/store"
)

// listening 在监听成功后回调实际地址（测试用）。
var listening = func(addr string) {}

func (a *app) serveCmd() *cobra.Command {
	var (
		host     string
		port     int
		dataFile string
		delayMin int
		delayMax int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fragment endpoint until interrupted",
		Args:  checkArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			var over cfgpkg.Config
			f := cmd.Flags()
			over.Server.Host = host
			if f.Changed("port") {
				over.Server.Port = &port
			}
			over.Server.DataFile = dataFile
			if f.Changed("delay-min-ms") {
				over.Server.DelayMinMS = &delayMin
			}
			if f.Changed("delay-max-ms") {
				over.Server.DelayMaxMS = &delayMax
			}
			cfg, err := a.loadConfig(over)
			if err != nil {
				return err
			}
			opts, err := cfgpkg.ServerOptions(cfg)
			if err != nil {
				return configErr("配置校验失败: %w", err)
			}
			srv, err := server.New(opts, store.NewLazy(cfg.Server.DataFile, nil), a.logger)
			if err != nil {
				return configErr("装配失败: %w", err)
			}
			ln, err := srv.Listen()
			if err != nil {
				return err
			}
			cmd.PrintErrf("serving on http://%s (data: %s)\n", ln.Addr(), cfg.Server.DataFile)
			listening(ln.Addr().String())
			return srv.Serve(cmd.Context(), ln)
		},
	}
	f := cmd.Flags()
	f.StringVar(&host, "host", "", "监听主机（默认 localhost）")
	f.IntVar(&port, "port", 0, "监听端口（默认 8000；0 表示系统分配）")
	f.StringVar(&dataFile, "data", "", "数据文件路径（默认 lorem_ipsum.json）")
	f.IntVar(&delayMin, "delay-min-ms", 0, "响应延迟下界（毫秒）")
	f.IntVar(&delayMax, "delay-max-ms", 0, "响应延迟上界（毫秒）")
	return cmd
}
