package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/logger"
	"github.com/life2you_mini/basisgate/internal/model"
	"github.com/life2you_mini/basisgate/internal/monitor"
	"github.com/life2you_mini/basisgate/internal/services"
)

var (
	configFile string
	envFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "basisgate",
		Short: "基差套利机会扫描与风控准入服务",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env 不存在时忽略
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("加载环境变量文件失败: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "环境变量文件")

	rootCmd.AddCommand(newRunCmd(), newScanCmd(), newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "启动服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			return runService(cfg)
		},
	}
}

func runService(cfg *config.Config) error {
	log, err := logger.NewLogger(cfg.System.LogDir, cfg.System.LogLevel)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer log.Close()
	log.Info("加载配置成功", zap.String("config_file", configFile))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := services.NewBasisGateService(ctx, cfg, log.Logger)
	if err != nil {
		log.Error("创建服务失败", zap.Error(err))
		return err
	}
	if err := service.Start(); err != nil {
		log.Error("启动服务失败", zap.Error(err))
		return err
	}
	log.Info("服务已启动")

	waitErr := make(chan error, 1)
	go func() { waitErr <- service.Wait() }()

	select {
	case <-ctx.Done():
		log.Info("接收到信号，准备关闭服务")
	case err := <-waitErr:
		if err != nil {
			log.Error("后台任务异常退出", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := service.Stop(shutdownCtx); err != nil {
		log.Error("服务关闭失败", zap.Error(err))
		return err
	}

	log.Info("服务已优雅关闭")
	return nil
}

func newScanCmd() *cobra.Command {
	var quotesFile string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "对报价文件执行一次扫描并输出排序后的机会",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.GetDefaultConfig()
			if _, err := os.Stat(configFile); err == nil {
				if cfg, err = config.LoadConfig(configFile); err != nil {
					return err
				}
			}

			data, err := os.ReadFile(quotesFile)
			if err != nil {
				return fmt.Errorf("读取报价文件失败: %w", err)
			}
			var quotes []model.MarketQuote
			if err := json.Unmarshal(data, &quotes); err != nil {
				return fmt.Errorf("解析报价文件失败: %w", err)
			}

			result := monitor.NewScanner(cfg.Scanner).Scan(quotes, time.Now())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result.Opportunities)
		},
	}
	cmd.Flags().StringVar(&quotesFile, "quotes", "", "报价JSON文件")
	_ = cmd.MarkFlagRequired("quotes")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "配置文件工具",
	}
	var output string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "生成默认配置文件",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SaveConfigToFile(config.GetDefaultConfig(), output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已写入默认配置: %s\n", output)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "config.yaml", "输出路径")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "校验配置文件本身，不应用环境变量覆盖",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigFromYAML(configFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "配置有效: %s (行情源=%s, 执行方=%s)\n",
				configFile, cfg.Feed.Mode, cfg.Dispatcher.Mode)
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
