package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sentinel/internal/config"
	"sentinel/internal/history"
	"sentinel/internal/oracle"
	"sentinel/internal/output"
	"sentinel/internal/scan"
	"sentinel/pkg/models"
)

var (
	// 交易参数
	chainFlag string
	fromFlag  string
	toFlag    string
	dataFlag  string
	valueFlag string

	// 高级参数
	configFile  string
	verbose     bool
	deepStorage bool
	historyN    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "EVM交易签名前防火墙",
		Long:  `在签名前于隔离沙盘内模拟候选交易，识别蜜罐、时间炸弹与所有者特权骗局`,
		RunE:  runScan,
	}

	// 交易参数
	rootCmd.Flags().StringVar(&chainFlag, "chain", "1", "链标识（整数或 eip155:<n>）")
	rootCmd.Flags().StringVar(&fromFlag, "from", "", "发送方地址")
	rootCmd.Flags().StringVar(&toFlag, "to", "", "目标合约地址")
	rootCmd.Flags().StringVar(&dataFlag, "data", "", "hex编码的calldata")
	rootCmd.Flags().StringVar(&valueFlag, "value", "0", "金额（wei，十进制或0x十六进制）")

	// 高级参数
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.Flags().BoolVar(&deepStorage, "deep-storage", false, "深度存储预取（槽位0..99）")

	// 历史查询子命令
	historyCmd := &cobra.Command{
		Use:   "history <address>",
		Short: "查看地址的历史扫描记录",
		Args:  cobra.ExactArgs(1),
		RunE:  showHistory,
	}
	historyCmd.Flags().IntVar(&historyN, "limit", 10, "返回的记录条数")

	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// newLogger 创建CLI日志器
func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel) // 一次性扫描时结果走stdout，日志保持安静
	}
	return logger
}

// loadConfig 加载配置，文件不存在时回退到内置默认
func loadConfig(logger *logrus.Logger) *config.Config {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.Debugf("加载配置失败，使用内置默认配置: %v", err)
		return config.GetDefaultConfig()
	}
	return cfg
}

func runScan(cmd *cobra.Command, args []string) error {
	if fromFlag == "" || toFlag == "" {
		return fmt.Errorf("必须指定 --from 和 --to")
	}

	logger := newLogger()
	cfg := loadConfig(logger)
	if deepStorage {
		cfg.Scanner.DeepStorage = true
	}

	chainID, err := models.ParseChainID(chainFlag)
	if err != nil {
		return err
	}
	from, err := models.ParseAddress(fromFlag)
	if err != nil {
		return fmt.Errorf("from: %w", err)
	}
	to, err := models.ParseAddress(toFlag)
	if err != nil {
		return fmt.Errorf("to: %w", err)
	}
	data, err := models.ParseHexData(dataFlag)
	if err != nil {
		return err
	}
	value, err := models.ParseValue(valueFlag)
	if err != nil {
		return err
	}

	oracleClient, err := oracle.NewClient(cfg.Chains, cfg.Oracle, logger)
	if err != nil {
		return fmt.Errorf("创建链预言机失败: %w", err)
	}
	defer oracleClient.Close()

	repo, cleanup := openRepository(cfg, logger)
	defer cleanup()

	out, err := buildOutput(cfg, logger)
	if err != nil {
		return fmt.Errorf("创建输出器失败: %w", err)
	}
	defer out.Close()

	scanner := scan.NewScanner(cfg, oracleClient, repo, out, logger)

	req := models.NewTransactionRequest(from, to, data, value, chainID)
	resp, err := scanner.Scan(context.Background(), req)
	if err != nil {
		return fmt.Errorf("扫描失败: %w", err)
	}

	encoded, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化响应失败: %w", err)
	}
	fmt.Println(string(encoded))

	// 拦截裁决以非零退出码结束，便于钱包脚本集成
	if resp.FinalVerdict != nil && resp.FinalVerdict.Verdict == models.VerdictBlock {
		os.Exit(2)
	}
	return nil
}

// showHistory 显示地址的历史扫描记录
func showHistory(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg := loadConfig(logger)

	addr, err := models.ParseAddress(args[0])
	if err != nil {
		return err
	}

	repo, cleanup := openRepository(cfg, logger)
	defer cleanup()
	if repo == nil {
		return fmt.Errorf("历史存储不可用")
	}

	records, err := repo.Recent(models.CanonicalAddress(addr), historyN)
	if err != nil {
		return fmt.Errorf("读取历史记录失败: %w", err)
	}

	encoded, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化记录失败: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

// openRepository 打开bbolt历史存储。失败不致命：扫描退化为无漂移检测。
func openRepository(cfg *config.Config, logger *logrus.Logger) (*history.Repository, func()) {
	store, err := history.NewBoltStore(cfg.History.Path, logger)
	if err != nil {
		logger.Warnf("历史存储打开失败，本次扫描省略漂移检测: %v", err)
		return nil, func() {}
	}
	repo := history.NewRepository(store, logger, cfg.History.ListCap, cfg.History.TTLDays)
	return repo, func() { store.Close() }
}

// buildOutput 按配置创建结果发布器
func buildOutput(cfg *config.Config, logger *logrus.Logger) (output.Output, error) {
	if cfg.Output == nil || !cfg.Output.Enable {
		return &output.NoopOutput{}, nil
	}
	return output.NewOutput(cfg.Output.Format, cfg.Output.Path, cfg.Output.Kafka, logger)
}
