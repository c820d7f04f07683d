package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"sentinel/internal/analyzer"
	"sentinel/internal/battery"
	"sentinel/internal/classifier"
	"sentinel/internal/config"
	"sentinel/internal/decoder"
	"sentinel/internal/drift"
	sentinelerrors "sentinel/internal/errors"
	"sentinel/internal/features"
	"sentinel/internal/harness"
	"sentinel/internal/history"
	"sentinel/internal/oracle"
	"sentinel/internal/output"
	"sentinel/internal/proxy"
	"sentinel/internal/tracer"
	"sentinel/internal/validation"
	"sentinel/internal/verdict"
	"sentinel/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// 存储预取深度
const (
	FastPrefetchSlots = 20
	DeepPrefetchSlots = 100

	// MaxWhitelistCandidates 从预取存储中提取的白名单候选上限
	MaxWhitelistCandidates = 3
)

// IncompleteFlag 扫描未收齐全部信号时附加的标签
const IncompleteFlag = "Analysis incomplete"

// Scanner 扫描编排器。串联预取、代理解析、基线模拟、静态分析、
// 模拟战役、特征提取、分类器、漂移检测与裁决组装。
// 除基线模拟外，任何阶段失败都只降级，不使扫描整体失败。
type Scanner struct {
	cfg        *config.Config
	oracle     oracle.Oracle
	validator  *validation.Validator
	resolver   *proxy.Resolver
	analyzer   *analyzer.Analyzer
	battery    *battery.Battery
	classifier *classifier.Client
	detector   *drift.Detector
	repo       *history.Repository
	decoder    *decoder.SelectorDecoder
	out        output.Output
	logger     *logrus.Logger

	deadline time.Duration
}

// NewScanner 创建扫描编排器
func NewScanner(cfg *config.Config, o oracle.Oracle, repo *history.Repository, out output.Output, logger *logrus.Logger) *Scanner {
	gasLimit := cfg.Scanner.GasLimit
	return &Scanner{
		cfg:        cfg,
		oracle:     o,
		validator:  validation.NewValidator(logger, false),
		resolver:   proxy.NewResolver(o, logger),
		analyzer:   analyzer.New(o, logger),
		battery:    battery.New(logger, gasLimit, cfg.Scanner.MaxConcurrent),
		classifier: classifier.NewClient(cfg.Classifier, logger),
		detector:   drift.NewDetector(repo, logger),
		repo:       repo,
		decoder:    decoder.NewSelectorDecoder(logger, cfg.Decoder),
		out:        out,
		logger:     logger,
		deadline:   time.Duration(cfg.Scanner.DeadlineSeconds) * time.Second,
	}
}

// Classifier 暴露分类器客户端（健康检查用）
func (s *Scanner) Classifier() *classifier.Client {
	return s.classifier
}

// state 单次扫描的中间状态，阶段间传递
type state struct {
	req        *models.TransactionRequest
	baseTs     uint64
	bundle     *oracle.Bundle
	resolution *proxy.Resolution
	baseline   *models.Outcome
	trace      *models.TraceResult
	report     *models.SecurityReport
	batteryRes *models.BatteryResult
	prediction *models.ClassifierPrediction
	driftRes   *models.DriftAnalysis
	methodName string
	incomplete bool
}

// Scan 执行一次完整扫描。候选交易绝不触链，全部执行发生在沙盘内。
func (s *Scanner) Scan(ctx context.Context, req *models.TransactionRequest) (resp *models.AnalyzeResponse, err error) {
	if result := s.validator.ValidateRequest(req); !result.Valid {
		if len(result.Errors) > 0 {
			return nil, result.Errors[0]
		}
		return nil, sentinelerrors.ErrValidationFailed
	}

	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	st := &state{
		req:    req,
		baseTs: uint64(time.Now().Unix()),
	}

	// 管线内部panic只废弃当前扫描，降级为不完整响应
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("扫描管线panic，降级为不完整响应: %v", r)
			st.incomplete = true
			resp, err = s.assemble(st), nil
		}
	}()

	if selector, name, isCall := s.decoder.Describe(req.Data); isCall {
		st.methodName = name
		s.logger.WithFields(logrus.Fields{
			"chain_id": req.ChainID,
			"to":       req.To.Hex(),
			"selector": selector,
			"method":   name,
		}).Info("开始扫描")
	} else {
		s.logger.WithFields(logrus.Fields{
			"chain_id": req.ChainID,
			"to":       req.To.Hex(),
		}).Info("开始扫描（纯转账）")
	}

	slotCount := FastPrefetchSlots
	if s.cfg.Scanner.DeepStorage {
		slotCount = DeepPrefetchSlots
	}
	bundle, err := s.oracle.Prefetch(ctx, req.ChainID, req.To, slotCount)
	if err != nil {
		return nil, fmt.Errorf("预取目标状态失败: %w", err)
	}
	st.bundle = bundle

	// 目标没有字节码：纯转账或EOA，无可分析内容
	if len(bundle.Code) == 0 {
		return s.assembleNonContract(st), nil
	}

	resolution, resolveErr := s.resolver.Resolve(ctx, req.ChainID, req.To, bundle.Code)
	if resolveErr != nil {
		s.logger.Warnf("代理解析失败，按非代理继续: %v", resolveErr)
		resolution = &proxy.Resolution{Info: models.NoProxy(), TargetCode: bundle.Code}
	}
	st.resolution = resolution

	if err := s.runBaseline(st); err != nil {
		return nil, err
	}

	st.report = s.analyzer.Analyze(ctx, &analyzer.Input{
		ChainID:   req.ChainID,
		Address:   req.To,
		Code:      s.targetCode(st),
		ProxyCode: s.proxyCode(st),
		Storage:   bundle.Slots,
		Baseline:  st.baseline,
		Trace:     st.trace,
		Proxy:     resolution.Info,
	})
	s.weaveMethodName(st)

	s.runBattery(ctx, st)
	s.runClassifier(ctx, st)
	s.runDrift(ctx, st)

	if ctx.Err() != nil {
		st.incomplete = true
	}

	s.persist(st)

	return s.assemble(st), nil
}

// weaveMethodName 把解码出的方法名织入机制叙事标题。纯展示用途。
func (s *Scanner) weaveMethodName(st *state) {
	if st.methodName == "" || st.methodName == "unknown" {
		return
	}
	if st.report == nil || st.report.MechanismStory == nil {
		return
	}
	st.report.MechanismStory.Title = st.methodName + " — " + st.report.MechanismStory.Title
}

// targetCode 分析落点的字节码（代理已再归位到最终实现）
func (s *Scanner) targetCode(st *state) []byte {
	if st.resolution != nil && len(st.resolution.TargetCode) > 0 {
		return st.resolution.TargetCode
	}
	return st.bundle.Code
}

// proxyCode 起点代理自身的字节码（非代理时为nil）
func (s *Scanner) proxyCode(st *state) []byte {
	if st.resolution != nil && st.resolution.Info != nil && st.resolution.Info.IsProxy {
		return st.bundle.Code
	}
	return nil
}

// runBaseline 基线模拟：当前请求原样执行一次，挂载指令追踪。
// 这是唯一的致命阶段：沙盘不变式被破坏时整个扫描失败。
func (s *Scanner) runBaseline(st *state) error {
	tr := tracer.New()

	value := new(uint256.Int)
	if st.req.Value != nil {
		if v, overflow := uint256.FromBig(st.req.Value); !overflow {
			value = v
		}
	}

	h := harness.New(&harness.RunConfig{
		Code:             s.targetCode(st),
		ExtraCode:        s.extraCode(st),
		PreloadedStorage: st.bundle.Slots,
		Sender:           st.req.From,
		To:               st.req.To,
		Data:             st.req.Data,
		Value:            value,
		GasLimit:         s.cfg.Scanner.GasLimit,
		ChainID:          st.req.ChainID,
		Block:            harness.BlockEnv{Timestamp: st.baseTs},
	})
	outcome, err := h.Run(tr)
	if err != nil {
		var serr *sentinelerrors.SentinelError
		if errors.As(err, &serr) && serr.Type == sentinelerrors.ErrorTypeEvmInvariantBroken {
			return err
		}
		return fmt.Errorf("基线模拟失败: %w", err)
	}

	st.baseline = outcome
	st.trace = tr.Result()
	return nil
}

// runBattery 模拟战役，结果并入安全报告
func (s *Scanner) runBattery(ctx context.Context, st *state) {
	value := new(uint256.Int)
	if st.req.Value != nil {
		if v, overflow := uint256.FromBig(st.req.Value); !overflow {
			value = v
		}
	}

	in := &battery.Input{
		ChainID:       st.req.ChainID,
		From:          st.req.From,
		To:            st.req.To,
		Data:          st.req.Data,
		Value:         value,
		Code:          s.targetCode(st),
		ExtraCode:     s.extraCode(st),
		Storage:       st.bundle.Slots,
		Owner:         st.report.Owner,
		Whitelisted:   s.whitelistCandidates(st),
		BaseTimestamp: st.baseTs,
	}

	st.batteryRes = s.battery.Run(ctx, in)

	// 战役信号并入报告：标签集合语义，风险分饱和累加
	st.report.AddRisk(st.batteryRes.OverallRiskScore)
	for _, f := range st.batteryRes.AllFlags() {
		st.report.AddFlag(f)
	}
	if st.batteryRes.IsScam {
		st.report.IsHoneypot = true
	}
}

// runClassifier 特征提取加分类器调用。分类器不可用时静默跳过。
func (s *Scanner) runClassifier(ctx context.Context, st *state) {
	if !s.classifier.Available() {
		return
	}

	fv := features.Extract(&features.Input{
		Report:  st.report,
		Trace:   st.trace,
		Battery: st.batteryRes,
		Code:    s.targetCode(st),
	})

	prediction, err := s.classifier.Predict(ctx, fv)
	if err != nil {
		s.logger.Warnf("分类器调用失败，跳过ML信号: %v", err)
		return
	}
	st.prediction = prediction
}

// runDrift 与上次扫描对比行为漂移。历史存储不可用时跳过。
func (s *Scanner) runDrift(ctx context.Context, st *state) {
	if s.repo == nil {
		return
	}

	addrKey := models.CanonicalAddress(st.req.To)
	analysis, err := s.detector.Analyze(addrKey, st.report)
	if err != nil {
		s.logger.Warnf("漂移检测失败，跳过: %v", err)
		return
	}
	if analysis == nil {
		return
	}
	st.driftRes = analysis

	// 可选：分类器侧的漂移异常检测作为补充信号
	if s.cfg.Classifier.EnableDrift && s.classifier.Available() {
		resp, err := s.classifier.CheckDrift(ctx, &classifier.DriftCheckRequest{
			SimRiskScore: float32(st.report.RiskScore) / 100,
		})
		if err != nil {
			s.logger.Debugf("分类器漂移检测失败: %v", err)
		} else if resp.AnomalyDetected {
			analysis.AnomalyDetected = true
			st.report.AddFlag("Behavioral drift anomaly detected")
			s.logger.Warnf("分类器检测到漂移异常: %s", resp.Reason)
		}
	}
}

// persist 把本次扫描写入历史存储并发布。先读后写的次序由
// runDrift在前、persist在后保证。
func (s *Scanner) persist(st *state) {
	if st.incomplete {
		st.report.AddFlag(IncompleteFlag)
	}

	record := &models.ScanRecord{
		TimestampMs:     uint64(time.Now().UnixMilli()),
		ChainID:         st.req.ChainID,
		Address:         models.CanonicalAddress(st.req.To),
		RiskScore:       st.report.RiskScore,
		Flags:           append([]string(nil), st.report.Flags...),
		CapabilityHash:  models.CapabilityHash(st.report.Flags),
		IsHoneypot:      st.report.IsHoneypot,
		OwnershipStatus: st.report.OwnershipStatus,
		ProxyInfo:       st.report.ProxyInfo,
	}

	if s.repo != nil {
		if err := s.repo.Append(record); err != nil {
			s.logger.Warnf("写入历史记录失败: %v", err)
		}
	}

	if s.out != nil {
		if err := s.out.WriteScanRecord(record); err != nil {
			s.logger.Warnf("发布扫描记录失败: %v", err)
		}
	}
}

// assemble 组装最终响应
func (s *Scanner) assemble(st *state) *models.AnalyzeResponse {
	if st.report == nil {
		st.report = models.NewSecurityReport()
	}
	if st.incomplete {
		st.report.AddFlag(IncompleteFlag)
	}

	v := verdict.Assemble(&verdict.Input{
		Report:     st.report,
		Battery:    st.batteryRes,
		Prediction: st.prediction,
		Incomplete: st.incomplete,
	})

	resp := &models.AnalyzeResponse{
		SecurityReport: st.report,
		ProxyInfo:      st.report.ProxyInfo,
		DriftAnalysis:  st.driftRes,
		FinalVerdict:   v,
	}

	if st.baseline != nil {
		resp.Status = st.baseline.Status
	}
	if st.trace != nil {
		resp.InstructionCount = st.trace.StepCount
		resp.SstoreCount = st.trace.SstoreCount
		resp.CallCount = st.trace.TotalCallCount()
	}
	if st.batteryRes != nil {
		resp.AdvancedAnalysis = &models.AdvancedAnalysis{
			TimeTravel:       st.batteryRes.TimeTravel,
			Counterfactual:   st.batteryRes.Counterfactual,
			OverallRiskScore: st.batteryRes.OverallRiskScore,
			OverallSummary:   st.batteryRes.OverallSummary,
			IsScam:           st.batteryRes.IsScam,
		}
	}
	if p := st.prediction; p != nil {
		resp.MLAnalysis = &models.MLAnalysis{
			ScamProbability:    p.ScamProbability,
			Uncertainty:        p.Uncertainty,
			ConfidenceInterval: p.ConfidenceInterval,
			Verdict:            p.Verdict,
			Reason:             p.Reason,
			ModelVersion:       p.ModelVersion,
			RiskBand:           p.RiskBand,
		}
	}

	if s.out != nil && v != nil {
		msg := &output.VerdictMessage{
			TimestampMs: uint64(time.Now().UnixMilli()),
			ChainID:     st.req.ChainID,
			Address:     models.CanonicalAddress(st.req.To),
			From:        models.CanonicalAddress(st.req.From),
			Verdict:     v,
		}
		if err := s.out.WriteVerdict(msg); err != nil {
			s.logger.Warnf("发布裁决事件失败: %v", err)
		}
	}

	return resp
}

// assembleNonContract 目标无字节码时的固定响应：没有代码就没有蜜罐
func (s *Scanner) assembleNonContract(st *state) *models.AnalyzeResponse {
	report := models.NewSecurityReport()
	report.FriendlyExplanation = "Target has no contract code. This is a plain transfer to an externally owned account."
	st.report = report

	return &models.AnalyzeResponse{
		Status:         models.StatusSuccess,
		SecurityReport: report,
		FinalVerdict: &models.FinalVerdict{
			Verdict:    models.VerdictSafe,
			Reason:     "Target has no contract code",
			Confidence: 50,
			Source:     models.SourceDefault,
		},
	}
}

// extraCode 代理再归位需要注入的实现字节码
func (s *Scanner) extraCode(st *state) map[common.Address][]byte {
	if st.resolution == nil {
		return nil
	}
	return st.resolution.ImplCode
}

// whitelistCandidates 从预取存储中提取疑似地址的槽值作为白名单候选。
// 候选按hex排序，保证同一状态下扫描可复现。
func (s *Scanner) whitelistCandidates(st *state) []common.Address {
	var out []common.Address
	for _, word := range st.bundle.Slots {
		addr := wordAsAddress(word)
		if addr == nil {
			continue
		}
		if *addr == st.req.From || *addr == st.req.To {
			continue
		}
		if st.report.Owner != nil && *addr == *st.report.Owner {
			continue
		}
		out = append(out, *addr)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	// 相邻去重
	dedup := out[:0]
	var prev common.Address
	for i, a := range out {
		if i > 0 && a == prev {
			continue
		}
		dedup = append(dedup, a)
		prev = a
	}
	if len(dedup) > MaxWhitelistCandidates {
		dedup = dedup[:MaxWhitelistCandidates]
	}
	return dedup
}

// wordAsAddress 槽值是否形如地址：高12字节全零且低20字节非零
func wordAsAddress(word common.Hash) *common.Address {
	for _, b := range word[:12] {
		if b != 0 {
			return nil
		}
	}
	addr := common.BytesToAddress(word[12:])
	if addr == (common.Address{}) {
		return nil
	}
	return &addr
}
