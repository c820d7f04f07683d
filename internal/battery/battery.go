package battery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"sentinel/internal/harness"
	"sentinel/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// ActorTokenFunding 为行为者注入的代币数量（1000个18位精度代币）
var ActorTokenFunding = uint256.MustFromDecimal("1000000000000000000000")

// Input 一次战役的输入。两族场景共享同一份预取的字节码与存储，
// 避免重复访问预言机。
type Input struct {
	ChainID uint64
	From    common.Address
	To      common.Address
	Data    []byte
	Value   *uint256.Int

	Code      []byte
	ExtraCode map[common.Address][]byte
	Storage   map[common.Hash]common.Hash

	Owner       *common.Address
	Whitelisted []common.Address

	// BaseTimestamp 基线时刻。由调用方固定传入，保证扫描可复现。
	BaseTimestamp uint64
}

// Battery 模拟战役编排器。两个独立维度：时间偏移与行为者身份。
// 每个子运行使用独立的新建沙盘，可任意并行。
type Battery struct {
	logger        *logrus.Logger
	gasLimit      uint64
	maxConcurrent int
}

// New 创建战役编排器
func New(logger *logrus.Logger, gasLimit uint64, maxConcurrent int) *Battery {
	if maxConcurrent <= 0 {
		maxConcurrent = 12
	}
	return &Battery{logger: logger, gasLimit: gasLimit, maxConcurrent: maxConcurrent}
}

// RandomActor 由(to,from)确定性导出的"随机"行为者地址。
// 同一请求总是得到同一行为者，保证扫描可复现。
func RandomActor(to, from common.Address) common.Address {
	h := crypto.Keccak256(to.Bytes(), from.Bytes())
	return common.BytesToAddress(h[12:])
}

// Run 执行完整战役：时间旅行族 + 反事实族，并发扇出
func (b *Battery) Run(ctx context.Context, in *Input) *models.BatteryResult {
	baseline := b.runVariant(ctx, in, in.From, 0, false)

	var wg sync.WaitGroup
	sem := make(chan struct{}, b.maxConcurrent)

	// 时间旅行族：每个规范偏移一个子运行
	ttOutcomes := make([]*models.Outcome, len(models.CanonicalOffsets))
	for i, offset := range models.CanonicalOffsets {
		wg.Add(1)
		go func(i int, offset int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}
			ttOutcomes[i] = b.runVariant(ctx, in, in.From, offset, false)
		}(i, offset)
	}

	// 反事实族：每个行为者一个子运行
	actors := b.actors(in)
	cfOutcomes := make([]*models.Outcome, len(actors))
	for i, actor := range actors {
		wg.Add(1)
		go func(i int, actor models.ActorRun) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}
			cfOutcomes[i] = b.runVariant(ctx, in, actor.Address, 0, actor.Role == models.ActorOwner)
		}(i, actor)
	}

	wg.Wait()

	tt := b.classifyTimeTravel(baseline, ttOutcomes)
	for i := range actors {
		actors[i].Outcome = cfOutcomes[i]
	}
	cf := b.classifyCounterfactual(actors)

	return aggregate(tt, cf)
}

// actors 组装反事实行为者集合
func (b *Battery) actors(in *Input) []models.ActorRun {
	actors := []models.ActorRun{
		{Role: models.ActorCurrentUser, Address: in.From},
		{Role: models.ActorRandomUser, Address: RandomActor(in.To, in.From)},
	}
	if in.Owner != nil && *in.Owner != (common.Address{}) {
		actors = append(actors, models.ActorRun{Role: models.ActorOwner, Address: *in.Owner})
	}
	for _, w := range in.Whitelisted {
		if w == in.From || (in.Owner != nil && w == *in.Owner) {
			continue
		}
		actors = append(actors, models.ActorRun{Role: models.ActorWhitelisted, Address: w})
	}
	return actors
}

// runVariant 执行单个子运行。失败返回nil（结果未知），
// 既不添加也不压制标签，并从比率分母中剔除。
func (b *Battery) runVariant(ctx context.Context, in *Input, sender common.Address, offset int64, asOwner bool) *models.Outcome {
	if ctx.Err() != nil {
		return nil
	}

	cfg := &harness.RunConfig{
		Code:             in.Code,
		ExtraCode:        in.ExtraCode,
		PreloadedStorage: in.Storage,
		BalanceInjection: map[common.Address]*uint256.Int{sender: ActorTokenFunding},
		Sender:           sender,
		To:               in.To,
		Data:             in.Data,
		Value:            in.Value,
		GasLimit:         b.gasLimit,
		ChainID:          in.ChainID,
		Block: harness.BlockEnv{
			Timestamp: shiftTimestamp(in.BaseTimestamp, offset),
		},
	}
	if asOwner {
		owner := sender
		cfg.OwnerInjection = &owner
	}

	outcome, err := harness.New(cfg).Run(nil)
	if err != nil {
		b.logger.Warnf("子运行失败: sender=%s offset=%d: %v", sender.Hex(), offset, err)
		return nil
	}
	return outcome
}

// shiftTimestamp 偏移时间戳，向下不越过零
func shiftTimestamp(base uint64, offset int64) uint64 {
	if offset >= 0 {
		return base + uint64(offset)
	}
	neg := uint64(-offset)
	if neg >= base {
		return 0
	}
	return base - neg
}

// classifyTimeTravel 按基线比对每个偏移并套用分类规则
func (b *Battery) classifyTimeTravel(baseline *models.Outcome, outcomes []*models.Outcome) *models.TimeTravelResult {
	result := &models.TimeTravelResult{
		CurrentOutcome: baseline,
		Variants:       make([]models.TimeTravelVariant, 0, len(outcomes)),
		Flags:          make([]string, 0),
	}

	for i, offset := range models.CanonicalOffsets {
		outcome := outcomes[i]
		desc := models.DescribeOffset(offset)
		variant := models.TimeTravelVariant{
			OffsetSeconds: offset,
			Description:   desc,
			Outcome:       outcome,
		}
		if outcome == nil {
			// 结果未知的子运行不参与分类
			result.Variants = append(result.Variants, variant)
			continue
		}

		variant.Diverges = baseline.Diverges(outcome)
		result.Variants = append(result.Variants, variant)
		if !variant.Diverges {
			continue
		}
		result.IsTimeSensitive = true

		switch {
		case offset > 0 && baseline.Succeeded() && outcome.Reverted():
			result.Flags = append(result.Flags, fmt.Sprintf("TIME-BOMB: Transaction fails at %s", desc))
			if offset <= models.OffsetSevenDays {
				result.Flags = append(result.Flags, "CRITICAL: Fails within 7 days — transaction will stop working soon")
			}
		case offset > 0 && baseline.Reverted() && outcome.Succeeded():
			result.Flags = append(result.Flags, fmt.Sprintf("DELAYED TRADING: Trading opens at %s", desc))
			if offset > models.OffsetOneDay {
				result.Flags = append(result.Flags, "WARNING: Extended trading delay — funds may be locked longer than expected")
			}
		case offset < 0 && baseline.Reverted() && outcome.Succeeded():
			result.Flags = append(result.Flags, "TRADING CLOSED: Transaction worked before but fails now")
		}
	}

	return result
}

// classifyCounterfactual 在行为者矩阵上套用检测规则
func (b *Battery) classifyCounterfactual(runs []models.ActorRun) *models.CounterfactualResult {
	result := &models.CounterfactualResult{
		Runs:  runs,
		Flags: make([]string, 0),
	}

	var (
		ownerSucceeded, ownerReverted, ownerPresent bool
		anyRandomSucceeded, allRandomReverted       = false, true
		randomSeen                                  bool
		whitelistedSucceeded                        bool
		allNonOwnerReverted                         = true
		nonOwnerSeen                                bool
		ownerGas, randomGas                         uint64
		ownerGasOK, randomGasOK                     bool
	)

	for _, run := range runs {
		if run.Outcome == nil {
			continue
		}
		isOwner := run.Role == models.ActorOwner
		if isOwner {
			ownerPresent = true
			if run.Outcome.Succeeded() {
				ownerSucceeded = true
				ownerGas, ownerGasOK = run.Outcome.GasUsed, true
			} else {
				ownerReverted = true
			}
			continue
		}

		nonOwnerSeen = true
		if run.Outcome.Succeeded() {
			allNonOwnerReverted = false
		}
		switch run.Role {
		case models.ActorRandomUser:
			randomSeen = true
			if run.Outcome.Succeeded() {
				anyRandomSucceeded = true
				allRandomReverted = false
				randomGas, randomGasOK = run.Outcome.GasUsed, true
			}
		case models.ActorWhitelisted:
			if run.Outcome.Succeeded() {
				whitelistedSucceeded = true
			}
		}
	}

	// 规则1：非所有者全部回滚而所有者成功 ⇒ 蜜罐
	if nonOwnerSeen && allNonOwnerReverted && ownerSucceeded {
		result.IsHoneypot = true
		result.HasOwnerPrivileges = true
		result.Risk = 100
		result.Flags = append(result.Flags, "CRITICAL HONEYPOT: Owner can execute, but users CANNOT")
		result.PrivilegeDiffs = append(result.PrivilegeDiffs, models.PrivilegeDiff{
			Description: "Owner succeeded where every ordinary user reverted",
			Severity:    "Critical",
		})
	}

	// 规则2：白名单行为者成功而随机用户全部回滚 ⇒ 白名单机制。
	// 随机用户结果未知时不构成证据，与规则1的nonOwnerSeen同理。
	if whitelistedSucceeded && randomSeen && allRandomReverted {
		result.HasWhitelistMechanism = true
		if result.Risk < 80 {
			result.Risk = 80
		}
		result.Flags = append(result.Flags, "WHITELIST DETECTED")
		result.PrivilegeDiffs = append(result.PrivilegeDiffs, models.PrivilegeDiff{
			Description: "Only whitelisted addresses can execute this call",
			Severity:    "High",
		})
	}

	// 规则3：随机用户能执行而所有者不能 ⇒ 异常权限倒挂
	if anyRandomSucceeded && ownerPresent && ownerReverted && !ownerSucceeded {
		result.Flags = append(result.Flags, "UNUSUAL: Users execute but owner cannot — inverted privilege pattern")
		result.PrivilegeDiffs = append(result.PrivilegeDiffs, models.PrivilegeDiff{
			Description: "Ordinary users succeed while the owner reverts",
			Severity:    "Medium",
		})
	}

	// 规则4：gas异常，用户与所有者都成功但gas差异过半
	if ownerGasOK && randomGasOK {
		diff := int64(ownerGas) - int64(randomGas)
		if diff < 0 {
			diff = -diff
		}
		avg := (ownerGas + randomGas) / 2
		if avg > 0 && float64(diff)/float64(avg) > 0.5 {
			result.Flags = append(result.Flags, "GAS ANOMALY: Gas usage differs sharply between owner and users")
			result.Risk += 15
			if result.Risk > 100 {
				result.Risk = 100
			}
		}
	}

	return result
}

// aggregate 汇总两族结果
func aggregate(tt *models.TimeTravelResult, cf *models.CounterfactualResult) *models.BatteryResult {
	result := &models.BatteryResult{
		TimeTravel:     tt,
		Counterfactual: cf,
	}

	risk := cf.Risk
	if tt.IsTimeSensitive {
		risk += 25
	}
	hasTimeBomb := false
	for _, f := range tt.Flags {
		if strings.HasPrefix(f, "TIME-BOMB") {
			hasTimeBomb = true
			break
		}
	}
	if hasTimeBomb {
		risk += 25
	}
	if risk > 100 {
		risk = 100
	}
	result.OverallRiskScore = risk
	result.IsScam = cf.IsHoneypot || cf.HasWhitelistMechanism || result.HasCriticalTimeFlag()
	result.OverallSummary = summarize(result)

	return result
}

// summarize 生成战役摘要
func summarize(r *models.BatteryResult) string {
	switch {
	case r.Counterfactual.IsHoneypot:
		return "Honeypot behavior detected: the owner can execute this call but ordinary users cannot."
	case r.Counterfactual.HasWhitelistMechanism:
		return "Whitelist mechanism detected: only approved addresses can execute this call."
	case r.HasCriticalTimeFlag():
		return "Time-dependent failure detected: this transaction will stop working in the near future."
	case r.TimeTravel.IsTimeSensitive:
		return "Behavior of this contract changes with time."
	case r.OverallRiskScore > 0:
		return fmt.Sprintf("Simulation battery finished with aggregate risk %d/100.", r.OverallRiskScore)
	default:
		return "All simulations behaved consistently across time and actors."
	}
}
