package battery

import (
	"testing"

	"sentinel/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newBattery() *Battery {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(logger, 5_000_000, 4)
}

func success(gas uint64) *models.Outcome {
	return models.NewSuccessOutcome(gas, nil)
}

func reverted() *models.Outcome {
	return models.NewRevertedOutcome(30_000, "locked", nil)
}

func TestRandomActorIsDeterministic(t *testing.T) {
	to := common.HexToAddress("0x01")
	from := common.HexToAddress("0x02")

	a := RandomActor(to, from)
	b := RandomActor(to, from)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, from)
	assert.NotEqual(t, RandomActor(to, common.HexToAddress("0x03")), a)
}

func TestTimeTravelTimeBombAtSevenDays(t *testing.T) {
	b := newBattery()
	baseline := success(50_000)
	// 偏移顺序：+1h, +1d, +7d, +30d, -1d
	outcomes := []*models.Outcome{
		success(50_000),
		success(50_000),
		reverted(),
		reverted(),
		success(50_000),
	}

	tt := b.classifyTimeTravel(baseline, outcomes)
	assert.True(t, tt.IsTimeSensitive)
	assert.Equal(t, 2, tt.DivergingCount())
	assert.Contains(t, tt.Flags, "TIME-BOMB: Transaction fails at +7 Days")
	assert.Contains(t, tt.Flags, "CRITICAL: Fails within 7 days — transaction will stop working soon")
	// +30天的时间炸弹不触发7天内告警
	assert.Contains(t, tt.Flags, "TIME-BOMB: Transaction fails at +30 Days")
}

func TestTimeTravelDelayedTrading(t *testing.T) {
	b := newBattery()
	baseline := reverted()
	outcomes := []*models.Outcome{
		reverted(),
		success(60_000),
		success(60_000),
		success(60_000),
		reverted(),
	}

	tt := b.classifyTimeTravel(baseline, outcomes)
	assert.Contains(t, tt.Flags, "DELAYED TRADING: Trading opens at +1 Day")
	// 超过1天的开盘延迟带额外警告
	assert.Contains(t, tt.Flags, "WARNING: Extended trading delay — funds may be locked longer than expected")
}

func TestTimeTravelTradingClosed(t *testing.T) {
	b := newBattery()
	baseline := reverted()
	outcomes := []*models.Outcome{
		reverted(),
		reverted(),
		reverted(),
		reverted(),
		success(40_000), // 昨天还能执行
	}

	tt := b.classifyTimeTravel(baseline, outcomes)
	assert.Contains(t, tt.Flags, "TRADING CLOSED: Transaction worked before but fails now")
}

func TestTimeTravelUnknownOutcomeExcluded(t *testing.T) {
	b := newBattery()
	baseline := success(50_000)
	outcomes := []*models.Outcome{nil, nil, nil, nil, nil}

	tt := b.classifyTimeTravel(baseline, outcomes)
	assert.False(t, tt.IsTimeSensitive)
	assert.Empty(t, tt.Flags)
	assert.Len(t, tt.Variants, 5)
}

func TestCounterfactualHoneypot(t *testing.T) {
	b := newBattery()
	runs := []models.ActorRun{
		{Role: models.ActorCurrentUser, Address: common.HexToAddress("0x01"), Outcome: reverted()},
		{Role: models.ActorRandomUser, Address: common.HexToAddress("0x02"), Outcome: reverted()},
		{Role: models.ActorOwner, Address: common.HexToAddress("0x03"), Outcome: success(80_000)},
	}

	cf := b.classifyCounterfactual(runs)
	assert.True(t, cf.IsHoneypot)
	assert.True(t, cf.HasOwnerPrivileges)
	assert.Equal(t, 100, cf.Risk)
	assert.Contains(t, cf.Flags, "CRITICAL HONEYPOT: Owner can execute, but users CANNOT")
	assert.Equal(t, "Critical", cf.PrivilegeDiffs[0].Severity)
}

func TestCounterfactualWhitelist(t *testing.T) {
	b := newBattery()
	runs := []models.ActorRun{
		{Role: models.ActorCurrentUser, Address: common.HexToAddress("0x01"), Outcome: reverted()},
		{Role: models.ActorRandomUser, Address: common.HexToAddress("0x02"), Outcome: reverted()},
		{Role: models.ActorWhitelisted, Address: common.HexToAddress("0x04"), Outcome: success(70_000)},
	}

	cf := b.classifyCounterfactual(runs)
	assert.True(t, cf.HasWhitelistMechanism)
	assert.GreaterOrEqual(t, cf.Risk, 80)
	assert.Contains(t, cf.Flags, "WHITELIST DETECTED")
}

func TestCounterfactualWhitelistNeedsKnownRandomOutcome(t *testing.T) {
	b := newBattery()
	// 随机用户子运行失败（结果未知）：白名单成功不构成证据
	runs := []models.ActorRun{
		{Role: models.ActorCurrentUser, Address: common.HexToAddress("0x01"), Outcome: reverted()},
		{Role: models.ActorRandomUser, Address: common.HexToAddress("0x02"), Outcome: nil},
		{Role: models.ActorWhitelisted, Address: common.HexToAddress("0x04"), Outcome: success(70_000)},
	}

	cf := b.classifyCounterfactual(runs)
	assert.False(t, cf.HasWhitelistMechanism)
	assert.NotContains(t, cf.Flags, "WHITELIST DETECTED")
	assert.Equal(t, 0, cf.Risk)
}

func TestCounterfactualGasAnomaly(t *testing.T) {
	b := newBattery()
	runs := []models.ActorRun{
		{Role: models.ActorRandomUser, Address: common.HexToAddress("0x02"), Outcome: success(30_000)},
		{Role: models.ActorOwner, Address: common.HexToAddress("0x03"), Outcome: success(90_000)},
	}

	cf := b.classifyCounterfactual(runs)
	assert.False(t, cf.IsHoneypot)
	assert.Contains(t, cf.Flags, "GAS ANOMALY: Gas usage differs sharply between owner and users")
	assert.Equal(t, 15, cf.Risk)
}

func TestCounterfactualAllSucceedIsClean(t *testing.T) {
	b := newBattery()
	runs := []models.ActorRun{
		{Role: models.ActorCurrentUser, Address: common.HexToAddress("0x01"), Outcome: success(50_000)},
		{Role: models.ActorRandomUser, Address: common.HexToAddress("0x02"), Outcome: success(50_000)},
		{Role: models.ActorOwner, Address: common.HexToAddress("0x03"), Outcome: success(50_000)},
	}

	cf := b.classifyCounterfactual(runs)
	assert.False(t, cf.IsHoneypot)
	assert.False(t, cf.HasWhitelistMechanism)
	assert.Equal(t, 0, cf.Risk)
	assert.Empty(t, cf.Flags)
}

func TestAggregateRiskSaturation(t *testing.T) {
	tt := &models.TimeTravelResult{
		IsTimeSensitive: true,
		Flags:           []string{"TIME-BOMB: Transaction fails at +7 Days"},
	}
	cf := &models.CounterfactualResult{Risk: 100}

	result := aggregate(tt, cf)
	assert.Equal(t, 100, result.OverallRiskScore)
	assert.True(t, result.IsScam)
}

func TestAggregateTimeContributions(t *testing.T) {
	tt := &models.TimeTravelResult{
		IsTimeSensitive: true,
		Flags:           []string{"TIME-BOMB: Transaction fails at +1 Day"},
	}
	cf := &models.CounterfactualResult{Risk: 0}

	// 时间敏感+25，时间炸弹再+25
	result := aggregate(tt, cf)
	assert.Equal(t, 50, result.OverallRiskScore)
	assert.True(t, result.IsScam)
}
