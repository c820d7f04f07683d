package models

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// 规范时间偏移集（秒）
const (
	OffsetOneHour   int64 = 3600
	OffsetOneDay    int64 = 86400
	OffsetSevenDays int64 = 604800
	OffsetThirtyDay int64 = 2592000
	OffsetYesterday int64 = -86400
)

// CanonicalOffsets 时间旅行族的规范偏移集（不含基线0）
var CanonicalOffsets = []int64{
	OffsetOneHour,
	OffsetOneDay,
	OffsetSevenDays,
	OffsetThirtyDay,
	OffsetYesterday,
}

// DescribeOffset 偏移的人类可读描述
func DescribeOffset(offset int64) string {
	switch offset {
	case 0:
		return "Now"
	case OffsetOneHour:
		return "+1 Hour"
	case OffsetOneDay:
		return "+1 Day"
	case OffsetSevenDays:
		return "+7 Days"
	case OffsetThirtyDay:
		return "+30 Days"
	case OffsetYesterday:
		return "-1 Day"
	}
	if offset > 0 {
		return "+" + formatSeconds(offset)
	}
	return "-" + formatSeconds(-offset)
}

func formatSeconds(s int64) string {
	switch {
	case s%86400 == 0:
		return strconv.FormatInt(s/86400, 10) + " Days"
	case s%3600 == 0:
		return strconv.FormatInt(s/3600, 10) + " Hours"
	default:
		return strconv.FormatInt(s, 10) + " Seconds"
	}
}

// TimeTravelVariant 单个偏移下的运行结果
type TimeTravelVariant struct {
	OffsetSeconds int64    `json:"offset_seconds"`
	Description   string   `json:"description"`
	Outcome       *Outcome `json:"outcome"`
	Diverges      bool     `json:"diverges"`
}

// TimeTravelResult 时间旅行族结果
type TimeTravelResult struct {
	CurrentOutcome  *Outcome            `json:"current_outcome"`
	Variants        []TimeTravelVariant `json:"variants"`
	IsTimeSensitive bool                `json:"is_time_sensitive"`
	Flags           []string            `json:"flags"`
}

// DivergingCount 分歧的偏移数
func (t *TimeTravelResult) DivergingCount() int {
	n := 0
	for _, v := range t.Variants {
		if v.Diverges {
			n++
		}
	}
	return n
}

// ActorRole 反事实模拟中的行为者角色
type ActorRole string

const (
	ActorCurrentUser ActorRole = "CurrentUser"
	ActorRandomUser  ActorRole = "RandomUser"
	ActorOwner       ActorRole = "Owner"
	ActorDeployer    ActorRole = "Deployer"
	ActorWhitelisted ActorRole = "Whitelisted"
)

// ActorRun 单个行为者的运行结果
type ActorRun struct {
	Role    ActorRole      `json:"actor_role"`
	Address common.Address `json:"address"`
	Outcome *Outcome       `json:"outcome"`
}

// PrivilegeDiff 行为者间的权限差异
type PrivilegeDiff struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// CounterfactualResult 反事实族结果
type CounterfactualResult struct {
	Runs                  []ActorRun      `json:"runs"`
	IsHoneypot            bool            `json:"is_honeypot"`
	HasOwnerPrivileges    bool            `json:"has_owner_privileges"`
	HasWhitelistMechanism bool            `json:"has_whitelist_mechanism"`
	PrivilegeDiffs        []PrivilegeDiff `json:"privilege_diffs"`
	Risk                  int             `json:"risk"`
	Flags                 []string        `json:"flags"`
}

// BatteryResult 模拟战役的聚合结果
type BatteryResult struct {
	TimeTravel       *TimeTravelResult     `json:"time_travel"`
	Counterfactual   *CounterfactualResult `json:"counterfactual"`
	OverallRiskScore int                   `json:"overall_risk_score"`
	OverallSummary   string                `json:"overall_summary"`
	IsScam           bool                  `json:"is_scam"`
}

// AllFlags 两族结果的全部标签
func (b *BatteryResult) AllFlags() []string {
	var out []string
	if b.Counterfactual != nil {
		out = append(out, b.Counterfactual.Flags...)
	}
	if b.TimeTravel != nil {
		out = append(out, b.TimeTravel.Flags...)
	}
	return out
}

// HasCriticalTimeFlag 是否存在TIME-BOMB或CRITICAL级时间标签
func (b *BatteryResult) HasCriticalTimeFlag() bool {
	if b.TimeTravel == nil {
		return false
	}
	for _, f := range b.TimeTravel.Flags {
		if strings.Contains(f, "TIME-BOMB") || strings.Contains(f, "CRITICAL") {
			return true
		}
	}
	return false
}
