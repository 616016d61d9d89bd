package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ProtocolInfo is the operator-editable protocol definition the daemon runs
// from: the staking token, the reward token registry, the accounts to sweep
// and the distributor funding schedule. CLI admin commands edit this file;
// the daemon refetches it every sweep.
type ProtocolInfo struct {
	StakingToken    string `json:"stakingToken"`
	StakingDecimals uint8  `json:"stakingDecimals"`
	PoolAddress     string `json:"poolAddress"`
	AdminAddress    string `json:"adminAddress"`
	BackendAddress  string `json:"backendAddress"`
	VenueAddress    string `json:"venueAddress"`

	DefaultSlippageBps uint64 `json:"defaultSlippageBps"`
	SwapFeeBps         uint64 `json:"swapFeeBps"`
	SweepEveryXMinutes int    `json:"sweepEveryXMinutes"`
	Paused             bool   `json:"paused"`

	RewardTokens []RewardTokenInfo `json:"rewardTokens,omitempty"`
	PriceFeeds   []PriceFeedInfo   `json:"priceFeeds,omitempty"`
	Accounts     []AccountInfo     `json:"accounts,omitempty"`
	Funding      []FundingInfo     `json:"funding,omitempty"`
}

// RewardTokenInfo is one registry entry.
type RewardTokenInfo struct {
	Token         string `json:"token"`
	Decimals      uint8  `json:"decimals"`
	Distributor   string `json:"distributor"`
	DurationHours int    `json:"durationHours"`
}

// PriceFeedInfo is one fixed oracle entry - whole-token price as a decimal
// string.
type PriceFeedInfo struct {
	Token    string `json:"token"`
	Price    string `json:"price"`
	Decimals uint8  `json:"decimals"`
}

// AccountInfo is one swept account: its policy, tolerance and reinvest
// routes. InitialStake (whole tokens) is seeded at daemon start.
type AccountInfo struct {
	Address      string      `json:"address"`
	Mode         string      `json:"mode,omitempty"`
	SlippageBps  uint64      `json:"slippageBps,omitempty"`
	InitialStake string      `json:"initialStake,omitempty"`
	Routes       []RouteInfo `json:"routes,omitempty"`
}

// RouteInfo is one reinvest destination: reward token to satellite strategy
// plus the swap pool used when the token is compounded instead.
type RouteInfo struct {
	Token     string `json:"token"`
	Satellite string `json:"satellite"`
	SwapPool  string `json:"swapPool,omitempty"`
}

// FundingInfo is one scheduled distributor top-up (the stand-in for the
// external timelocked funding module - the engine only ever sees ordinary
// distributor notify calls). ID distinguishes repeated one-shot entries for
// the same token; entries without one dedupe by token.
type FundingInfo struct {
	ID          string `json:"id,omitempty"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	EveryXHours int    `json:"everyXHours"`
}

func (info *ProtocolInfo) Validate() error {
	if info.StakingToken == "" || info.PoolAddress == "" {
		return fmt.Errorf("stakingToken and poolAddress must be set")
	}
	if info.BackendAddress == "" || info.AdminAddress == "" {
		return fmt.Errorf("backendAddress and adminAddress must be set")
	}
	if info.SweepEveryXMinutes <= 0 {
		return fmt.Errorf("sweepEveryXMinutes must be at least 1")
	}
	return nil
}

func ConfigFilename() (string, error) {
	if override := os.Getenv("STAKEPOOL_CONFIG"); override != "" {
		return override, nil
	}
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	cfgPath := filepath.Join(cfgDir, "stakepool", "stakepool.json")
	err = os.MkdirAll(filepath.Dir(cfgPath), 0775) // user+group RWX, others RX
	if err != nil {
		return "", fmt.Errorf("error making directory:%s, error:%w", cfgDir, err)
	}
	return cfgPath, nil
}

func LoadProtocolInfo() (*ProtocolInfo, error) {
	cfgName, err := ConfigFilename()
	if err != nil {
		return nil, err
	}
	file, err := os.Open(cfgName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var info ProtocolInfo
	err = decoder.Decode(&info)
	if err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("invalid protocol config %s: %w", cfgName, err)
	}
	return &info, nil
}

// SaveProtocolInfo writes the config via a temp file and rename so a failed
// write never clobbers the existing file.
func SaveProtocolInfo(info *ProtocolInfo) error {
	cfgName, err := ConfigFilename()
	if err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(cfgName), filepath.Base(cfgName)+".*")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(temp)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(info)
	if err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return fmt.Errorf("error saving configuration: %w", err)
	}

	err = temp.Close()
	if err != nil {
		return err
	}

	err = os.Rename(temp.Name(), cfgName)
	if err != nil {
		return err
	}
	slog.Info("configuration saved", "file", cfgName)
	return nil
}
