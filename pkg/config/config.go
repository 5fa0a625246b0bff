package config

// Package config provides a reusable loader for LogiChain configuration
// files and environment variables.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/caiorlm/logichain/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// RewardSplit is the payout fraction given to each party when a contract
// validates (spec §4.6, must sum to 1.0).
type RewardSplit struct {
	Driver     float64 `mapstructure:"driver" json:"driver"`
	Validators float64 `mapstructure:"validators" json:"validators"`
	Reserve    float64 `mapstructure:"reserve" json:"reserve"`
}

// GenesisWallet seeds one funded account at startup.
type GenesisWallet struct {
	Address string `mapstructure:"address" json:"address"`
	Units   uint64 `mapstructure:"units" json:"units"`
}

// Config is the unified configuration for a LogiChain node, enumerating the
// fields the protocol fixes as network-wide parameters.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		ChainID        int      `mapstructure:"chain_id" json:"chain_id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		RPCEnabled     bool     `mapstructure:"rpc_enabled" json:"rpc_enabled"`
		P2PPort        int      `mapstructure:"p2p_port" json:"p2p_port"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Consensus struct {
		Mode                       string      `mapstructure:"mode" json:"mode"`
		TargetBlockTimeSeconds     float64     `mapstructure:"target_block_time_seconds" json:"target_block_time_seconds"`
		BlockSizeCapBytes          int         `mapstructure:"block_size_cap_bytes" json:"block_size_cap_bytes"`
		TxCountCap                 int         `mapstructure:"tx_count_cap" json:"tx_count_cap"`
		MempoolMaxBytes            int         `mapstructure:"mempool_max_bytes" json:"mempool_max_bytes"`
		DifficultyRetargetInterval uint64      `mapstructure:"difficulty_retarget_interval" json:"difficulty_retarget_interval"`
		CommitteeSize              int         `mapstructure:"committee_size" json:"committee_size"`
		EpochBlocks                uint64      `mapstructure:"epoch_blocks" json:"epoch_blocks"`
		ReorgWindow                uint64      `mapstructure:"reorg_window" json:"reorg_window"`
		RBFMinBumpRatio            float64     `mapstructure:"rbf_min_bump_ratio" json:"rbf_min_bump_ratio"`
		RewardSplit                RewardSplit `mapstructure:"reward_split" json:"reward_split"`
		MaxSupplyUnits             uint64      `mapstructure:"max_supply_units" json:"max_supply_units"`
		HalvingIntervalBlocks      uint64      `mapstructure:"halving_interval_blocks" json:"halving_interval_blocks"`
	} `mapstructure:"consensus" json:"consensus"`

	Geography struct {
		GPSAccuracyLimitM         float64 `mapstructure:"gps_accuracy_limit_m" json:"gps_accuracy_limit_m"`
		MaxStepKm                 float64 `mapstructure:"max_step_km" json:"max_step_km"`
		TDriftSeconds             float64 `mapstructure:"t_drift_seconds" json:"t_drift_seconds"`
		MaxCoordinateOpsPerMinute int     `mapstructure:"max_coordinate_ops_per_minute" json:"max_coordinate_ops_per_minute"`
	} `mapstructure:"geography" json:"geography"`

	Genesis struct {
		Wallets []GenesisWallet `mapstructure:"wallets" json:"wallets"`
	} `mapstructure:"genesis" json:"genesis"`

	Storage struct {
		DBPath     string `mapstructure:"db_path" json:"db_path"`
		SegmentMax int64  `mapstructure:"segment_max" json:"segment_max"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the LOGICHAIN_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("LOGICHAIN_ENV", ""))
}
