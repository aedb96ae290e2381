package cfg

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type LockConfig struct {
	Environment Environment `mapstructure:"ENVIRONMENT"`

	// HashCells is the initial cell count of each lock hash table.
	HashCells uint64 `mapstructure:"HASH_CELLS"`
	// WaitTimeout bounds every lock wait; zero refuses waits outright.
	WaitTimeout time.Duration `mapstructure:"WAIT_TIMEOUT"`

	DeadlockDetect     bool `mapstructure:"DEADLOCK_DETECT"`
	ReportAllDeadlocks bool `mapstructure:"REPORT_ALL_DEADLOCKS"`
}

func LoadConfig(path string) (LockConfig, error) {
	viper.AddConfigPath(path)
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.SetEnvPrefix("ROWSTORE")
	viper.AutomaticEnv()

	viper.SetOptions(viper.ExperimentalBindStruct())

	viper.SetDefault("ENVIRONMENT", DefaultEnv)
	viper.SetDefault("HASH_CELLS", 2048)
	viper.SetDefault("WAIT_TIMEOUT", 50*time.Second)
	viper.SetDefault("DEADLOCK_DETECT", true)
	viper.SetDefault("REPORT_ALL_DEADLOCKS", false)

	err := viper.ReadInConfig()
	if err != nil {
		fmt.Println("config file not found, using env vars")
	}

	var cfg LockConfig

	err = viper.Unmarshal(&cfg)
	if err != nil {
		return LockConfig{}, fmt.Errorf("viper unmarshaling config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return LockConfig{}, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c LockConfig) Validate() error {
	if err := c.Environment.Validate(); err != nil {
		return err
	}
	if c.HashCells == 0 {
		return errors.New("hash cells must be positive")
	}
	if c.WaitTimeout < 0 {
		return errors.New("wait timeout must not be negative")
	}
	return nil
}

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}

	return nil
}
