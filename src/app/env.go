package app

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type envVars struct {
	Environment string `split_words:"true"`

	StressWorkers  int `default:"8" split_words:"true"`
	StressTables   int `default:"4" split_words:"true"`
	StressPages    int `default:"64" split_words:"true"`
	StressRecords  int `default:"16" split_words:"true"`
	StressTxnLocks int `default:"4" split_words:"true"`
	StressRounds   int `default:"2000" split_words:"true"`
}

func mustLoadEnv() envVars {
	var env envVars

	_ = godotenv.Load()

	envconfig.MustProcess("ROWSTORE", &env)

	if env.Environment != "" && env.Environment != EnvDev && env.Environment != EnvProd {
		panic("invalid environment")
	} else if env.Environment == "" {
		env.Environment = EnvDev
	}

	if env.StressWorkers < 1 || env.StressPages < 1 || env.StressRecords < 1 {
		panic("invalid stress dimensions")
	}

	return env
}
