package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lzyats/airship-go/pkg/airship"
)

// globalKeys are the root flags that can also come from AIRSHIP_<KEY>.
var globalKeys = []string{
	"config",
	"app-key",
	"master-secret",
	"base-url",
	"timeout",
	"redis-host",
	"redis-port",
	"verbose",
}

func bindGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "config file path (supports: a.yml,b.yml)")
	f.String("app-key", "", "Airship app key")
	f.String("master-secret", "", "Airship master secret")
	f.String("base-url", "", "API base url (default "+airship.DefaultBaseURL+")")
	f.Duration("timeout", 0, "request timeout (default "+airship.DefaultTimeout.String()+")")
	f.String("redis-host", "", "redis host for enqueue/snapshot")
	f.Int("redis-port", 0, "redis port")
	f.BoolP("verbose", "v", false, "log requests to stderr")
}

// loadSettings layers flags and AIRSHIP_* env over the optional YAML config.
func loadSettings(cmd *cobra.Command) (airship.Settings, *viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("AIRSHIP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, k := range globalKeys {
		if fl := cmd.Flags().Lookup(k); fl != nil {
			if err := v.BindPFlag(k, fl); err != nil {
				return airship.Settings{}, nil, err
			}
		}
	}

	var st airship.Settings
	if path := v.GetString("config"); path != "" {
		var err error
		if st, err = airship.Load(path); err != nil {
			return airship.Settings{}, nil, fmt.Errorf("load config: %w", err)
		}
	}

	if s := v.GetString("app-key"); s != "" {
		st.Airship.AppKey = s
	}
	if s := v.GetString("master-secret"); s != "" {
		st.Airship.MasterSecret = s
	}
	if s := v.GetString("base-url"); s != "" {
		st.Airship.BaseURL = s
	}
	if d := v.GetDuration("timeout"); d > 0 {
		st.Airship.Timeout = d
	}
	if s := v.GetString("redis-host"); s != "" {
		st.Redis.Host = s
		st.Redis.Enabled = "Y"
	}
	if p := v.GetInt("redis-port"); p > 0 {
		st.Redis.Port = p
	}
	return st.WithDefaults(), v, nil
}

func newLogger(v *viper.Viper) *zap.Logger {
	if !v.GetBool("verbose") {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
