package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rhettg/agentloop"
	"github.com/rhettg/agentloop/provider/openaichat"
	"github.com/rhettg/agentloop/provider/openrouter"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	appName         = "agentloop"
	defaultProvider = openaichat.Name
)

// settings is the resolved CLI configuration: flags over AGENTLOOP_* env
// over the config file over defaults.
type settings struct {
	Provider         string
	MaxRounds        int
	Parallel         int
	MaxContextTokens int
	FSRoot           string
	RecordDir        string
	OTLPEndpoint     string
	Verbose          bool

	// Adapter is handed to the adapter untouched.
	Adapter agentloop.Config
}

// keyEnv names the conventional environment variable holding each
// provider's credential.
var keyEnv = map[string]string{
	openaichat.Name: "OPENAI_API_KEY",
	openrouter.Name: "OPENROUTER_API_KEY",
}

// knownKeys restores the case viper folds away from config file keys.
var knownKeys = []string{
	agentloop.ConfigAPIKey,
	agentloop.ConfigBaseURL,
	agentloop.ConfigModel,
	agentloop.ConfigSystem,
	openaichat.ConfigTemperature,
	openaichat.ConfigMaxTokens,
	openaichat.ConfigHeaders,
	openrouter.ConfigHTTPReferer,
	openrouter.ConfigTitle,
}

func canonicalKey(k string) string {
	for _, known := range knownKeys {
		if strings.EqualFold(k, known) {
			return known
		}
	}
	return k
}

func newViper(configFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", appName))
		}
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(appName)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("provider", defaultProvider)
	v.SetDefault("max-rounds", 20)
	v.SetDefault("parallel", 1)

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return v, nil
}

func loadSettings(v *viper.Viper) (*settings, error) {
	s := &settings{
		Provider:         v.GetString("provider"),
		MaxRounds:        v.GetInt("max-rounds"),
		Parallel:         v.GetInt("parallel"),
		MaxContextTokens: v.GetInt("max-context-tokens"),
		FSRoot:           v.GetString("fs-root"),
		RecordDir:        v.GetString("record-dir"),
		OTLPEndpoint:     v.GetString("otlp-endpoint"),
		Verbose:          v.GetBool("verbose"),
		Adapter:          agentloop.Config{},
	}

	if s.Provider == "" {
		return nil, errors.New("provider is required")
	}

	// Per provider settings live under providers.<name> in the config file.
	for k, val := range v.GetStringMap("providers." + s.Provider) {
		s.Adapter[canonicalKey(k)] = val
	}

	overrides := map[string]string{
		agentloop.ConfigAPIKey:  v.GetString("api-key"),
		agentloop.ConfigBaseURL: v.GetString("base-url"),
		agentloop.ConfigModel:   v.GetString("model"),
		agentloop.ConfigSystem:  v.GetString("system"),
	}
	for k, val := range overrides {
		if val != "" {
			s.Adapter[k] = val
		}
	}

	if s.Adapter.String(agentloop.ConfigAPIKey) == "" {
		if env, ok := keyEnv[s.Provider]; ok {
			if key := os.Getenv(env); key != "" {
				s.Adapter[agentloop.ConfigAPIKey] = key
			}
		}
	}

	return s, nil
}
