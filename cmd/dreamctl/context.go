package main

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"dreamecho/internal/bootstrap"
	"dreamecho/internal/infra"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *infra.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, apiFlag: apiFlag}
}

func (c *commandContext) ensureConfig() (*infra.Config, error) {
	c.configOnce.Do(func() {
		_ = godotenv.Load()
		if c.configFlag != nil {
			if path := strings.TrimSpace(*c.configFlag); path != "" {
				_ = os.Setenv("CONFIG_FILE", path)
			}
		}
		c.config, c.configErr = infra.LoadConfig()
	})
	return c.config, c.configErr
}

// withRuntime opens the stores for the duration of fn. CLI logs stay quiet
// unless LOG_LEVEL asks for more.
func (c *commandContext) withRuntime(ctx context.Context, fn func(*bootstrap.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if level == "" {
		level = "warn"
	}
	logger := infra.NewLogger(cfg.AppEnv, level)
	rt, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func (c *commandContext) apiBaseURL() (string, error) {
	if c.apiFlag != nil {
		if v := strings.TrimSpace(*c.apiFlag); v != "" {
			return strings.TrimRight(v, "/"), nil
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return "http://localhost:" + cfg.Port, nil
}
