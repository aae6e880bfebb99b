package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"ircgate/internal/config"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	path       string
	exists     bool
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.path = resolved
		c.exists = exists
	})
	return c.config, c.configErr
}

// configPath is the file rehash re-reads. It is empty when defaults were
// used because no file existed.
func (c *commandContext) configPath() string {
	if _, err := c.ensureConfig(); err != nil || !c.exists {
		return ""
	}
	return c.path
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
