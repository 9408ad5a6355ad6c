package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_parseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("overrides from flags", func(t *testing.T) {
		os.Args = []string{"testbin",
			"-d", "postgres://flag/db",
			"-a", "redis-flag:6379",
			"-s", "flagsecret",
			"-t", "5",
			"-r", "60",
			"-e", "15",
			"-l", "3",
			"-w", "30",
			"-m", "smtp-flag:25",
			"-o", "from@flag",
		}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseFlags(cfg)

		assert.Equal(t, "postgres://flag/db", cfg.DatabaseDSN)
		assert.Equal(t, "redis-flag:6379", cfg.RedisAddr)
		assert.Equal(t, "flagsecret", cfg.SecretKey)
		assert.Equal(t, 5*time.Minute, cfg.AccessTokenValidityDuration)
		assert.Equal(t, 60*time.Minute, cfg.RefreshTokenValidityDuration)
		assert.Equal(t, 15*time.Minute, cfg.ResetTokenValidityDuration)
		assert.Equal(t, 3, cfg.RateLimitRequests)
		assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
		assert.Equal(t, "smtp-flag:25", cfg.SMTPAddr)
		assert.Equal(t, "from@flag", cfg.EmailFrom)
	})

	t.Run("keeps defaults without flags", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseFlags(cfg)

		assert.Equal(t, "localhost:6379", cfg.RedisAddr)
		assert.Equal(t, 15*time.Minute, cfg.AccessTokenValidityDuration)
		assert.Equal(t, 10, cfg.RateLimitRequests)
		assert.Equal(t, 1*time.Minute, cfg.RateLimitWindow)
	})
}
