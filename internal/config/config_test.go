package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/testdb")
	t.Setenv("MONGODB_DATABASE", "cirkel_test")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "testsecret123456789012345678901234")
	t.Setenv("COLLAB_CONFLICT_WINDOW_SECONDS", "45")
	t.Setenv("COLLAB_LOCK_BACKEND", "Redis")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "mongodb://localhost:27017/testdb", cfg.MongoDB.URI)
	require.Equal(t, "cirkel_test", cfg.MongoDB.Database)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, 45*time.Second, cfg.Collab.ConflictWindow)
	require.Equal(t, 5*time.Minute, cfg.Collab.LockTimeout)
	require.Equal(t, "redis", cfg.Collab.LockBackend)
	require.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenTTL)
	require.Equal(t, "cirkel-snapshots", cfg.MinIO.Bucket)
}

func TestLoadConfig_MongoIsOptional(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	t.Setenv("COLLAB_LOCK_BACKEND", "memory")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Empty(t, cfg.MongoDB.URI)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Collab: CollabConfig{ConflictWindow: time.Second, LockTimeout: time.Minute, LockBackend: "memory"}}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.Collab.LockBackend = "redis"
	require.Error(t, c.Validate(), "redis backend needs a redis host")
	c.Redis = RedisConfig{Host: "cache", Port: "6379"}
	require.NoError(t, c.Validate())

	c = base()
	c.Collab.LockBackend = "etcd"
	require.Error(t, c.Validate())

	c = base()
	c.Collab.ConflictWindow = 0
	require.Error(t, c.Validate())

	c = base()
	c.RateLimit.UseRedis = true
	require.Error(t, c.Validate())
}

func TestKeycloakIssuer(t *testing.T) {
	require.Empty(t, KeycloakConfig{URL: "http://kc"}.Issuer())
	require.Equal(t, "http://kc/realms/cirkel", KeycloakConfig{URL: "http://kc/", Realm: "cirkel"}.Issuer())
}
