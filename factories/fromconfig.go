package factories

import (
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"

	"github.com/raid-newvicx/cachex/cachexconfig"
	"github.com/raid-newvicx/cachex/valuecache"
	"github.com/raid-newvicx/cachex/vaultkeys"
)

// RedisFromConfig builds a Redis storage factory from cfg.Redis,
// resolving a credential through vault when cfg.Redis.KeyRef is set
// (e.g. "keyring://cachex/redis", "env:REDIS_PASSWORD") and applying it
// as the client's AUTH password.
func RedisFromConfig(cfg *cachexconfig.RedisConfig, vault *vaultkeys.Vault) (valuecache.StorageFactory, error) {
	var password string
	if cfg.KeyRef != "" {
		if vault == nil {
			return nil, fmt.Errorf("factories: redis.key_ref set but no vault provided")
		}
		secret, err := vault.ResolveKeyRef(cfg.KeyRef)
		if err != nil {
			return nil, fmt.Errorf("factories: resolving redis credential: %w", err)
		}
		password = secret
	}

	return Redis(cfg.URL, cfg.KeyPrefix, func(o *redis.Options) {
		if password != "" {
			o.Password = password
		}
	}), nil
}

// MongoFromConfig builds a Mongo storage factory from cfg.Mongo,
// injecting a resolved credential into the connection URI's userinfo
// when cfg.Mongo.KeyRef is set.
func MongoFromConfig(cfg *cachexconfig.MongoConfig, vault *vaultkeys.Vault) (valuecache.StorageFactory, error) {
	uri := cfg.URI
	if cfg.KeyRef != "" {
		if vault == nil {
			return nil, fmt.Errorf("factories: mongo.key_ref set but no vault provided")
		}
		secret, err := vault.ResolveKeyRef(cfg.KeyRef)
		if err != nil {
			return nil, fmt.Errorf("factories: resolving mongo credential: %w", err)
		}
		injected, err := injectPassword(uri, secret)
		if err != nil {
			return nil, fmt.Errorf("factories: injecting mongo credential: %w", err)
		}
		uri = injected
	}

	return Mongo(uri, cfg.Database, cfg.Collection, cfg.KeyPrefix, MongoOptions{
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		MaxFailures: cfg.MaxFailures,
	}), nil
}

// injectPassword sets the password component of a connection URI's
// userinfo, preserving any existing username.
func injectPassword(rawURI, password string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", err
	}
	username := ""
	if u.User != nil {
		username = u.User.Username()
	}
	u.User = url.UserPassword(username, password)
	return u.String(), nil
}
