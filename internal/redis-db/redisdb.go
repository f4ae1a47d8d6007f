/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redis_db

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Redis wraps the client shared by the submission gate and the webhook queue.
type Redis struct {
	addresses []string
	client    redis.UniversalClient
}

// ParseDSN accepts a bare host:port (docker style) or a redis:// / rediss:// URL.
func ParseDSN(dsn string, skipTLSVerify bool) (*redis.Options, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("redis DSN cannot be empty")
	}

	if !strings.Contains(dsn, "//") && !strings.Contains(dsn, "@") {
		return &redis.Options{Addr: dsn}, nil
	}

	// redis://password@host:port is common in hosted setups; go-redis wants the user part explicit
	if strings.HasPrefix(dsn, "redis://") {
		rest := strings.TrimPrefix(dsn, "redis://")
		if at := strings.LastIndex(rest, "@"); at > 0 && !strings.Contains(rest[:at], ":") {
			dsn = "redis://:" + rest
		}
	}

	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	if opts.TLSConfig != nil && skipTLSVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 opt-in via config
	}
	return opts, nil
}

// NewRedisClient connects to dsn. A comma separated list of DSNs selects cluster mode.
func NewRedisClient(dsn string, skipTLSVerify bool) (*Redis, error) {
	addresses := splitDSN(dsn)
	if len(addresses) == 0 {
		return nil, errors.New("redis addresses list cannot be empty")
	}

	var client redis.UniversalClient
	if len(addresses) == 1 {
		opts, err := ParseDSN(addresses[0], skipTLSVerify)
		if err != nil {
			return nil, err
		}
		client = redis.NewClient(opts)
	} else {
		var (
			addrs     []string
			password  string
			tlsConfig *tls.Config
		)
		for _, addr := range addresses {
			opts, err := ParseDSN(addr, skipTLSVerify)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, opts.Addr)
			if password == "" {
				password = opts.Password
			}
			if opts.TLSConfig != nil {
				tlsConfig = opts.TLSConfig
			}
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:     addrs,
			Password:  password,
			TLSConfig: tlsConfig,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{addresses: addresses, client: client}, nil
}

// AsynqConnOpt builds the asynq connection options for the webhook queue.
func AsynqConnOpt(dsn string, skipTLSVerify bool) (asynq.RedisConnOpt, error) {
	addresses := splitDSN(dsn)
	if len(addresses) == 0 {
		return nil, errors.New("redis addresses list cannot be empty")
	}

	opts, err := ParseDSN(addresses[0], skipTLSVerify)
	if err != nil {
		return nil, err
	}
	if len(addresses) == 1 {
		return asynq.RedisClientOpt{
			Addr:      opts.Addr,
			Username:  opts.Username,
			Password:  opts.Password,
			DB:        opts.DB,
			TLSConfig: opts.TLSConfig,
		}, nil
	}

	addrs := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		o, err := ParseDSN(addr, skipTLSVerify)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, o.Addr)
	}
	return asynq.RedisClusterClientOpt{
		Addrs:     addrs,
		Password:  opts.Password,
		TLSConfig: opts.TLSConfig,
	}, nil
}

func splitDSN(dsn string) []string {
	var out []string
	for _, part := range strings.Split(dsn, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

func (r *Redis) Close() error {
	return r.client.Close()
}
