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

package redlock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrLockHeld = errors.New("lock is already held")

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// Locker is a single-holder redis lock. value identifies the holder so only it can release the key.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

// WaitLock retries Lock with jitter until it succeeds, wait elapses or ctx is done.
func (l *Locker) WaitLock(ctx context.Context, ttl, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		err := l.Lock(ctx, ttl)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("failed to acquire lock for key %s within %s", l.key, wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(10+rand.Intn(90)) * time.Millisecond):
		}
	}
}

// SubmissionGate lets one process at a time check the treasury balance and
// broadcast a transfer, across every worker and API instance sharing redis.
type SubmissionGate struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	wait   time.Duration
}

func NewSubmissionGate(client redis.UniversalClient, treasuryAddress string, ttl, wait time.Duration) *SubmissionGate {
	return &SubmissionGate{
		client: client,
		key:    "prizepay:submit:" + treasuryAddress,
		ttl:    ttl,
		wait:   wait,
	}
}

// Run executes fn while holding the gate. The lock expires after ttl even if
// the holder dies, so fn should finish well inside it.
func (g *SubmissionGate) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	locker := NewLocker(g.client, g.key, uuid.NewString())
	if err := locker.WaitLock(ctx, g.ttl, g.wait); err != nil {
		return err
	}
	defer func() {
		// release with a fresh context so a cancelled caller still frees the gate
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.WithError(err).WithField("key", g.key).Warn("failed to release submission gate")
		}
	}()
	return fn(ctx)
}
