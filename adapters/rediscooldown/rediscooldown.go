package rediscooldown

import (
	"context"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/redis/go-redis/v9"

	"github.com/easymodehq/workflowrun"
)

// DefaultRetention is how long a recipient's last send time is kept. It bounds
// the largest cooldown window the index can answer, so it must exceed every
// cooldown configured on the service reading from it.
const DefaultRetention = 30 * 24 * time.Hour

const keyPrefix = "workflowrun:cooldown:"

// CooldownIndex keeps each recipient's most recent send time in a redis key
// with a TTL, which answers cooldown probes without touching the send log. It
// is fed by MarkSent on every recorded send and is best effort: when redis
// loses a key early the service just sends again, it never blocks a send that
// the source of truth would allow.
type CooldownIndex struct {
	client    redis.UniversalClient
	retention time.Duration
}

func New(client redis.UniversalClient, opts ...Option) *CooldownIndex {
	c := &CooldownIndex{
		client:    client,
		retention: DefaultRetention,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type Option func(*CooldownIndex)

// WithRetention overrides how long last send times are kept.
func WithRetention(d time.Duration) Option {
	return func(c *CooldownIndex) {
		c.retention = d
	}
}

var _ workflowrun.CooldownIndex = (*CooldownIndex)(nil)

// markScript keeps the stored value at the maximum seen send time so a delayed
// replay of an older send cannot move a recipient's cooldown backwards.
var markScript = redis.NewScript(`
	local current = redis.call('GET', KEYS[1])
	if current and tonumber(current) >= tonumber(ARGV[1]) then
		return 0
	end

	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
`)

func (c *CooldownIndex) MarkSent(ctx context.Context, projectID, action, recipient string, at time.Time) error {
	key := cooldownKey(projectID, action, recipient)

	err := markScript.Run(ctx, c.client,
		[]string{key},
		at.UnixMilli(), c.retention.Milliseconds(),
	).Err()
	if err != nil {
		return errors.Wrap(err, "mark sent", j.KV("key", key))
	}

	return nil
}

func (c *CooldownIndex) SentWithin(ctx context.Context, projectID, action string, recipients []string, since time.Time) ([]string, error) {
	if len(recipients) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		keys = append(keys, cooldownKey(projectID, action, recipient))
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "sent within")
	}

	sinceMillis := since.UnixMilli()

	var recent []string
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Key missing or expired, the recipient is eligible.
			continue
		}

		sentMillis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse send time", j.KV("key", keys[i]))
		}

		// A send exactly at since has aged out of the window.
		if sentMillis > sinceMillis {
			recent = append(recent, recipients[i])
		}
	}

	return recent, nil
}

func cooldownKey(projectID, action, recipient string) string {
	return keyPrefix + projectID + ":" + action + ":" + recipient
}
