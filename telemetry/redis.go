package telemetry

import (
	"sync"
	"time"

	"github.com/garyburd/redigo/redis"
)

// RedisConfig configures a Redis publisher. Link states are stored in the
// hash Key, one field per port, and every event is published on Channel.
type RedisConfig struct {
	Key     string
	Channel string
	Timeout time.Duration
}

func (c *RedisConfig) defaults() {
	if c.Key == "" {
		c.Key = "adin2111"
	}
	if c.Channel == "" {
		c.Channel = c.Key + ".link"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// Redis publishes link events to a redis server.
type Redis struct {
	mu   sync.Mutex
	conn redis.Conn
	cfg  RedisConfig
	buf  []byte
}

// DialRedis connects to the redis server at address.
func DialRedis(network, address string, cfg RedisConfig) (*Redis, error) {
	cfg.defaults()
	conn, err := redis.Dial(network, address,
		redis.DialConnectTimeout(cfg.Timeout),
		redis.DialReadTimeout(cfg.Timeout),
		redis.DialWriteTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}
	return NewRedis(conn, cfg), nil
}

// NewRedis returns a publisher over an established connection.
func NewRedis(conn redis.Conn, cfg RedisConfig) *Redis {
	cfg.defaults()
	return &Redis{conn: conn, cfg: cfg}
}

// PublishLink stores the port state and publishes the event in one
// pipelined round trip.
func (r *Redis) PublishLink(ev LinkEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = ev.AppendPayload(r.buf[:0])
	if err := r.conn.Send("HSET", r.cfg.Key, ev.Field(), ev.State()); err != nil {
		return err
	}
	if err := r.conn.Send("PUBLISH", r.cfg.Channel, r.buf); err != nil {
		return err
	}
	// An empty command flushes and receives every pending reply.
	_, err := r.conn.Do("")
	return err
}

// LinkState reads back the stored state of port.
func (r *Redis) LinkState(port int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return redis.String(r.conn.Do("HGET", r.cfg.Key, LinkEvent{Port: port}.Field()))
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.Close()
}
