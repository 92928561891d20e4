// Package connections tracks live chatbot widget connections per site.
//
// Each connection is a redis hash keyed by (site, client) plus a per-site
// sorted set scored by last-seen time, which makes "active in the last N
// minutes" a single range query.
package connections

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connection is one widget session on a site.
type Connection struct {
	ClientID    string    `json:"clientId"`
	SiteID      string    `json:"siteId"`
	UserAgent   string    `json:"userAgent,omitempty"`
	RemoteAddr  string    `json:"remoteAddr,omitempty"`
	Page        string    `json:"page,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Stats summarises a site's connection state.
type Stats struct {
	Active int `json:"active"`
	Total  int `json:"total"`
}

type Tracker struct {
	client *redis.Client
	// hashTTL bounds how long a dead connection's record lingers even if
	// Cleanup never runs.
	hashTTL time.Duration
	now     func() time.Time
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client, hashTTL: 24 * time.Hour, now: time.Now}
}

func connKey(siteID, clientID string) string {
	return "spool:conn:" + siteID + ":" + clientID
}

func indexKey(siteID string) string {
	return "spool:conns:" + siteID
}

// Track registers a new connection or refreshes an existing one.
func (t *Tracker) Track(ctx context.Context, conn Connection) error {
	if conn.SiteID == "" || conn.ClientID == "" {
		return errors.New("track: site and client ids are required")
	}
	now := t.now()
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	conn.LastSeenAt = now

	key := connKey(conn.SiteID, conn.ClientID)
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"client_id":    conn.ClientID,
		"user_agent":   conn.UserAgent,
		"remote_addr":  conn.RemoteAddr,
		"page":         conn.Page,
		"connected_at": conn.ConnectedAt.UnixMilli(),
		"last_seen_at": conn.LastSeenAt.UnixMilli(),
	})
	pipe.Expire(ctx, key, t.hashTTL)
	pipe.ZAdd(ctx, indexKey(conn.SiteID), redis.Z{
		Score:  float64(conn.LastSeenAt.UnixMilli()),
		Member: conn.ClientID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("track connection: %w", err)
	}
	return nil
}

// Heartbeat bumps last-seen for a known connection. Unknown clients get
// re-registered so a widget surviving a server restart keeps reporting.
func (t *Tracker) Heartbeat(ctx context.Context, siteID, clientID string) error {
	key := connKey(siteID, clientID)
	exists, err := t.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("heartbeat lookup: %w", err)
	}
	if exists == 0 {
		return t.Track(ctx, Connection{SiteID: siteID, ClientID: clientID})
	}

	now := t.now()
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, "last_seen_at", now.UnixMilli())
	pipe.Expire(ctx, key, t.hashTTL)
	pipe.ZAdd(ctx, indexKey(siteID), redis.Z{Score: float64(now.UnixMilli()), Member: clientID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Disconnect removes one connection.
func (t *Tracker) Disconnect(ctx context.Context, siteID, clientID string) error {
	pipe := t.client.TxPipeline()
	pipe.Del(ctx, connKey(siteID, clientID))
	pipe.ZRem(ctx, indexKey(siteID), clientID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Active lists connections seen within the window, most recent first.
func (t *Tracker) Active(ctx context.Context, siteID string, window time.Duration) ([]Connection, error) {
	cutoff := t.now().Add(-window).UnixMilli()
	ids, err := t.client.ZRangeByScore(ctx, indexKey(siteID), &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("active connections: %w", err)
	}
	return t.load(ctx, siteID, ids)
}

// Recent lists up to limit connections regardless of age, most recent first.
func (t *Tracker) Recent(ctx context.Context, siteID string, limit int) ([]Connection, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := t.client.ZRevRange(ctx, indexKey(siteID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("recent connections: %w", err)
	}
	conns, err := t.load(ctx, siteID, ids)
	if err != nil {
		return nil, err
	}
	return conns, nil
}

// Cleanup drops connections not seen for maxAge and returns how many were
// removed.
func (t *Tracker) Cleanup(ctx context.Context, siteID string, maxAge time.Duration) (int, error) {
	cutoff := t.now().Add(-maxAge).UnixMilli()
	ids, err := t.client.ZRangeByScore(ctx, indexKey(siteID), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("cleanup scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := t.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, connKey(siteID, id))
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe.ZRem(ctx, indexKey(siteID), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cleanup delete: %w", err)
	}
	return len(ids), nil
}

// SiteStats counts active (last 5 minutes) and total tracked connections.
func (t *Tracker) SiteStats(ctx context.Context, siteID string) (Stats, error) {
	total, err := t.client.ZCard(ctx, indexKey(siteID)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("connection stats: %w", err)
	}
	active, err := t.Active(ctx, siteID, 5*time.Minute)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Active: len(active), Total: int(total)}, nil
}

func (t *Tracker) load(ctx context.Context, siteID string, ids []string) ([]Connection, error) {
	conns := make([]Connection, 0, len(ids))
	for _, id := range ids {
		fields, err := t.client.HGetAll(ctx, connKey(siteID, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("load connection %s: %w", id, err)
		}
		if len(fields) == 0 {
			// Hash expired ahead of the index entry.
			continue
		}
		conns = append(conns, Connection{
			ClientID:    fields["client_id"],
			SiteID:      siteID,
			UserAgent:   fields["user_agent"],
			RemoteAddr:  fields["remote_addr"],
			Page:        fields["page"],
			ConnectedAt: parseMilli(fields["connected_at"]),
			LastSeenAt:  parseMilli(fields["last_seen_at"]),
		})
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].LastSeenAt.After(conns[j].LastSeenAt) })
	return conns, nil
}

func parseMilli(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
