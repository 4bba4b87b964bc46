package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"digest_server/core/port/out"
)

// =============================================================================
// Neo4j Sender Profile Adapter
// =============================================================================

// ProfileAdapter implements out.SenderProfileStore on the
// (User)-[:RECEIVES_FROM]->(Sender) graph. Counters live on the relationship
// so one sender node serves every user that hears from it.
type ProfileAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

// NewProfileAdapter creates a new Neo4j sender profile adapter.
func NewProfileAdapter(driver neo4j.DriverWithContext, dbName string) *ProfileAdapter {
	return &ProfileAdapter{
		driver: driver,
		dbName: dbName,
	}
}

// EnsureIndexes creates necessary constraints and indexes.
func (a *ProfileAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT digest_user_identity IF NOT EXISTS FOR (u:User) REQUIRE u.identity IS UNIQUE`,
		`CREATE CONSTRAINT digest_sender_address IF NOT EXISTS FOR (s:Sender) REQUIRE s.address IS UNIQUE`,
	}

	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to ensure graph schema: %w", err)
		}
	}
	return nil
}

// Profile returns the interaction record, or nil when the sender is new.
func (a *ProfileAdapter) Profile(ctx context.Context, identity uuid.UUID, sender string) (*out.SenderProfile, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	query := `
		MATCH (u:User {identity: $identity})-[r:RECEIVES_FROM]->(s:Sender {address: $sender})
		RETURN r.emails_received AS emails_received,
		       r.replies_drafted AS replies_drafted,
		       r.importance_score AS importance_score,
		       r.vip AS vip
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"identity": identity.String(),
		"sender":   normalizeSender(sender),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sender profile: %w", err)
	}

	if result.Next(ctx) {
		record := result.Record()
		return &out.SenderProfile{
			Sender:          normalizeSender(sender),
			EmailsReceived:  recordInt64(record, "emails_received"),
			RepliesDrafted:  recordInt64(record, "replies_drafted"),
			ImportanceScore: recordFloat(record, "importance_score"),
			VIP:             recordBool(record, "vip"),
		}, nil
	}

	return nil, result.Err()
}

// RecordInteraction bumps counters for one processed email. The importance
// score is the drafted-reply ratio, recomputed after the increment.
func (a *ProfileAdapter) RecordInteraction(ctx context.Context, identity uuid.UUID, sender string, replied bool) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	inc := 0
	if replied {
		inc = 1
	}

	query := `
		MERGE (u:User {identity: $identity})
		MERGE (s:Sender {address: $sender})
		MERGE (u)-[r:RECEIVES_FROM]->(s)
		ON CREATE SET r.emails_received = 0, r.replies_drafted = 0, r.vip = false, r.created_at = timestamp()
		SET r.emails_received = r.emails_received + 1,
		    r.replies_drafted = r.replies_drafted + $inc
		WITH r
		SET r.importance_score = toFloat(r.replies_drafted) / toFloat(r.emails_received),
		    r.updated_at = timestamp()
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"identity": identity.String(),
		"sender":   normalizeSender(sender),
		"inc":      inc,
	})
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

// MarkVIP pins a sender as important regardless of counters.
func (a *ProfileAdapter) MarkVIP(ctx context.Context, identity uuid.UUID, sender string, vip bool) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	query := `
		MERGE (u:User {identity: $identity})
		MERGE (s:Sender {address: $sender})
		MERGE (u)-[r:RECEIVES_FROM]->(s)
		ON CREATE SET r.emails_received = 0, r.replies_drafted = 0, r.importance_score = 0.0
		SET r.vip = $vip, r.updated_at = timestamp()
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"identity": identity.String(),
		"sender":   normalizeSender(sender),
		"vip":      vip,
	})
	if err != nil {
		return fmt.Errorf("failed to mark vip: %w", err)
	}
	return nil
}

func normalizeSender(sender string) string {
	return strings.ToLower(strings.TrimSpace(sender))
}

// =============================================================================
// Record Helpers
// =============================================================================

func recordInt64(record *neo4j.Record, key string) int64 {
	if val, ok := record.Get(key); ok && val != nil {
		switch v := val.(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}

func recordFloat(record *neo4j.Record, key string) float64 {
	if val, ok := record.Get(key); ok && val != nil {
		switch v := val.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		}
	}
	return 0
}

func recordBool(record *neo4j.Record, key string) bool {
	if val, ok := record.Get(key); ok && val != nil {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.SenderProfileStore = (*ProfileAdapter)(nil)
