package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/ledger"
)

// Timestamps are stored as unix nanoseconds so SQL ordering matches
// chain order exactly. RFC 3339 text does not sort correctly once
// trailing zeros are trimmed.

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalColumn(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: marshal column: %w", err)
	}
	return string(b), nil
}

func eventColumns(ev contracts.Event) ([]any, error) {
	actorJSON, err := marshalColumn(ev.Actor)
	if err != nil {
		return nil, err
	}
	contextJSON, err := marshalColumn(ev.Context)
	if err != nil {
		return nil, err
	}
	var payloadJSON any
	if ev.Payload != nil {
		payloadJSON, err = marshalColumn(ev.Payload)
		if err != nil {
			return nil, err
		}
	}
	return []any{
		ev.ID, ev.Actor.TenantID, ev.Type, actorJSON, contextJSON,
		payloadJSON, ev.Timestamp.UnixNano(), ev.ParentID, ev.Hash,
	}, nil
}

const eventSelectColumns = "id, type, actor, context, payload, ts_ns, parent_id, hash"

func scanEvent(row rowScanner) (contracts.Event, error) {
	var (
		id          string
		typ         string
		actorJSON   string
		contextJSON string
		payloadJSON sql.NullString
		tsNs        int64
		parentID    string
		hash        string
	)
	if err := row.Scan(&id, &typ, &actorJSON, &contextJSON, &payloadJSON, &tsNs, &parentID, &hash); err != nil {
		return contracts.Event{}, err
	}

	ev := contracts.Event{
		ID:        id,
		Type:      typ,
		Timestamp: time.Unix(0, tsNs).UTC(),
		ParentID:  parentID,
		Hash:      hash,
	}
	if err := json.Unmarshal([]byte(actorJSON), &ev.Actor); err != nil {
		return contracts.Event{}, fmt.Errorf("store: decode event %s actor: %w", id, err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &ev.Context); err != nil {
		return contracts.Event{}, fmt.Errorf("store: decode event %s context: %w", id, err)
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &ev.Payload); err != nil {
			return contracts.Event{}, fmt.Errorf("store: decode event %s payload: %w", id, err)
		}
	}
	return ev, nil
}

const artifactSelectColumns = "artifact_id, tenant_id, month_key, type, generated_ns, hash, schema_version, parent_artifact_id, payload"

func artifactColumns(art contracts.Artifact) ([]any, error) {
	var payloadJSON any
	if art.Payload != nil {
		var err error
		payloadJSON, err = marshalColumn(art.Payload)
		if err != nil {
			return nil, err
		}
	}
	return []any{
		art.ArtifactID, art.TenantID, art.MonthKey, string(art.Type),
		art.GeneratedAt.UnixNano(), art.Hash, art.SchemaVersion,
		art.ParentArtifactID, payloadJSON,
	}, nil
}

func scanArtifact(row rowScanner) (contracts.Artifact, error) {
	var (
		id          string
		tenantID    string
		monthKey    string
		typ         string
		genNs       int64
		hash        string
		schemaVer   int
		parentID    string
		payloadJSON sql.NullString
	)
	if err := row.Scan(&id, &tenantID, &monthKey, &typ, &genNs, &hash, &schemaVer, &parentID, &payloadJSON); err != nil {
		return contracts.Artifact{}, err
	}

	art := contracts.Artifact{
		ArtifactID:       id,
		TenantID:         tenantID,
		MonthKey:         monthKey,
		Type:             contracts.ArtifactType(typ),
		GeneratedAt:      time.Unix(0, genNs).UTC(),
		Hash:             hash,
		SchemaVersion:    schemaVer,
		ParentArtifactID: parentID,
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &art.Payload); err != nil {
			return contracts.Artifact{}, fmt.Errorf("store: decode artifact %s payload: %w", id, err)
		}
	}
	return art, nil
}

const snapshotSelectColumns = "snapshot_id, tenant_id, at_event_id, at_ns, event_count, state, state_hash"

func snapshotColumns(snap ledger.Snapshot) ([]any, error) {
	stateJSON, err := marshalColumn(snap.State)
	if err != nil {
		return nil, err
	}
	return []any{
		snap.SnapshotID, snap.TenantID, snap.AtEventID,
		snap.AtTimestamp.UnixNano(), snap.EventCount, stateJSON, snap.StateHash,
	}, nil
}

func scanSnapshot(row rowScanner) (ledger.Snapshot, error) {
	var (
		id         string
		tenantID   string
		atEventID  string
		atNs       int64
		eventCount int
		stateJSON  string
		stateHash  string
	)
	if err := row.Scan(&id, &tenantID, &atEventID, &atNs, &eventCount, &stateJSON, &stateHash); err != nil {
		return ledger.Snapshot{}, err
	}

	snap := ledger.Snapshot{
		SnapshotID:  id,
		TenantID:    tenantID,
		AtEventID:   atEventID,
		AtTimestamp: time.Unix(0, atNs).UTC(),
		EventCount:  eventCount,
		StateHash:   stateHash,
	}
	if err := json.Unmarshal([]byte(stateJSON), &snap.State); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("store: decode snapshot %s state: %w", id, err)
	}
	return snap, nil
}
