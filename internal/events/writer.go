package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bountyline/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Ref locates the entity an event is about. The most specific non-zero id
// decides the entity kind.
type Ref struct {
	Bounty      domain.BountyID
	Application domain.ApplicationID
	Milestone   domain.MilestoneID
}

func (r Ref) Kind() string {
	switch {
	case r.Milestone != 0:
		return "milestone"
	case r.Application != 0:
		return "application"
	default:
		return "bounty"
	}
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, ref Ref, actor domain.AccountID, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,bounty_id,application_id,milestone_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, evtType, ref.Kind(), nullableID(uint64(ref.Bounty)), nullableID(uint64(ref.Application)), nullableID(uint64(ref.Milestone)), string(actor), string(data))
	return err
}

func nullableID(v uint64) any {
	if v == 0 {
		return nil
	}
	return int64(v)
}
