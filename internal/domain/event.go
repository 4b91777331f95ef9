package domain

import "github.com/goccy/go-json"

// Event is one recorded lifecycle occurrence from an agent session.
// ID and (when omitted) Timestamp are assigned by the store.
type Event struct {
	ID                   int64           `json:"id,omitempty"`
	SourceApp            string          `json:"source_app"`
	SessionID            string          `json:"session_id"`
	HookEventType        string          `json:"hook_event_type"`
	Payload              json.RawMessage `json:"payload"`
	Timestamp            int64           `json:"timestamp,omitempty"` // epoch millis
	Chat                 json.RawMessage `json:"chat,omitempty"`
	Summary              string          `json:"summary,omitempty"`
	ModelName            string          `json:"model_name,omitempty"`
	HumanInTheLoop       *HumanInTheLoop `json:"human_in_the_loop,omitempty"`
	HumanInTheLoopStatus *HITLStatus     `json:"human_in_the_loop_status,omitempty"`
}

type HITLKind string

const (
	HITLQuestion   HITLKind = "question"
	HITLPermission HITLKind = "permission"
	HITLChoice     HITLKind = "choice"
)

// HumanInTheLoop is written once, at creation.
type HumanInTheLoop struct {
	Question             string   `json:"question"`
	ResponseWebSocketURL string   `json:"response_websocket_url,omitempty"`
	Type                 HITLKind `json:"type"`
	Choices              []string `json:"choices,omitempty"`
	Timeout              int      `json:"timeout,omitempty"` // seconds
	RequiresResponse     bool     `json:"requires_response,omitempty"`
}

type HITLState string

const (
	HITLPending   HITLState = "pending"
	HITLResponded HITLState = "responded"
)

type HITLStatus struct {
	Status      HITLState       `json:"status"`
	RespondedAt int64           `json:"responded_at,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
}

// FilterOptions is the distinct vocabulary of the indexed fields.
type FilterOptions struct {
	SourceApps     []string `json:"source_apps"`
	SessionIDs     []string `json:"session_ids"`
	HookEventTypes []string `json:"hook_event_types"`
}

// Input limits
const (
	MaxSourceAppLen     = 128
	MaxSessionIDLen     = 256
	MaxHookEventTypeLen = 128
	MaxQuestionLen      = 4096
	MaxChoices          = 32
)

// SortKeyLess orders events the way recent() windows them: by timestamp,
// then by id for events sharing a millisecond.
func SortKeyLess(a, b Event) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

// PrepareInsert applies the store-owned fields of a new event: the id is
// cleared for the store to assign, a missing timestamp becomes now, and
// the HITL status is pending exactly when a HITL request is present.
func PrepareInsert(ev Event, now int64) Event {
	ev.ID = 0
	if ev.Timestamp == 0 {
		ev.Timestamp = now
	}
	ev.HumanInTheLoopStatus = nil
	if ev.HumanInTheLoop != nil {
		ev.HumanInTheLoopStatus = &HITLStatus{Status: HITLPending}
	}
	return ev
}
