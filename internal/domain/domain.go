package domain

// Request statuses. StatusConfirmed and StatusCanceled are terminal.
const (
	StatusNew        = "new"
	StatusInProgress = "in_progress"
	StatusPending    = "completed_pending"
	StatusConfirmed  = "completed_confirmed"
	StatusCanceled   = "canceled"
)

// Assignment roles.
const (
	RoleLead   = "lead"
	RoleHelper = "helper"
)

// CommissionPayee is the ledger sentinel for the administrative commission.
const CommissionPayee = "ADMIN"

// IsTerminal reports whether no further lifecycle transition is allowed.
func IsTerminal(status string) bool {
	return status == StatusConfirmed || status == StatusCanceled
}

// Money is a parsed budget figure.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Assignment binds a developer to a request with a revenue share.
type Assignment struct {
	Role string `json:"role" enum:"lead,helper"`
	Pct  int    `json:"pct" minimum:"0" maximum:"100"`
}

// Request is the central entity. The in-memory copy carried by the index is
// richer than the persisted row: Assignments and VisibleBudget are flattened
// or derived on write.
type Request struct {
	ID              string  `json:"id"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	SubmitterID     string  `json:"submitter_id"`
	SubmitterName   string  `json:"submitter_name"`
	SubmitterHandle string  `json:"submitter_handle,omitempty"`
	SubmitterHash   string  `json:"submitter_hash"`
	Category        string  `json:"category"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	BudgetRaw       string  `json:"budget_raw"`
	Budget          *Money  `json:"budget,omitempty"`
	DeadlineRaw     string  `json:"deadline_raw"`
	DeadlineISO     *string `json:"deadline_iso,omitempty" format:"date"`
	Contact         string  `json:"contact"`
	Status          string  `json:"status" enum:"new,in_progress,completed_pending,completed_confirmed,canceled"`
	StartedAt       *string `json:"started_at,omitempty" format:"date-time"`
	Notes           string  `json:"notes,omitempty"`
	ThreadID        string  `json:"thread_id,omitempty"`
	ThreadLink      string  `json:"thread_link,omitempty"`

	// Assignments is the live role map held by the index; the persisted row
	// flattens it to AssigneeIDs, so roles and shares do not survive a
	// reload from the log.
	Assignments map[string]Assignment `json:"assignments,omitempty"`
	AssigneeIDs []string              `json:"assignee_ids,omitempty"`
}

// Assignees returns the assigned developer ids, lead first when the live
// role map is present, stored order otherwise.
func (r Request) Assignees() []string {
	if len(r.Assignments) == 0 {
		return r.AssigneeIDs
	}
	var lead string
	var helpers []string
	for id, a := range r.Assignments {
		if a.Role == RoleLead {
			lead = id
		} else {
			helpers = append(helpers, id)
		}
	}
	var out []string
	if lead != "" {
		out = append(out, lead)
	}
	return append(out, helpers...)
}

// Lead returns the lead developer id, or "" if none is assigned.
func (r Request) Lead() string {
	for id, a := range r.Assignments {
		if a.Role == RoleLead {
			return id
		}
	}
	return ""
}

// PctTotal is the sum of all percentage shares.
func (r Request) PctTotal() int {
	total := 0
	for _, a := range r.Assignments {
		total += a.Pct
	}
	return total
}

// Claim is a developer's expression of interest. Claims are never removed;
// assignment consumes them without deleting them.
type Claim struct {
	RequestID string `json:"request_id"`
	DevID     string `json:"dev_id"`
	Handle    string `json:"handle,omitempty"`
	Name      string `json:"name,omitempty"`
	ClaimedAt string `json:"claimed_at" format:"date-time"`
}

// Earning is one append-only ledger row. PayeeID is a developer id or the
// CommissionPayee sentinel. Amount carries two decimals.
type Earning struct {
	ID        int64   `json:"id"`
	TS        string  `json:"ts" format:"date-time"`
	RequestID string  `json:"request_id"`
	PayeeID   string  `json:"payee_id"`
	Handle    string  `json:"handle,omitempty"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Note      string  `json:"note,omitempty"`
}

// Event is one audit log row.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RequestID  string `json:"request_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
