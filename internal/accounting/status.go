package accounting

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	StatusDraft           EntryStatus = "DRAFT"
	StatusPendingApproval EntryStatus = "PENDING_APPROVAL"
	StatusApproved        EntryStatus = "APPROVED"
	StatusRejected        EntryStatus = "REJECTED"
	StatusPosted          EntryStatus = "POSTED"
	StatusReversed        EntryStatus = "REVERSED"
	StatusCancelled       EntryStatus = "CANCELLED"
)

// transitions is the single source of truth for entry lifecycle moves.
var transitions = map[EntryStatus][]EntryStatus{
	StatusDraft:           {StatusPendingApproval, StatusCancelled, StatusPosted},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:        {StatusPosted},
	StatusPosted:          {StatusReversed},
}

// CanTransition reports whether an entry may move from one status to another.
func CanTransition(from, to EntryStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s EntryStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s EntryStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusRejected,
		StatusPosted, StatusReversed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CheckTransition returns a *TransitionError when the move is not in the table.
func CheckTransition(entryID int64, from, to EntryStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{EntryID: entryID, From: from, To: to}
}
