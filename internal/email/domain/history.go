package domain

import "math/big"

type HistoryEventKind int

const (
	MessageAdded HistoryEventKind = iota + 1
	MessageDeleted
	LabelsAdded
	LabelsRemoved
)

func (k HistoryEventKind) String() string {
	switch k {
	case MessageAdded:
		return "messageAdded"
	case MessageDeleted:
		return "messageDeleted"
	case LabelsAdded:
		return "labelsAdded"
	case LabelsRemoved:
		return "labelsRemoved"
	default:
		return "unknown"
	}
}

// HistoryEvent is one change from the provider history log. LabelIDs is set
// for LabelsAdded and LabelsRemoved only.
type HistoryEvent struct {
	Kind      HistoryEventKind
	MessageID string
	ThreadID  string
	LabelIDs  []string
}

type HistoryRecord struct {
	ID     string
	Events []HistoryEvent
}

// HistoryPage is one page of history. HistoryID is the cursor to resume
// from once every record of the page has been applied.
type HistoryPage struct {
	Records       []HistoryRecord
	HistoryID     string
	NextPageToken string
}

// CompareHistoryIDs compares two decimal history ids as arbitrary precision
// integers. Empty or malformed ids sort before any valid id.
func CompareHistoryIDs(a, b string) int {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return x.Cmp(y)
}

// MaxHistoryID returns the larger of two history ids.
func MaxHistoryID(a, b string) string {
	if CompareHistoryIDs(b, a) > 0 {
		return b
	}
	return a
}
