package dto

// HistoryFilter narrows and pages the detection history. Zero values match
// everything.
type HistoryFilter struct {
	Label  string
	Limit  int
	Offset int
}
