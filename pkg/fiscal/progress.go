package fiscal

// Progress counts work done over a stream of documents. The ingestion
// pipeline and the store's load both report it.
type Progress struct {
	Scanned    int `json:"scanned"`
	Extracted  int `json:"extracted"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
	Committed  int `json:"committed"`
}

// ProgressFunc receives progress snapshots. Calls are never concurrent.
type ProgressFunc func(Progress)
