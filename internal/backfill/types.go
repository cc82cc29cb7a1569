package backfill

import "time"

// Config holds the import command configuration.
type Config struct {
	Dir       string    // directory of saved flow dumps, searched recursively
	StatePath string    // resumable progress file
	Since     time.Time // skip flows captured before this time (zero keeps all)
	DryRun    bool      // report what would be captured without writing records
}

// Summary counts what one import run did.
type Summary struct {
	Files       int `json:"files"`
	FilesSkip   int `json:"files_already_imported"`
	Flows       int `json:"flows"`
	Captured    int `json:"captured"`
	Unsupported int `json:"unsupported"`
	BeforeSince int `json:"before_since"`
	Failed      int `json:"failed"`
}
