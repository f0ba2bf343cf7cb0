package core

// Sources names the agent subsystems that appear as an event's source.
type Sources struct {
	AuthService      string
	JobDispatchQueue string
	JobManager       string
	SQLSyncService   string
}

// EventIDs holds the numeric event codes. Bases are added to an HTTP status
// code when one is available.
type EventIDs struct {
	AuthBase      int
	DispatchBase  int
	Retrieved     int
	UploadBase    int
	UploadStarted int
	Uploaded      int
	UploadFailed  int
	Connecting    int
	Extracted     int
	ExtractFailed int
}

// Settings replaces the agent's static constants. It is built once from
// configuration and passed to every component.
type Settings struct {
	AuthEndpoint string
	AgentName    string
	AgentVersion string
	Sources      Sources
	Events       EventIDs
}

// AgentVersion is sent on every poll and in the User-Agent. It is set at
// build time with -ldflags "-X github.com/nucleus/sync-agent/internal/core.AgentVersion=...".
var AgentVersion = "1.0"

// DefaultSettings returns the production constants.
func DefaultSettings() Settings {
	return Settings{
		AuthEndpoint: "https://core.intellischool.net/auth/onprem-sync",
		AgentName:    "Intellischool Sync Agent",
		AgentVersion: AgentVersion,
		Sources: Sources{
			AuthService:      "Auth Service",
			JobDispatchQueue: "Job Dispatch Queue",
			JobManager:       "Job Manager",
			SQLSyncService:   "SQL Sync Service",
		},
		Events: EventIDs{
			AuthBase:      1000,
			DispatchBase:  2000,
			Retrieved:     2000,
			UploadBase:    2000,
			UploadStarted: 2002,
			Uploaded:      2003,
			UploadFailed:  2400,
			Connecting:    3000,
			Extracted:     3002,
			ExtractFailed: 3602,
		},
	}
}

// UserAgent is sent on every coordination service request.
func (s Settings) UserAgent() string {
	return s.AgentName + "/" + s.AgentVersion
}
