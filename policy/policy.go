// Package policy implements the PolicyStore & EventLog (§4.12): the
// versioned decision policy that gates autonomous hiring/spending, and
// the append-only audit trail of brain decisions.
package policy

// Timers configures the discovery/brain sweep cadence.
type Timers struct {
	DiscoveryIntervalSeconds       int  `json:"discoveryIntervalSeconds"`
	DirectoryRegisterIntervalSeconds int `json:"directoryRegisterIntervalSeconds"`
	AutoInvite                    bool `json:"autoInvite"`
}

// Decisions configures autonomous hiring/spend behaviour.
type Decisions struct {
	HireEnabled                  bool     `json:"hireEnabled"`
	AutoHireMaxSats              int64    `json:"autoHireMaxSats"`
	WriteMemoryEnabled           bool     `json:"writeMemoryEnabled"`
	RequireHumanApprovalForMemory bool    `json:"requireHumanApprovalForMemory"`
	AutoHireCapabilities         []string `json:"autoHireCapabilities"`
	MaxJobsPerSweep              int      `json:"maxJobsPerSweep"`
}

// Growth configures peer-acquisition targets.
type Growth struct {
	MinHealthyPeers  int `json:"minHealthyPeers"`
	TargetKnownPeers int `json:"targetKnownPeers"`
}

// GoalTemplate is one self-generated job blueprint (§4.11 goal generation).
type GoalTemplate struct {
	Enabled        *bool          `json:"enabled,omitempty"`
	Capability     string         `json:"capability"`
	Params         map[string]any `json:"params"`
	EverySeconds   int            `json:"everySeconds"`
	Strategy       string         `json:"strategy"`
	MaxSats        int64          `json:"maxSats"`
	Priority       int            `json:"priority"`
	PersistResult  bool           `json:"persistResult"`
	MemoryKey      string         `json:"memoryKey"`
	MemoryCategory string         `json:"memoryCategory"`
}

// Goals configures self-generated job templates.
type Goals struct {
	AutoGenerateJobs       bool           `json:"autoGenerateJobs"`
	GenerateJobsEverySeconds int          `json:"generateJobsEverySeconds"`
	Templates              []GoalTemplate `json:"templates"`
}

// Policy is the versioned brain decision policy (§3).
type Policy struct {
	Version   int       `json:"version"`
	Timers    Timers    `json:"timers"`
	Decisions Decisions `json:"decisions"`
	Growth    Growth    `json:"growth"`
	Goals     Goals     `json:"goals"`
}

// Default returns the built-in default policy every loaded file is
// deep-merged over.
func Default() Policy {
	return Policy{
		Version: 1,
		Timers: Timers{
			DiscoveryIntervalSeconds:         300,
			DirectoryRegisterIntervalSeconds: 600,
			AutoInvite:                       true,
		},
		Decisions: Decisions{
			HireEnabled:                   false,
			AutoHireMaxSats:               100,
			WriteMemoryEnabled:            false,
			RequireHumanApprovalForMemory: true,
			AutoHireCapabilities:          nil,
			MaxJobsPerSweep:               5,
		},
		Growth: Growth{
			MinHealthyPeers:  3,
			TargetKnownPeers: 25,
		},
		Goals: Goals{
			AutoGenerateJobs:         false,
			GenerateJobsEverySeconds: 3600,
			Templates:                nil,
		},
	}
}
