package domain

import "time"

// MachineStatus is the lifecycle state of a registered machine (spec §3).
type MachineStatus string

const (
	MachineStatusPending  MachineStatus = "pending"
	MachineStatusApproved MachineStatus = "approved"
	MachineStatusDenied   MachineStatus = "denied"
	MachineStatusRevoked  MachineStatus = "revoked"
)

// OnlineWindow is the staleness bound used to decide whether a machine is online.
const OnlineWindow = 90 * time.Second

// Machine is a node of the overlay network known to the Hub registry.
type Machine struct {
	ID          string        `json:"machine_id"`
	DisplayName string        `json:"display_name"`
	OverlayIP   string        `json:"overlay_ip"`
	DaemonURL   string        `json:"daemon_url"`
	Token       string        `json:"-"` // set iff Status == approved; never serialized
	Status      MachineStatus `json:"status"`
	LastSeen    *time.Time    `json:"last_seen,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Online reports whether the machine has heartbeated within OnlineWindow of now.
func (m Machine) Online(now time.Time) bool {
	if m.LastSeen == nil {
		return false
	}
	return now.Sub(*m.LastSeen) <= OnlineWindow
}

// HomeProjectID is the synthetic project id present on every machine.
const HomeProjectID = "home"

// Project (a.k.a. agent) belongs to a machine and is addressed as
// "<machine_id>/<project_id>" network-wide.
type Project struct {
	MachineID   string   `json:"machine_id"`
	ProjectID   string   `json:"project_id"`
	Description string   `json:"description,omitempty"`
	Caps        []string `json:"caps,omitempty"`
	Path        string   `json:"path,omitempty"`
}

// AgentAddress formats the network-wide address of a project.
func AgentAddress(machineID, projectID string) string {
	return machineID + "/" + projectID
}
