package config

// Mode selects what powerdash produces.
type Mode string

const (
	// ModeSnapshot prints one JSON record and exits.
	ModeSnapshot Mode = "snapshot"
	// ModeStream prints one JSON record per fast tick.
	ModeStream Mode = "stream"
	// ModeDashboard renders the terminal dashboard.
	ModeDashboard Mode = "dashboard"
	// ModeServe exposes HTTP, WebSocket and Prometheus endpoints.
	ModeServe Mode = "serve"
)

// IsValid returns whether the mode is known
func (m Mode) IsValid() bool {
	switch m {
	case ModeSnapshot, ModeStream, ModeDashboard, ModeServe:
		return true
	default:
		return false
	}
}

// BackendKind selects the telemetry source.
type BackendKind string

const (
	BackendExec   BackendKind = "exec"
	BackendStream BackendKind = "stream"
)

// IsValid returns whether the backend is known
func (b BackendKind) IsValid() bool {
	return b == BackendExec || b == BackendStream
}
