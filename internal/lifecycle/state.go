package lifecycle

// State is the inferred operational phase of the game server.
type State int

const (
	Idle State = iota
	Starting
	Loading
	Ready
	ShutdownWarning
	NetworkDown
	Stopped
)

var stateNames = [...]string{"idle", "starting", "loading", "ready", "shutdown_warning", "network_down", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StateNames lists every state name in lifecycle order.
func StateNames() []string {
	out := make([]string, len(stateNames))
	copy(out, stateNames[:])
	return out
}

// Markers are the log substrings that signal phase changes. An empty marker
// never matches.
type Markers struct {
	ServerStarting  string `toml:"server_starting" mapstructure:"server_starting" json:"server_starting"`
	LoadComplete    string `toml:"load_complete" mapstructure:"load_complete" json:"load_complete"`
	ExitWarning     string `toml:"exit_warning" mapstructure:"exit_warning" json:"exit_warning"`
	NetworkShutdown string `toml:"network_shutdown" mapstructure:"network_shutdown" json:"network_shutdown"`
	ServerStopped   string `toml:"server_stopped" mapstructure:"server_stopped" json:"server_stopped"`
}

// DefaultMarkers returns the Conan Exiles dedicated server markers.
func DefaultMarkers() Markers {
	return Markers{
		ServerStarting:  "Entered application state 'ConanSandboxStarting'",
		LoadComplete:    "WorldPersistenceDone",
		ExitWarning:     "LogWindows: FPlatformMisc::RequestExit(0)",
		NetworkShutdown: "LogNet: World NetDriver shutdown",
		ServerStopped:   "Entered application state 'ConanSandboxStopped'",
	}
}
