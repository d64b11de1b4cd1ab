package probe

// Kind identifies the protocol family used to query a game server.
type Kind string

const (
	// KindJava is the Java edition server list ping protocol (TCP).
	KindJava Kind = "java"

	// KindBedrock is the Bedrock edition RakNet ping protocol (UDP).
	KindBedrock Kind = "bedrock"

	// KindUndetermined is returned by the resolver when no protocol
	// could be confirmed. It is never persisted.
	KindUndetermined Kind = "undetermined"
)

// Valid reports whether k is a persistable protocol kind.
func (k Kind) Valid() bool {
	return k == KindJava || k == KindBedrock
}

// Default well-known ports per protocol family.
const (
	DefaultJavaPort    = 25565
	DefaultBedrockPort = 19132
)

// Extended carries the optional metadata returned by the Java full query.
// Bedrock probes populate MapName and GameMode from the ping response.
type Extended struct {
	Software string
	MapName  string
	GameMode string
	Plugins  []string
}

// Snapshot is one point-in-time probe result. Online and offline are
// mutually exclusive: when Online is false only Kind and Err are set.
type Snapshot struct {
	Online bool
	Kind   Kind

	PlayersOnline int
	PlayersMax    int

	// LatencyMs is the end-to-end round trip of the primary status
	// exchange, rounded to 2 decimal places.
	LatencyMs float64

	Version       string
	MOTD          string
	SamplePlayers []string

	// Extended is nil when the optional metadata query failed or the
	// protocol does not expose it.
	Extended *Extended

	// Err describes why the server is considered offline.
	Err string
}
