package graph

// TargetID is an opaque identifier of the form "//path/to/pkg:name",
// unique within a workspace and immutable after creation (§3).
type TargetID string

// TargetType enumerates the kinds of buildable targets.
type TargetType string

const (
	TargetExecutable TargetType = "executable"
	TargetLibrary    TargetType = "library"
	TargetTest       TargetType = "test"
	TargetCustom     TargetType = "custom"
)

// Target is the immutable description of a buildable unit. Per-language
// configuration and toolchain selection are the external collaborator's
// concern (§1); forgecore only needs the language tag to route to a
// Handler registered by that collaborator.
type Target struct {
	ID           TargetID
	Type         TargetType
	Language     string
	Sources      []string // ordered
	Dependencies []TargetID
	OutputHints  []string
	Config       map[string]interface{} // language-specific configuration blob
}
