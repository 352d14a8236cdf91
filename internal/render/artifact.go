package render

import (
	"github.com/conduit-lang/svcgen/internal/templates"
)

// Policy governs how the writer combines an artifact with an existing file
type Policy = templates.Policy

const (
	CreateOnly  = templates.PolicyCreateOnly
	Overwrite   = templates.PolicyOverwrite
	AppendRoute = templates.PolicyAppendRoute
)

// Artifact is one rendered output file, or one route entry for an
// append-route target
type Artifact struct {
	// Path is relative to the output root, with forward slashes
	Path    string
	Content string
	Policy  Policy
	Step    string
	// Template names the template file the artifact came from
	Template string
	// RouteKey is the dedup key of an append-route entry
	RouteKey string
}

// ArtifactSet is an ordered list of artifacts. Order matters: a create-only
// shared file precedes the route entries appended to it.
type ArtifactSet []Artifact
