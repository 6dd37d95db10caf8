package executor

// Policy is the §6 configuration surface controlling the policy and
// confirmation gates: which functions are blocked outright and which
// require an explicit user confirmation before running.
type Policy struct {
	Blocked             map[string]bool
	RequireConfirmation map[string]bool
}

// NewPolicy builds a Policy from name lists (e.g. catalog.DefaultBlocked,
// catalog.DefaultRequireConfirmation).
func NewPolicy(blocked, requireConfirmation []string) Policy {
	p := Policy{
		Blocked:             make(map[string]bool, len(blocked)),
		RequireConfirmation: make(map[string]bool, len(requireConfirmation)),
	}
	for _, n := range blocked {
		p.Blocked[n] = true
	}
	for _, n := range requireConfirmation {
		p.RequireConfirmation[n] = true
	}
	return p
}

func (p Policy) isBlocked(name string) bool {
	return p.Blocked[name]
}

func (p Policy) needsConfirmation(name string) bool {
	return p.RequireConfirmation[name]
}
