package executor

import "context"

// ConfirmFunc is the external confirmation channel (§4.4, §5 "Confirmation
// channel"): given a confirmation-id, the function name, its arguments and
// a human-readable description, it notifies the embedding application that
// a decision is needed. The application answers asynchronously by calling
// Executor.Resolve(id, approved) — each id is resolved at most once. No
// enforced latency; a missing channel, or a context that expires first,
// defaults to deny.
type ConfirmFunc func(ctx context.Context, id, name string, arguments map[string]any, description string)

// describe renders the human-readable confirmation prompt for a call.
func describe(name string, arguments map[string]any) string {
	switch name {
	case "delete_file":
		if p, ok := arguments["path"].(string); ok {
			return "delete the file " + p
		}
	case "move_file":
		src, _ := arguments["source"].(string)
		dst, _ := arguments["destination"].(string)
		return "move " + src + " to " + dst
	}
	return "run " + name + " with the given arguments"
}
