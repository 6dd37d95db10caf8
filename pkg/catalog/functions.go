package catalog

// Default is the fixed function table (§4.3). It doubles as the
// FunctionExecutor allow-list: anything not listed here is UnknownFunction
// before argument validation ever runs.
var Default = Catalog{
	"launch_app": {
		Name:        "launch_app",
		Description: "Launch a whitelisted desktop application by its friendly name.",
		SchemaJSON: `{
			"type": "object",
			"properties": {"name": {"type": "string"}},
			"required": ["name"]
		}`,
	},
	"open_file": {
		Name:        "open_file",
		Description: "Open a file with its default associated application.",
		SchemaJSON: `{
			"type": "object",
			"properties": {"path": {"type": "string"}},
			"required": ["path"]
		}`,
	},
	"open_url": {
		Name:        "open_url",
		Description: "Open a URL in the default browser.",
		SchemaJSON: `{
			"type": "object",
			"properties": {"url": {"type": "string"}},
			"required": ["url"]
		}`,
	},
	"run_shell_command": {
		Name:        "run_shell_command",
		Description: "Run a short, read-only shell command and return its output.",
		SchemaJSON: `{
			"type": "object",
			"properties": {"command": {"type": "string"}},
			"required": ["command"]
		}`,
	},
	"query_system_state": {
		Name:        "query_system_state",
		Description: "Report CPU, memory and disk usage for the local machine.",
		SchemaJSON:  `{"type": "object", "properties": {}}`,
	},
	"query_time": {
		Name:        "query_time",
		Description: "Return the current date and time.",
		SchemaJSON:  `{"type": "object", "properties": {}}`,
	},
	"list_files": {
		Name:        "list_files",
		Description: "List the entries in a directory.",
		SchemaJSON: `{
			"type": "object",
			"properties": {"path": {"type": "string"}},
			"required": ["path"]
		}`,
	},
	"create_file": {
		Name:        "create_file",
		Description: "Create a file with the given text content.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["path", "content"]
		}`,
	},
	"read_file": {
		Name:        "read_file",
		Description: "Read a file's contents as text.",
		SchemaJSON: `{
			"type": "object",
			"properties": {"path": {"type": "string"}},
			"required": ["path"]
		}`,
	},
	"delete_file": {
		Name:        "delete_file",
		Description: "Delete a file. Requires user confirmation.",
		SchemaJSON: `{
			"type": "object",
			"properties": {"path": {"type": "string"}},
			"required": ["path"]
		}`,
	},
	"move_file": {
		Name:        "move_file",
		Description: "Move or rename a file.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"source": {"type": "string"},
				"destination": {"type": "string"}
			},
			"required": ["source", "destination"]
		}`,
	},
	"search_files": {
		Name:        "search_files",
		Description: "Search for files under a directory matching a name pattern.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"pattern": {"type": "string"}
			},
			"required": ["path", "pattern"]
		}`,
	},
	"manage_window": {
		Name:        "manage_window",
		Description: "Minimize, maximize, close or focus a window by title.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"title": {"type": "string"},
				"action": {"type": "string", "enum": ["minimize", "maximize", "close", "focus"]}
			},
			"required": ["title", "action"]
		}`,
	},
	"set_volume": {
		Name:        "set_volume",
		Description: "Set the system output volume, 0-100.",
		SchemaJSON: `{
			"type": "object",
			"properties": {"level": {"type": "number"}},
			"required": ["level"]
		}`,
	},
}

// DefaultRequireConfirmation and DefaultBlocked are the §6 configuration
// defaults for which functions require explicit user confirmation and which
// are blocked outright.
var (
	DefaultRequireConfirmation = []string{"delete_file", "modify_system_settings", "uninstall_application", "modify_registry"}
	DefaultBlocked             = []string{"access_credentials", "modify_admin_protected", "run_arbitrary_powershell"}
)

// AppWhitelist maps the launch_app friendly name to the underlying command
// the executor is allowed to run (§4.4).
var AppWhitelist = map[string]string{
	"chrome":     "chrome.exe",
	"vscode":     "code.cmd",
	"notepad":    "notepad.exe",
	"calculator": "calc.exe",
	"explorer":   "explorer.exe",
	"edge":       "msedge.exe",
	"firefox":    "firefox.exe",
}
