package llm

// systemPrompt is prepended to every completion request. It never appears in
// the relay's transcript.
const systemPrompt = "You are a coding assistant. Your goal is to complete the coding task given to you by USER.\n" +
	"You can and should use provided tools to complete the task."

// Tool names the model may call. The client executes these locally.
const (
	ToolReadFile = "read_file"
	ToolSearch   = "search"
)

// toolDefinitions advertises the local tools on every request. Argument
// schemas mirror what the client-side executors accept.
func toolDefinitions() []apiTool {
	return []apiTool{
		{
			Type: "function",
			Function: apiFunctionDef{
				Name:        ToolReadFile,
				Description: "Read a file and return the contents",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"filename": map[string]any{
							"type":        "string",
							"description": "Absolute or workspace-relative path of the file to read",
						},
					},
					"required":             []string{"filename"},
					"additionalProperties": false,
				},
			},
		},
		{
			Type: "function",
			Function: apiFunctionDef{
				Name:        ToolSearch,
				Description: "Search for content in files using regex patterns",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"pattern": map[string]any{
							"type":        "string",
							"description": "Search term (can be a regex pattern)",
						},
						"file_filter": map[string]any{
							"type":        "string",
							"description": "File filter pattern (e.g., 'src/**/*.go', '*.txt')",
						},
						"context_lines": map[string]any{
							"type":        "integer",
							"description": "Number of lines to show before and after each match",
							"default":     2,
						},
					},
					"required":             []string{"pattern", "file_filter"},
					"additionalProperties": false,
				},
			},
		},
	}
}
