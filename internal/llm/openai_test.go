package llm

import (
	"encoding/json"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
)

func TestBuildMessagesToolCallRoundTrip(t *testing.T) {
	msgs := []ChatMessage{
		System("be terse"),
		User("review this"),
		{
			Role:    RoleAssistant,
			Content: "checking the file",
			ToolCalls: []ToolCall{
				{ID: "call_1", Name: "read_file_hunk", Arguments: `{"path":"a.py"}`},
			},
		},
		ToolResult("call_1", "line 1\nline 2"),
	}

	out := buildMessages(msgs)
	if len(out) != 4 {
		t.Fatalf("messages = %d, want 4", len(out))
	}

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	doc := string(raw)

	if got := gjson.Get(doc, "2.role").String(); got != "assistant" {
		t.Errorf("assistant role = %q", got)
	}
	tc := gjson.Get(doc, "2.tool_calls.0")
	if tc.Get("id").String() != "call_1" || tc.Get("type").String() != "function" {
		t.Errorf("tool call = %s", tc.Raw)
	}
	if tc.Get("function.name").String() != "read_file_hunk" {
		t.Errorf("function name = %q", tc.Get("function.name").String())
	}
	if tc.Get("function.arguments").String() != `{"path":"a.py"}` {
		t.Errorf("function arguments = %q", tc.Get("function.arguments").String())
	}
	if got := gjson.Get(doc, "3.tool_call_id").String(); got != "call_1" {
		t.Errorf("tool result call id = %q", got)
	}
}

func TestToolParamWireShape(t *testing.T) {
	def := ToolDef{
		Name:        "search_in_project",
		Description: "search tracked files",
		Parameters:  map[string]any{"type": "object"},
	}
	param := openai.ChatCompletionToolParam{
		Function: shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  shared.FunctionParameters(def.Parameters),
		},
	}

	raw, err := json.Marshal(param)
	if err != nil {
		t.Fatal(err)
	}
	doc := string(raw)
	if gjson.Get(doc, "type").String() != "function" {
		t.Errorf("tool type = %q", gjson.Get(doc, "type").String())
	}
	if gjson.Get(doc, "function.name").String() != "search_in_project" {
		t.Errorf("tool name = %q", gjson.Get(doc, "function.name").String())
	}
	if gjson.Get(doc, "function.parameters.type").String() != "object" {
		t.Errorf("parameters = %q", gjson.Get(doc, "function.parameters").Raw)
	}
}
