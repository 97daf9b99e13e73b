package policy

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// The wire form of an expression item is either a rule reference object
// ({"rule": ...} or {"rule_id": ...}) or a nested expression object
// ({"op": ..., "items": [...]}) placed inline. The codecs below accept that
// form and re-emit it unchanged.

// UnmarshalJSON decodes an expression item from its wire form.
func (it *ExpressionItem) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("expression item must be an object: %w", err)
	}

	if _, ok := probe["op"]; ok {
		var expr Expression
		if err := json.Unmarshal(data, &expr); err != nil {
			return err
		}
		*it = ExpressionItem{Expr: &expr}
		return nil
	}

	var ref struct {
		Rule   string          `json:"rule"`
		RuleID json.RawMessage `json:"rule_id"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}

	*it = ExpressionItem{Rule: ref.Rule, RuleID: rawToString(ref.RuleID)}
	return nil
}

// MarshalJSON encodes an expression item back into its wire form.
func (it *ExpressionItem) MarshalJSON() ([]byte, error) {
	switch {
	case it.Expr != nil:
		return json.Marshal(it.Expr)
	case it.RuleID != "":
		return json.Marshal(map[string]string{"rule_id": it.RuleID})
	default:
		return json.Marshal(map[string]string{"rule": it.Rule})
	}
}

// UnmarshalYAML decodes an expression item from its wire form in policy
// bundle files.
func (it *ExpressionItem) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expression item must be a mapping (line %d)", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "op" {
			var expr Expression
			if err := node.Decode(&expr); err != nil {
				return err
			}
			*it = ExpressionItem{Expr: &expr}
			return nil
		}
	}

	var ref struct {
		Rule   string `yaml:"rule"`
		RuleID string `yaml:"rule_id"`
	}
	if err := node.Decode(&ref); err != nil {
		return err
	}

	*it = ExpressionItem{Rule: ref.Rule, RuleID: ref.RuleID}
	return nil
}

// rawToString accepts rule ids given as either JSON strings or integers.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return fmt.Sprintf("%d", n)
	}
	return string(raw)
}
