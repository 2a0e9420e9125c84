// Package expression resolves {{$vars.name}} / {{$nodes.Label.output.field}}
// tokens against a run's node outputs and variables.
package expression

import (
	"encoding/json"
	"regexp"
	"strings"

	"novacore/internal/domain/mission"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// forbidden field names guard against prototype-pollution-style lookups
// when walking a dot-path through decoded JSON objects.
var forbidden = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// Resolver substitutes expression tokens against a fixed view of a run's
// node outputs and variables. Labels are the only addressing surface.
type Resolver struct {
	nodeOutputs map[string]mission.NodeOutput
	byLabel     map[string]string // label -> nodeID
	variables   map[string]string
}

// New builds a Resolver. byLabel maps node label to node id.
func New(nodeOutputs map[string]mission.NodeOutput, byLabel map[string]string, variables map[string]string) *Resolver {
	return &Resolver{nodeOutputs: nodeOutputs, byLabel: byLabel, variables: variables}
}

// Resolve replaces every {{...}} token in template with its resolved
// value. Tokens that don't resolve are left intact, verbatim.
func (r *Resolver) Resolve(template string) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		if len(m) != 2 {
			return tok
		}
		path := strings.TrimSpace(m[1])
		val, ok := r.resolvePath(path)
		if !ok {
			return tok
		}
		return val
	})
}

func (r *Resolver) resolvePath(path string) (string, bool) {
	switch {
	case strings.HasPrefix(path, "$vars."):
		name := strings.TrimPrefix(path, "$vars.")
		v := r.variables[name] // missing var resolves to empty string
		return v, true
	case strings.HasPrefix(path, "$nodes."):
		return r.resolveNodeRef(strings.TrimPrefix(path, "$nodes."))
	default:
		return "", false
	}
}

func (r *Resolver) resolveNodeRef(rest string) (string, bool) {
	parts := strings.Split(rest, ".")
	if len(parts) < 2 {
		return "", false
	}
	label := parts[0]
	section := parts[1]
	fields := parts[2:]

	nodeID, ok := r.byLabel[label]
	if !ok {
		return "", false
	}
	output, ok := r.nodeOutputs[nodeID]
	if !ok {
		return "", false
	}

	if section != "output" {
		return "", false
	}

	if len(fields) == 0 || fields[0] == "text" {
		return output.Text, true
	}

	if fields[0] == "data" {
		if len(fields) == 1 {
			if output.Data == nil {
				return output.Text, true
			}
			encoded, err := json.Marshal(output.Data)
			if err != nil {
				return "", false
			}
			return string(encoded), true
		}
		return walkDataPath(output.Data, fields[1:])
	}

	return walkDataPath(output.Data, fields)
}

// walkDataPath walks a dot-path through a decoded JSON object, rejecting
// any step whose property name is a prototype-pollution-style key.
func walkDataPath(data map[string]any, path []string) (string, bool) {
	var cur any = data
	for _, step := range path {
		if forbidden[step] {
			return "", false
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		next, ok := obj[step]
		if !ok {
			return "", false
		}
		cur = next
	}
	return stringifyLeaf(cur), true
}

func stringifyLeaf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
