package workflow

import (
	"encoding/json"
	"fmt"
	"os"
)

// template load errors
var (
	ErrTemplateNotFound = fmt.Errorf("workflow template not found")
	ErrTemplateInvalid  = fmt.Errorf("workflow template is invalid")
)

// Node is a single workflow graph node. Inputs hold literal values or
// cross-node references of the form [nodeID, outputSlot].
type Node struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
}

// Graph is a declarative workflow graph keyed by node id.
type Graph map[string]Node

// Roles maps a well-known role name to a node id, so patching can skip the
// structural heuristics. Known roles: positive_prompt, negative_prompt,
// model, sampler, latent_size, image_input, final_output.
type Roles map[string]string

// Template is an immutable loaded workflow definition. Callers must go
// through Instantiate to get a patchable copy.
type Template struct {
	graph Graph
	roles Roles
}

// metaKey is a non-node sidecar entry templates may carry to declare
// explicit node-role bindings. It is stripped before submission.
const metaKey = "_meta"

type templateMeta struct {
	Roles Roles `json:"roles"`
}

// Load reads a workflow template from disk. A missing file yields
// ErrTemplateNotFound and a file that does not parse into the node-mapping
// shape yields ErrTemplateInvalid; callers degrade to DefaultTemplate on
// either.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateNotFound, path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateInvalid, path, err)
	}

	graph := make(Graph, len(raw))
	roles := Roles{}

	for id, msg := range raw {
		if id == metaKey {
			var meta templateMeta
			if err := json.Unmarshal(msg, &meta); err == nil && meta.Roles != nil {
				roles = meta.Roles
			}
			continue
		}
		var node Node
		if err := json.Unmarshal(msg, &node); err != nil {
			return nil, fmt.Errorf("%w: node %s: %v", ErrTemplateInvalid, id, err)
		}
		if node.ClassType == "" || node.Inputs == nil {
			return nil, fmt.Errorf("%w: node %s is missing class_type or inputs", ErrTemplateInvalid, id)
		}
		graph[id] = node
	}

	if len(graph) == 0 {
		return nil, fmt.Errorf("%w: %s contains no nodes", ErrTemplateInvalid, path)
	}

	return &Template{graph: graph, roles: roles}, nil
}

// Roles returns the template's declared node-role bindings.
func (t *Template) Roles() Roles {
	out := make(Roles, len(t.roles))
	for k, v := range t.roles {
		out[k] = v
	}
	return out
}

// Instantiate returns a deep copy of the template graph. The shared template
// is never handed out directly; patched copies must not leak mutations back.
func (t *Template) Instantiate() Graph {
	return t.graph.Clone()
}

// Clone deep-copies a graph via a JSON round trip. Node inputs are free-form
// nested JSON values, so this is the one copy that is guaranteed complete.
func (g Graph) Clone() Graph {
	data, err := json.Marshal(g)
	if err != nil {
		// a Graph came from JSON in the first place; re-marshaling cannot fail
		panic(fmt.Sprintf("workflow: clone marshal: %v", err))
	}
	var out Graph
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("workflow: clone unmarshal: %v", err))
	}
	return out
}

// DefaultTemplate returns the built-in minimal text-to-image pipeline used
// when a configured template cannot be loaded. Seven nodes: checkpoint,
// two text encodes, empty latent, sampler, VAE decode, save.
func DefaultTemplate() *Template {
	graph := Graph{
		"1": {
			ClassType: "CheckpointLoaderSimple",
			Inputs: map[string]interface{}{
				"ckpt_name": "sd_xl_base_1.0.safetensors",
			},
		},
		"2": {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]interface{}{
				"text": "a photograph",
				"clip": []interface{}{"1", float64(1)},
			},
		},
		"3": {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]interface{}{
				"text": "blurry, low quality",
				"clip": []interface{}{"1", float64(1)},
			},
		},
		"4": {
			ClassType: "EmptyLatentImage",
			Inputs: map[string]interface{}{
				"width":      float64(512),
				"height":     float64(512),
				"batch_size": float64(1),
			},
		},
		"5": {
			ClassType: "KSampler",
			Inputs: map[string]interface{}{
				"seed":         float64(0),
				"steps":        float64(20),
				"cfg":          float64(8),
				"sampler_name": "euler",
				"scheduler":    "normal",
				"denoise":      float64(1),
				"model":        []interface{}{"1", float64(0)},
				"positive":     []interface{}{"2", float64(0)},
				"negative":     []interface{}{"3", float64(0)},
				"latent_image": []interface{}{"4", float64(0)},
			},
		},
		"6": {
			ClassType: "VAEDecode",
			Inputs: map[string]interface{}{
				"samples": []interface{}{"5", float64(0)},
				"vae":     []interface{}{"1", float64(2)},
			},
		},
		"7": {
			ClassType: "SaveImage",
			Inputs: map[string]interface{}{
				"filename_prefix": "imageforge",
				"images":          []interface{}{"6", float64(0)},
			},
		},
	}
	roles := Roles{
		"positive_prompt": "2",
		"negative_prompt": "3",
		"model":           "1",
		"sampler":         "5",
		"latent_size":     "4",
		"final_output":    "7",
	}
	return &Template{graph: graph, roles: roles}
}

// LoadOrDefault loads a template, degrading to the built-in default on any
// load failure. The degraded path is intentional best-effort service.
func LoadOrDefault(path string) *Template {
	tmpl, err := Load(path)
	if err != nil {
		return DefaultTemplate()
	}
	return tmpl
}
