package workflow

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
)

// PatchSpec names the fields a patch may rewrite. Nil pointers leave the
// corresponding node untouched.
type PatchSpec struct {
	PositivePrompt *string
	NegativePrompt *string
	ModelName      *string
	Width          *int
	Height         *int
	Steps          *int
	CFG            *float64
	InputImage     *string // remote filename from a prior upload
}

// load/input node classes that never hold the final result
var inputClassTypes = map[string]bool{
	"LoadImage":        true,
	"LoadImageMask":    true,
	"VAELoader":        true,
	"CLIPLoader":       true,
	"ControlNetLoader": true,
}

// Patch rewrites graph fields in place on a copy of g and returns it. The
// original graph is never mutated. Node lookup prefers the explicit role
// bindings; when a role is absent it falls back to structural predicates.
// A predicate that matches nothing silently skips that field: patching is
// best-effort, not validated binding.
func Patch(g Graph, roles Roles, spec PatchSpec) Graph {
	out := g.Clone()

	// the negative node must be patched after the positive one: both
	// predicates key off the current negative text
	if spec.PositivePrompt != nil {
		if id := findNode(out, roles, "positive_prompt", positivePromptPredicate(out)); id != "" {
			out[id].Inputs["text"] = *spec.PositivePrompt
		}
	}
	if spec.NegativePrompt != nil {
		if id := findNode(out, roles, "negative_prompt", negativePromptPredicate(out)); id != "" {
			out[id].Inputs["text"] = *spec.NegativePrompt
		}
	}
	if spec.ModelName != nil {
		if id := findNode(out, roles, "model", byClass("CheckpointLoaderSimple")); id != "" {
			out[id].Inputs["ckpt_name"] = *spec.ModelName
		}
	}
	if id := findNode(out, roles, "sampler", byClass("KSampler")); id != "" {
		if spec.Steps != nil {
			out[id].Inputs["steps"] = float64(*spec.Steps)
		}
		if spec.CFG != nil {
			out[id].Inputs["cfg"] = *spec.CFG
		}
		// the seed is always re-randomized so identical requests cannot
		// collide on cached remote results
		out[id].Inputs["seed"] = float64(randomSeed())
	}
	if spec.Width != nil || spec.Height != nil {
		if id := findNode(out, roles, "latent_size", byClass("EmptyLatentImage")); id != "" {
			if spec.Width != nil {
				out[id].Inputs["width"] = float64(*spec.Width)
			}
			if spec.Height != nil {
				out[id].Inputs["height"] = float64(*spec.Height)
			}
		}
	}
	if spec.InputImage != nil {
		if id := findNode(out, roles, "image_input", byClass("LoadImage")); id != "" {
			out[id].Inputs["image"] = *spec.InputImage
		}
	}

	return out
}

// findNode resolves a node id by role binding first, heuristic second.
// Heuristic ties break on the smallest node id so the result is stable.
func findNode(g Graph, roles Roles, role string, pred func(id string, n Node) bool) string {
	if id, ok := roles[role]; ok {
		if _, exists := g[id]; exists {
			return id
		}
	}
	best := ""
	for id, node := range g {
		if !pred(id, node) {
			continue
		}
		if best == "" || id < best {
			best = id
		}
	}
	return best
}

func byClass(classType string) func(string, Node) bool {
	return func(_ string, n Node) bool {
		return n.ClassType == classType
	}
}

// positivePromptPredicate matches the CLIPTextEncode node whose current text
// differs from the graph's negative prompt text. With two encode nodes this
// picks the positive one without any explicit binding.
func positivePromptPredicate(g Graph) func(string, Node) bool {
	negative, known := currentNegativeText(g)
	return func(_ string, n Node) bool {
		if n.ClassType != "CLIPTextEncode" {
			return false
		}
		if !known {
			return false
		}
		text, _ := n.Inputs["text"].(string)
		return text != negative
	}
}

func negativePromptPredicate(g Graph) func(string, Node) bool {
	negative, known := currentNegativeText(g)
	return func(_ string, n Node) bool {
		if n.ClassType != "CLIPTextEncode" {
			return false
		}
		if !known {
			return false
		}
		text, _ := n.Inputs["text"].(string)
		return text == negative
	}
}

// currentNegativeText resolves the text the graph's negative encode node
// currently holds: legacy convention is a quality-suppression string
// mentioning one of the known markers. When no node matches, both prompt
// predicates match nothing and those fields are skipped, which is the
// intended best-effort behavior.
func currentNegativeText(g Graph) (string, bool) {
	for _, n := range g {
		if n.ClassType != "CLIPTextEncode" {
			continue
		}
		text, _ := n.Inputs["text"].(string)
		if containsNegativeMarker(text) {
			return text, true
		}
	}
	return "", false
}

var negativeMarkers = []string{"blurry", "low quality", "lowres", "worst quality", "bad anatomy", "watermark"}

func containsNegativeMarker(text string) bool {
	for _, marker := range negativeMarkers {
		if strings.Contains(strings.ToLower(text), marker) {
			return true
		}
	}
	return false
}

// IsInputClass reports whether a node class only loads inputs and therefore
// can never hold the run's final result.
func IsInputClass(classType string) bool {
	return inputClassTypes[classType]
}

// randomSeed draws a fresh non-negative sampler seed from crypto/rand.
func randomSeed() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return binary.BigEndian.Uint32(buf[:]) >> 1
}
