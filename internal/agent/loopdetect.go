package agent

import (
	"encoding/json"
	"sort"
)

// signature computes toolId + canonical-JSON(args) (keys sorted), the
// repeated-call detection key from spec §4.4/GLOSSARY. Canonicalization
// only needs to be stable for map[string]any coming out of args.
func signature(toolID string, args map[string]any) string {
	canon, err := canonicalJSON(args)
	if err != nil {
		// args that can't serialize are treated as mutually distinct
		// rather than colliding into one bucket.
		return toolID + "|<unserializable>"
	}
	return toolID + "|" + canon
}

func canonicalJSON(v map[string]any) (string, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]keyValue, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, keyValue{Key: k, Value: v[k]})
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type keyValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// loopDetector counts every occurrence of a tool-call signature
// within a run (counts are never reset) and reports when the
// configured threshold is exceeded.
// Unlike the teacher's AI-judged halt decision, this is a deterministic
// count: the spec defines loop detection purely in terms of repeated
// signatures, with no model in the loop.
type loopDetector struct {
	counts    map[string]int
	threshold int
}

func newLoopDetector(threshold int) *loopDetector {
	return &loopDetector{counts: make(map[string]int), threshold: threshold}
}

// Record increments the signature's counter and reports whether it
// now exceeds the threshold.
func (d *loopDetector) Record(sig string) (exceeded bool) {
	d.counts[sig]++
	return d.counts[sig] > d.threshold
}
