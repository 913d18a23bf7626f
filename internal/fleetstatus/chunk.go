package fleetstatus

import "encoding/json"

// defaultMaxPayloadBytes is spec.md §4.6's chunking bound.
const defaultMaxPayloadBytes = 128 * 1024

// chunkPayload splits base into one or more wire payloads bounded by
// maxBytes. fullReport marks base.ComponentDetails as the complete
// known component set (THING_GROUP_DEPLOYMENT, LOCAL_DEPLOYMENT,
// RECONNECT, CADENCE);
// when false (BROKEN_COMPONENT), the report is inherently partial and
// never chunked further.
func chunkPayload(base Payload, fullReport bool, maxBytes int) []Payload {
	if maxBytes <= 0 {
		maxBytes = defaultMaxPayloadBytes
	}
	if !fullReport {
		base.MessageType = MessagePartial
		return []Payload{base}
	}

	base.MessageType = MessageComplete
	if raw, err := json.Marshal(base); err == nil && len(raw) <= maxBytes {
		return []Payload{base}
	}

	groups := splitComponents(base.ComponentDetails, base, maxBytes)
	out := make([]Payload, len(groups))
	for i, g := range groups {
		c := base
		c.MessageType = MessagePartial
		c.ComponentDetails = g
		ci := ChunkInfo{ChunkID: i + 1, TotalChunks: len(groups)}
		c.ChunkInfo = &ci
		out[i] = c
	}
	return out
}

// splitComponents greedily packs details into chunks that marshal under
// maxBytes against template's fixed fields, always advancing by at
// least one component per chunk even if a single component alone would
// exceed maxBytes.
func splitComponents(details []ComponentDetail, template Payload, maxBytes int) [][]ComponentDetail {
	if len(details) == 0 {
		return [][]ComponentDetail{nil}
	}

	var groups [][]ComponentDetail
	var current []ComponentDetail
	for _, d := range details {
		candidate := append(append([]ComponentDetail{}, current...), d)
		if len(current) > 0 && !fitsWithChunkInfo(template, candidate, maxBytes) {
			groups = append(groups, current)
			current = []ComponentDetail{d}
			continue
		}
		current = candidate
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func fitsWithChunkInfo(template Payload, details []ComponentDetail, maxBytes int) bool {
	probe := template
	probe.MessageType = MessagePartial
	probe.ComponentDetails = details
	ci := ChunkInfo{ChunkID: 1, TotalChunks: 1}
	probe.ChunkInfo = &ci
	raw, err := json.Marshal(probe)
	return err == nil && len(raw) <= maxBytes
}
