package normalize

import (
	"encoding/json"

	"github.com/corvida/tunevault/internal/domain"
)

// statusExtractor attempts to pull a raw status string out of a decoded
// payload. Extractors are tried in order; the first non-empty result wins.
type statusExtractor func(payload map[string]any) (string, bool)

// statusExtractors is the documented fallback order for status extraction:
// a top-level "status" field first, then a nested "response.status".
var statusExtractors = []statusExtractor{
	func(p map[string]any) (string, bool) { return stringField(p, "status") },
	func(p map[string]any) (string, bool) {
		if resp, ok := mapField(p, "response"); ok {
			return stringField(resp, "status")
		}
		return "", false
	},
}

// trackListExtractor attempts to locate the per-track record list inside a
// decoded payload. The upstream API has shipped several envelope shapes
// over time; each known nesting gets one strategy.
type trackListExtractor func(payload map[string]any) ([]map[string]any, bool)

var trackListExtractors = []trackListExtractor{
	func(p map[string]any) ([]map[string]any, bool) {
		if resp, ok := mapField(p, "response"); ok {
			return trackList(resp, "sunoData")
		}
		return nil, false
	},
	func(p map[string]any) ([]map[string]any, bool) {
		if resp, ok := mapField(p, "response"); ok {
			return trackList(resp, "data")
		}
		return nil, false
	},
	func(p map[string]any) ([]map[string]any, bool) { return trackList(p, "sunoData") },
	func(p map[string]any) ([]map[string]any, bool) { return trackList(p, "data") },
}

// Normalize extracts the canonical status and the ordered asset list from
// an upstream payload of any of the known (or unknown) shapes. It never
// fails: malformed input degrades to StatusUnknown and an empty asset
// list so that a schema variation in one field cannot abort a poll cycle.
func Normalize(raw json.RawMessage) (domain.TaskStatus, []domain.Asset) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return domain.StatusUnknown, nil
	}

	status := domain.StatusUnknown
	for _, extract := range statusExtractors {
		if s, ok := extract(payload); ok {
			status = domain.ParseStatus(s)
			break
		}
	}

	var assets []domain.Asset
	for _, extract := range trackListExtractors {
		tracks, ok := extract(payload)
		if !ok {
			continue
		}
		for i, track := range tracks {
			assets = append(assets, trackAssets(track, i+1)...)
		}
		break
	}

	return status, assets
}

// trackAssets resolves the up-to-four downloadable URLs for one track,
// using the alternate field names the upstream has used for each kind.
func trackAssets(track map[string]any, ordinal int) []domain.Asset {
	title, _ := stringField(track, "title")

	candidates := []struct {
		kind   domain.AssetKind
		fields []string
	}{
		{domain.AssetAudio, []string{"audio_url", "stream_audio_url"}},
		{domain.AssetAudioSource, []string{"source_audio_url", "source_stream_audio_url"}},
		{domain.AssetCover, []string{"image_url", "image_large_url"}},
		{domain.AssetCoverSource, []string{"source_image_url"}},
	}

	var assets []domain.Asset
	for _, c := range candidates {
		for _, field := range c.fields {
			if url, ok := stringField(track, field); ok {
				assets = append(assets, domain.Asset{
					Kind:      c.kind,
					SourceURL: url,
					Ordinal:   ordinal,
					Title:     title,
				})
				break
			}
		}
	}
	return assets
}

// stringField returns the named field if it is a non-empty string.
func stringField(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// mapField returns the named field if it is a JSON object.
func mapField(m map[string]any, key string) (map[string]any, bool) {
	sub, ok := m[key].(map[string]any)
	return sub, ok
}

// trackList returns the named field if it is a list whose elements are all
// JSON objects. An empty list is structurally valid and wins the strategy
// order just like a populated one.
func trackList(m map[string]any, key string) ([]map[string]any, bool) {
	list, ok := m[key].([]any)
	if !ok {
		return nil, false
	}
	tracks := make([]map[string]any, 0, len(list))
	for _, item := range list {
		track, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		tracks = append(tracks, track)
	}
	return tracks, true
}
