package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/model"
)

// Options controls feature validation.
type Options struct {
	Generator PropertiesGenerator
	// Org is the active organization; features for any other org are rejected.
	Org string
}

// Feed is a fully validated batch. Fences are sorted by code with
// duplicate codes removed. Malformed counts rejected features and
// Tombstones counts legacy features flagged @deleted.
type Feed struct {
	UpdatedBefore *time.Time
	Fences        []model.Geofence
	Deleted       []string
	TotalFeatures int
	PageSize      int
	Malformed     int
	Tombstones    int
}

// Err returns a *WrongFencesError when features were rejected.
func (f *Feed) Err() error {
	if f.Malformed > 0 {
		return &WrongFencesError{Count: f.Malformed}
	}
	return nil
}

// Parse validates a feed document. Document level problems are returned as
// errors and nothing is produced; malformed features are counted in
// Feed.Malformed and skipped.
func Parse(data []byte, opts Options) (*Feed, error) {
	if opts.Org == "" {
		return nil, common.ErrMissingOrg
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidDocument
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc rawCollection
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if doc.Type == nil {
		return nil, ErrMissingType
	}
	if *doc.Type != TypeFeatureCollection {
		return nil, &WrongTypeError{Type: *doc.Type}
	}
	if len(doc.Errors) > 0 {
		messages := make([]string, len(doc.Errors))
		for i, raw := range doc.Errors {
			messages[i] = backendMessage(raw)
		}
		return nil, &BackendError{Messages: messages}
	}
	if doc.Properties == nil {
		return nil, ErrMissingProperties
	}
	if doc.Features == nil {
		return nil, ErrNoFeature
	}

	feed := &Feed{Deleted: dedupe(doc.Deleted)}
	if doc.Properties.TotalFeatures != nil {
		feed.TotalFeatures = *doc.Properties.TotalFeatures
	}
	if doc.Properties.PageSize != nil {
		feed.PageSize = *doc.Properties.PageSize
	}
	if doc.Properties.UpdatedBefore != nil {
		t, err := epochSeconds(*doc.Properties.UpdatedBefore)
		if err != nil {
			slog.Warn("Ignoring unreadable updatedBefore", "error", err)
		} else {
			feed.UpdatedBefore = &t
		}
	}

	seen := make(map[string]bool, len(*doc.Features))
	for i, raw := range *doc.Features {
		fence, tombstone, err := parseFeature(raw, opts)
		switch {
		case err != nil:
			slog.Error("Rejected feed feature", "index", i, "error", err)
			feed.Malformed++
		case tombstone:
			feed.Tombstones++
		case seen[fence.Code]:
			slog.Error("Rejected duplicate feed feature", "index", i, "code", fence.Code)
			feed.Malformed++
		default:
			seen[fence.Code] = true
			feed.Fences = append(feed.Fences, fence)
		}
	}

	sort.Slice(feed.Fences, func(i, j int) bool { return feed.Fences[i].Code < feed.Fences[j].Code })

	slog.Debug("Parsed feed",
		"features", len(*doc.Features),
		"valid", len(feed.Fences),
		"malformed", feed.Malformed,
		"tombstones", feed.Tombstones,
		"deleted", len(feed.Deleted),
		"total_features", feed.TotalFeatures)

	return feed, nil
}

// parseFeature validates one feature. tombstone is true for legacy
// @deleted features, which are skipped without counting as errors.
func parseFeature(raw json.RawMessage, opts Options) (fence model.Geofence, tombstone bool, err error) {
	var f rawFeature
	if err := json.Unmarshal(raw, &f); err != nil {
		return model.Geofence{}, false, fmt.Errorf("undecodable feature: %w", err)
	}

	if f.Properties == nil {
		return model.Geofence{}, false, fmt.Errorf("missing properties")
	}
	if deleted, ok := f.Properties[PropertyDeleted].(bool); ok && deleted {
		code, _ := f.Properties[PropertyCode].(string)
		slog.Info("Skipping deleted feed feature", "code", code)
		return model.Geofence{}, true, nil
	}

	if f.Type == nil {
		return model.Geofence{}, false, fmt.Errorf("missing type")
	}
	if *f.Type != TypeFeature {
		return model.Geofence{}, false, fmt.Errorf("wrong type %q", *f.Type)
	}
	if f.Geometry == nil {
		return model.Geofence{}, false, fmt.Errorf("missing geometry")
	}
	if f.Geometry.Type == nil {
		return model.Geofence{}, false, fmt.Errorf("missing geometry type")
	}
	if *f.Geometry.Type != GeometryPoint {
		return model.Geofence{}, false, fmt.Errorf("unsupported geometry %q", *f.Geometry.Type)
	}
	if len(f.Geometry.Coordinates) != 2 {
		return model.Geofence{}, false, fmt.Errorf("wrong number of coordinates: %d", len(f.Geometry.Coordinates))
	}

	center := model.Position{
		Latitude:  f.Geometry.Coordinates[1],
		Longitude: f.Geometry.Coordinates[0],
	}
	if !center.Valid() {
		return model.Geofence{}, false, fmt.Errorf("coordinates out of range: %v", f.Geometry.Coordinates)
	}

	props := defaultProperties(f.Properties)
	if opts.Generator != nil {
		props = opts.Generator(f.Properties)
	}
	if props.Code == "" {
		return model.Geofence{}, false, fmt.Errorf("missing geofence code")
	}
	if props.Radius <= 0 {
		return model.Geofence{}, false, fmt.Errorf("geofence %s: radius must be positive, got %d", props.Code, props.Radius)
	}

	org, ok := f.Properties[PropertyOrg].(string)
	if !ok {
		return model.Geofence{}, false, fmt.Errorf("geofence %s: missing org code", props.Code)
	}
	if org != opts.Org {
		return model.Geofence{}, false, fmt.Errorf("geofence %s: wrong org code %q, current org is %q", props.Code, org, opts.Org)
	}

	return model.Geofence{
		Code:      props.Code,
		Name:      props.Name,
		Latitude:  center.Latitude,
		Longitude: center.Longitude,
		Radius:    props.Radius,
		Local:     props.Local,
	}, false, nil
}

func defaultProperties(properties map[string]any) Properties {
	p := Properties{Name: DefaultName, Radius: DefaultRadius}
	if name, ok := properties[PropertyName].(string); ok {
		p.Name = name
	}
	if radius, ok := numberValue(properties[PropertyRadius]); ok {
		p.Radius = int(math.Round(radius))
	}
	if code, ok := properties[PropertyCode].(string); ok {
		p.Code = code
	}
	return p
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func dedupe(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
