package segment

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestPredicateMatch(t *testing.T) {
	c := &Candidate{
		LeadID:       "l1",
		CompanyID:    "acme",
		PipelineID:   "p1",
		StageID:      "qualified",
		Source:       "Google Ads",
		TagIDs:       []string{"vip", "q3"},
		Score:        42,
		CreatedAt:    time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		UTM:          map[string]string{"campaign": "spring"},
		CustomFields: map[string]string{"industry": "Fintech", "empty": ""},
		Sequences:    map[string]string{"seq-active": EnrollmentPaused, "seq-done": EnrollmentCompleted},
		Engagement: map[string]EngagementHistory{
			"c-opened": {Opened: true},
			"c-clicked": {Opened: true, Clicked: true},
			"c-ignored": {},
		},
	}

	tests := []struct {
		name string
		p    Predicate
		want bool
	}{
		{"pipeline any stage", PipelineStage{PipelineID: "p1"}, true},
		{"pipeline matching stage", PipelineStage{PipelineID: "p1", StageIDs: []string{"won", "qualified"}}, true},
		{"pipeline other stage", PipelineStage{PipelineID: "p1", StageIDs: []string{"won"}}, false},
		{"other pipeline", PipelineStage{PipelineID: "p2"}, false},
		{"tags any", HasTags{TagIDs: []string{"x", "vip"}}, true},
		{"tags all missing one", HasTags{TagIDs: []string{"vip", "x"}, Mode: TagsAll}, false},
		{"tags all", HasTags{TagIDs: []string{"vip", "q3"}, Mode: TagsAll}, true},
		{"source substring case-insensitive", SourceMatch{Text: "google"}, true},
		{"source miss", SourceMatch{Text: "bing"}, false},
		{"organization", Organization{OrganizationIDs: []string{"acme"}}, true},
		{"score in range", ScoreRange{Min: ptr(40.0), Max: ptr(42.0)}, true},
		{"score below min", ScoreRange{Min: ptr(43.0)}, false},
		{"created in range", CreatedBetween{From: ptr(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))}, true},
		{"created after to", CreatedBetween{To: ptr(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))}, false},
		{"utm equal", UTMEquals{Field: "campaign", Value: "spring"}, true},
		{"utm absent", UTMEquals{Field: "source", Value: "spring"}, false},
		{"custom eq", CustomField{Key: "industry", Op: OpEquals, Value: "Fintech"}, true},
		{"custom eq is case-sensitive", CustomField{Key: "industry", Op: OpEquals, Value: "fintech"}, false},
		{"custom contains", CustomField{Key: "industry", Op: OpContains, Value: "tech"}, true},
		{"custom exists", CustomField{Key: "industry", Op: OpExists}, true},
		{"custom exists empty", CustomField{Key: "empty", Op: OpExists}, false},
		{"sequence enrolled includes paused", SequenceState{SequenceID: "seq-active", State: SequenceEnrolled}, true},
		{"sequence completed", SequenceState{SequenceID: "seq-done", State: SequenceCompleted}, true},
		{"sequence completed is not enrolled", SequenceState{SequenceID: "seq-done", State: SequenceNotEnrolled}, true},
		{"sequence never seen", SequenceState{SequenceID: "seq-x", State: SequenceNotEnrolled}, true},
		{"engagement opened", CampaignEngagement{CampaignID: "c-opened", State: EngagedOpened}, true},
		{"engagement clicked", CampaignEngagement{CampaignID: "c-opened", State: EngagedClicked}, false},
		{"engagement never opened", CampaignEngagement{CampaignID: "c-ignored", State: EngagedNeverOpened}, true},
		{"engagement requires a prior send", CampaignEngagement{CampaignID: "c-unknown", State: EngagedNeverOpened}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.p.Validate())
			assert.Equal(t, tt.want, tt.p.Match(c))
		})
	}
}

func TestFilterJSONTaggedUnion(t *testing.T) {
	raw := `{
		"predicates": [
			{"type": "tags", "tag_ids": ["vip"], "mode": "all"},
			{"type": "score_range", "min": 10},
			{"type": "campaign_engagement", "campaign_id": "c1", "state": "never_opened"}
		],
		"exclude_bounced": true
	}`

	var f Filter
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	require.Len(t, f.Predicates, 3)
	assert.Equal(t, HasTags{TagIDs: []string{"vip"}, Mode: TagsAll}, f.Predicates[0])
	assert.Equal(t, 10.0, *f.Predicates[1].(ScoreRange).Min)
	assert.True(t, f.ExcludeBounced)

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"type":"campaign_engagement"`)

	var again Filter
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, f, again)
}

func TestFilterJSONRejectsUnknownType(t *testing.T) {
	var f Filter
	err := json.Unmarshal([]byte(`{"predicates":[{"type":"lead_color","value":"red"}]}`), &f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lead_color")

	err = json.Unmarshal([]byte(`{"predicates":[{"tag_ids":["x"]}]}`), &f)
	assert.Error(t, err)
}

func TestFilterValidate(t *testing.T) {
	bad := []Predicate{
		ScoreRange{Min: ptr(5.0), Max: ptr(1.0)},
		CustomField{Key: "k", Op: "regex"},
		SequenceState{SequenceID: "s", State: "maybe"},
		UTMEquals{Field: "referrer"},
		HasTags{TagIDs: []string{"a"}, Mode: "some"},
	}
	for _, p := range bad {
		assert.Error(t, Filter{Predicates: []Predicate{p}}.Validate(), p.Type())
	}
}
