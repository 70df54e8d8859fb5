package segment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Predicate is one conjunct of a segment filter. The set of implementations
// is closed: every predicate is declared in this file and decoded by
// decodePredicate.
type Predicate interface {
	// Type is the wire discriminator.
	Type() string
	// Match reports whether the candidate satisfies the predicate.
	Match(c *Candidate) bool
	// Validate checks operator input.
	Validate() error

	sealed()
}

// Wire discriminators.
const (
	TypePipelineStage      = "pipeline_stage"
	TypeTags               = "tags"
	TypeSource             = "source"
	TypeOrganization       = "organization"
	TypeScoreRange         = "score_range"
	TypeCreatedBetween     = "created_between"
	TypeUTM                = "utm"
	TypeCustomField        = "custom_field"
	TypeSequenceState      = "sequence_state"
	TypeCampaignEngagement = "campaign_engagement"
)

// PipelineStage matches leads in a pipeline, optionally restricted to stages.
type PipelineStage struct {
	PipelineID string   `json:"pipeline_id"`
	StageIDs   []string `json:"stage_ids,omitempty"`
}

func (PipelineStage) Type() string { return TypePipelineStage }
func (PipelineStage) sealed()      {}

func (p PipelineStage) Match(c *Candidate) bool {
	if c.PipelineID != p.PipelineID {
		return false
	}
	return len(p.StageIDs) == 0 || contains(p.StageIDs, c.StageID)
}

func (p PipelineStage) Validate() error {
	if p.PipelineID == "" {
		return fmt.Errorf("pipeline_stage: pipeline_id is required")
	}
	return nil
}

// Tag match modes.
const (
	TagsAny = "any"
	TagsAll = "all"
)

// HasTags matches leads carrying any (default) or all of the tags.
type HasTags struct {
	TagIDs []string `json:"tag_ids"`
	Mode   string   `json:"mode,omitempty"`
}

func (HasTags) Type() string { return TypeTags }
func (HasTags) sealed()      {}

func (p HasTags) Match(c *Candidate) bool {
	if p.Mode == TagsAll {
		for _, id := range p.TagIDs {
			if !contains(c.TagIDs, id) {
				return false
			}
		}
		return true
	}
	for _, id := range p.TagIDs {
		if contains(c.TagIDs, id) {
			return true
		}
	}
	return false
}

func (p HasTags) Validate() error {
	if len(p.TagIDs) == 0 {
		return fmt.Errorf("tags: tag_ids is required")
	}
	if p.Mode != "" && p.Mode != TagsAny && p.Mode != TagsAll {
		return fmt.Errorf("tags: unknown mode %q", p.Mode)
	}
	return nil
}

// SourceMatch is a case-insensitive substring match on the lead source.
type SourceMatch struct {
	Text string `json:"text"`
}

func (SourceMatch) Type() string { return TypeSource }
func (SourceMatch) sealed()      {}

func (p SourceMatch) Match(c *Candidate) bool {
	return strings.Contains(strings.ToLower(c.Source), strings.ToLower(p.Text))
}

func (p SourceMatch) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("source: text is required")
	}
	return nil
}

// Organization matches leads owned by one of the given companies.
type Organization struct {
	OrganizationIDs []string `json:"organization_ids"`
}

func (Organization) Type() string { return TypeOrganization }
func (Organization) sealed()      {}

func (p Organization) Match(c *Candidate) bool {
	return contains(p.OrganizationIDs, c.CompanyID)
}

func (p Organization) Validate() error {
	if len(p.OrganizationIDs) == 0 {
		return fmt.Errorf("organization: organization_ids is required")
	}
	return nil
}

// ScoreRange is an inclusive range; a nil bound is open.
type ScoreRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

func (ScoreRange) Type() string { return TypeScoreRange }
func (ScoreRange) sealed()      {}

func (p ScoreRange) Match(c *Candidate) bool {
	if p.Min != nil && c.Score < *p.Min {
		return false
	}
	if p.Max != nil && c.Score > *p.Max {
		return false
	}
	return true
}

func (p ScoreRange) Validate() error {
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		return fmt.Errorf("score_range: min %v is greater than max %v", *p.Min, *p.Max)
	}
	return nil
}

// CreatedBetween is an inclusive creation-date range; a nil bound is open.
type CreatedBetween struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

func (CreatedBetween) Type() string { return TypeCreatedBetween }
func (CreatedBetween) sealed()      {}

func (p CreatedBetween) Match(c *Candidate) bool {
	if p.From != nil && c.CreatedAt.Before(*p.From) {
		return false
	}
	if p.To != nil && c.CreatedAt.After(*p.To) {
		return false
	}
	return true
}

func (p CreatedBetween) Validate() error {
	if p.From != nil && p.To != nil && p.From.After(*p.To) {
		return fmt.Errorf("created_between: from is after to")
	}
	return nil
}

// UTMEquals compares one UTM field exactly.
type UTMEquals struct {
	Field string `json:"field"` // source, medium, campaign, term, content
	Value string `json:"value"`
}

func (UTMEquals) Type() string { return TypeUTM }
func (UTMEquals) sealed()      {}

func (p UTMEquals) Match(c *Candidate) bool {
	v, ok := c.UTM[p.Field]
	return ok && v == p.Value
}

func (p UTMEquals) Validate() error {
	switch p.Field {
	case "source", "medium", "campaign", "term", "content":
		return nil
	}
	return fmt.Errorf("utm: unknown field %q", p.Field)
}

// Custom field operators.
const (
	OpEquals   = "eq"
	OpContains = "contains"
	OpExists   = "exists"
)

// CustomField checks an arbitrary custom field.
type CustomField struct {
	Key   string `json:"key"`
	Op    string `json:"op"`
	Value string `json:"value,omitempty"`
}

func (CustomField) Type() string { return TypeCustomField }
func (CustomField) sealed()      {}

func (p CustomField) Match(c *Candidate) bool {
	v, ok := c.CustomFields[p.Key]
	switch p.Op {
	case OpExists:
		return ok && v != ""
	case OpContains:
		return ok && strings.Contains(strings.ToLower(v), strings.ToLower(p.Value))
	default:
		return ok && v == p.Value
	}
}

func (p CustomField) Validate() error {
	if p.Key == "" {
		return fmt.Errorf("custom_field: key is required")
	}
	switch p.Op {
	case OpEquals, OpContains, OpExists:
		return nil
	}
	return fmt.Errorf("custom_field: unknown op %q", p.Op)
}

// Sequence enrollment states.
const (
	SequenceEnrolled    = "enrolled"
	SequenceNotEnrolled = "not_enrolled"
	SequenceCompleted   = "completed"
)

// SequenceState matches on enrollment in a follow-up sequence.
type SequenceState struct {
	SequenceID string `json:"sequence_id"`
	State      string `json:"state"`
}

func (SequenceState) Type() string { return TypeSequenceState }
func (SequenceState) sealed()      {}

func (p SequenceState) Match(c *Candidate) bool {
	status := c.Sequences[p.SequenceID]
	switch p.State {
	case SequenceEnrolled:
		return status == EnrollmentActive || status == EnrollmentPaused
	case SequenceCompleted:
		return status == EnrollmentCompleted
	default:
		return status != EnrollmentActive && status != EnrollmentPaused
	}
}

func (p SequenceState) Validate() error {
	if p.SequenceID == "" {
		return fmt.Errorf("sequence_state: sequence_id is required")
	}
	switch p.State {
	case SequenceEnrolled, SequenceNotEnrolled, SequenceCompleted:
		return nil
	}
	return fmt.Errorf("sequence_state: unknown state %q", p.State)
}

// Prior campaign engagement states.
const (
	EngagedOpened      = "opened"
	EngagedClicked     = "clicked"
	EngagedNeverOpened = "never_opened"
)

// CampaignEngagement requires a historical send from the named campaign
// that satisfies the state.
type CampaignEngagement struct {
	CampaignID string `json:"campaign_id"`
	State      string `json:"state"`
}

func (CampaignEngagement) Type() string { return TypeCampaignEngagement }
func (CampaignEngagement) sealed()      {}

func (p CampaignEngagement) Match(c *Candidate) bool {
	h, ok := c.Engagement[p.CampaignID]
	if !ok {
		return false
	}
	switch p.State {
	case EngagedOpened:
		return h.Opened
	case EngagedClicked:
		return h.Clicked
	default:
		return !h.Opened
	}
}

func (p CampaignEngagement) Validate() error {
	if p.CampaignID == "" {
		return fmt.Errorf("campaign_engagement: campaign_id is required")
	}
	switch p.State {
	case EngagedOpened, EngagedClicked, EngagedNeverOpened:
		return nil
	}
	return fmt.Errorf("campaign_engagement: unknown state %q", p.State)
}

// Filter is a conjunction of predicates plus the contact-level exclusions.
// Do-not-contact recipients are always excluded and cannot be opted back in.
type Filter struct {
	Predicates          []Predicate
	IncludeUnsubscribed bool
	ExcludeBounced      bool
}

// Validate checks every predicate.
func (f Filter) Validate() error {
	for i, p := range f.Predicates {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("predicate %d: %w", i, err)
		}
	}
	return nil
}

// Match applies every predicate to c.
func (f Filter) Match(c *Candidate) bool {
	for _, p := range f.Predicates {
		if !p.Match(c) {
			return false
		}
	}
	return true
}

type filterJSON struct {
	Predicates          []json.RawMessage `json:"predicates"`
	IncludeUnsubscribed bool              `json:"include_unsubscribed,omitempty"`
	ExcludeBounced      bool              `json:"exclude_bounced,omitempty"`
}

// MarshalJSON encodes each predicate as a tagged object {"type": ..., ...}.
func (f Filter) MarshalJSON() ([]byte, error) {
	out := filterJSON{
		Predicates:          make([]json.RawMessage, 0, len(f.Predicates)),
		IncludeUnsubscribed: f.IncludeUnsubscribed,
		ExcludeBounced:      f.ExcludeBounced,
	}
	for _, p := range f.Predicates {
		body, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		fields["type"], _ = json.Marshal(p.Type())
		tagged, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		out.Predicates = append(out.Predicates, tagged)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the tagged union. An unknown type is an error.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var in filterJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	f.IncludeUnsubscribed = in.IncludeUnsubscribed
	f.ExcludeBounced = in.ExcludeBounced
	f.Predicates = make([]Predicate, 0, len(in.Predicates))
	for i, raw := range in.Predicates {
		p, err := decodePredicate(raw)
		if err != nil {
			return fmt.Errorf("predicate %d: %w", i, err)
		}
		f.Predicates = append(f.Predicates, p)
	}
	return nil
}

func decodePredicate(raw json.RawMessage) (Predicate, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case TypePipelineStage:
		return decodeAs[PipelineStage](raw)
	case TypeTags:
		return decodeAs[HasTags](raw)
	case TypeSource:
		return decodeAs[SourceMatch](raw)
	case TypeOrganization:
		return decodeAs[Organization](raw)
	case TypeScoreRange:
		return decodeAs[ScoreRange](raw)
	case TypeCreatedBetween:
		return decodeAs[CreatedBetween](raw)
	case TypeUTM:
		return decodeAs[UTMEquals](raw)
	case TypeCustomField:
		return decodeAs[CustomField](raw)
	case TypeSequenceState:
		return decodeAs[SequenceState](raw)
	case TypeCampaignEngagement:
		return decodeAs[CampaignEngagement](raw)
	case "":
		return nil, fmt.Errorf("missing predicate type")
	default:
		return nil, fmt.Errorf("unknown predicate type %q", head.Type)
	}
}

func decodeAs[T Predicate](raw json.RawMessage) (Predicate, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
