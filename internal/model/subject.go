package model

// Subject kinds.
const (
	SubjectQuestion = "question"
	SubjectGroup    = "group"
	SubjectUmbrella = "umbrella"
)

// UmbrellaSubjectID is the subject whose single job returns results for
// every group at once.
const UmbrellaSubjectID = "class_analysis"

// rateCeiling is the largest raw value still read as a 0-1 rate.
const rateCeiling = 1.05

// ScoreRow is one normalized observation of a subject within a group.
type ScoreRow struct {
	SubjectID string  `json:"subject_id"`
	GroupName string  `json:"group_name"`
	ClassID   string  `json:"class_id,omitempty"`
	ScoreRate float64 `json:"score_rate"`
	FullScore float64 `json:"full_score"`
	// Percent records that the source cell carried a % sign.
	Percent bool `json:"percent,omitempty"`
}

// AbsoluteScore converts the row's raw value into points.
func (r ScoreRow) AbsoluteScore() float64 {
	return ScoreToAbsolute(r.ScoreRate, r.Percent, r.FullScore)
}

// Rate returns the absolute score as a fraction of the full score.
func (r ScoreRow) Rate() float64 {
	if r.FullScore <= 0 {
		return 0
	}
	return r.AbsoluteScore() / r.FullScore
}

// ScoreToAbsolute applies the unit disambiguation rule. The branch order is
// significant: a value that fits several branches takes the first one.
func ScoreToAbsolute(v float64, percent bool, fullScore float64) float64 {
	switch {
	case percent:
		return (v / 100) * fullScore
	case v <= rateCeiling:
		return v * fullScore
	case v <= fullScore:
		return v
	default:
		return (v / 100) * fullScore
	}
}

// Subject is the unit of analysis: a question, a group, or the umbrella
// subject covering several groups.
type Subject struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Ordinal   int            `json:"ordinal"`
	Label     string         `json:"label,omitempty"`
	GroupName string         `json:"group_name,omitempty"`
	Groups    []string       `json:"groups,omitempty"`
	FullScore float64        `json:"full_score,omitempty"`
	Content   map[string]any `json:"content,omitempty"`
	// PriorAnalysis is either a map keyed by model label or a single value
	// shared by every model.
	PriorAnalysis any `json:"prior_analysis,omitempty"`
}

// IsUmbrellaSubject reports whether a subject of the given kind and ID
// expands into per-group results. Subjects, tasks and payloads all use it.
func IsUmbrellaSubject(kind, id string) bool {
	return kind == SubjectUmbrella || id == UmbrellaSubjectID
}

// IsUmbrella reports whether the subject expands into per-group results.
func (s Subject) IsUmbrella() bool {
	return IsUmbrellaSubject(s.Kind, s.ID)
}

// ModelConfig describes one LLM backend configuration.
type ModelConfig struct {
	ID          int     `json:"id" yaml:"id"`
	Label       string  `json:"label" yaml:"label"`
	Provider    string  `json:"provider" yaml:"provider"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ModelName   string  `json:"model_name" yaml:"model_name"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// Metadata holds the user-correctable tags attached to an analysis request.
type Metadata struct {
	Topic      string `json:"topic,omitempty"`
	Ability    string `json:"ability,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// Merge returns m with empty fields filled from fallback.
func (m Metadata) Merge(fallback Metadata) Metadata {
	if m.Topic == "" {
		m.Topic = fallback.Topic
	}
	if m.Ability == "" {
		m.Ability = fallback.Ability
	}
	if m.Difficulty == "" {
		m.Difficulty = fallback.Difficulty
	}
	return m
}

// Override is a user correction keyed by subject and model label.
type Override struct {
	Mode       Mode     `json:"mode"`
	SubjectID  string   `json:"subject_id"`
	ModelLabel string   `json:"model_label"`
	Metadata   Metadata `json:"metadata"`
}
