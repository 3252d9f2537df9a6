package dispatch

import (
	"context"
	"maps"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/remote"
)

// Content keys read as inferred metadata.
const (
	keyTopic      = "topic"
	keyAbility    = "ability"
	keyDifficulty = "difficulty"
)

// OverrideSource returns user metadata corrections.
type OverrideSource interface {
	// LookupOverride returns the override for one (subject, model label)
	// pair. ok is false when none is stored.
	LookupOverride(ctx context.Context, mode model.Mode, subjectID, modelLabel string) (md model.Metadata, ok bool, err error)
}

// inferredMetadata reads metadata carried in the subject's own content.
func inferredMetadata(s model.Subject) model.Metadata {
	str := func(k string) string {
		v, _ := s.Content[k].(string)
		return v
	}
	return model.Metadata{
		Topic:      str(keyTopic),
		Ability:    str(keyAbility),
		Difficulty: str(keyDifficulty),
	}
}

// priorFor selects the prior analysis that applies to one model. A map is
// keyed by model label; any other value is shared by every model.
func priorFor(prior any, label string) any {
	if m, ok := prior.(map[string]any); ok {
		return m[label]
	}
	return prior
}

// buildPayload merges subject content, prior analysis and metadata for one
// task. Overrides win over inferred values; inferred values win over empty.
func (p *Planner) buildPayload(ctx context.Context, t model.Task, s model.Subject, mc model.ModelConfig) remote.Payload {
	content := make(map[string]any, len(s.Content))
	maps.Copy(content, s.Content)

	md := inferredMetadata(s)
	if p.overrides != nil {
		override, ok, err := p.overrides.LookupOverride(ctx, t.Mode, s.ID, mc.Label)
		switch {
		case err != nil:
			p.logger.Warn("lookup metadata override", "subject_id", s.ID, "model", mc.Label, "error", err)
		case ok:
			md = override.Merge(md)
		}
	}

	return remote.Payload{
		TaskID:        t.ID,
		BatchID:       t.BatchID,
		Mode:          t.Mode,
		SubjectID:     s.ID,
		SubjectKind:   s.Kind,
		Groups:        s.Groups,
		Model:         mc,
		Content:       content,
		PriorAnalysis: priorFor(s.PriorAnalysis, mc.Label),
		Metadata:      md,
	}
}
