package resolve

import (
	"fmt"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/normalize"
)

// Target selects what each dispatched subject represents.
type Target string

// Resolution targets.
const (
	TargetQuestions Target = "questions"
	TargetGroups    Target = "groups"
	TargetUmbrella  Target = "umbrella"
)

// ParseTarget converts s into a Target, defaulting to TargetQuestions.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case "":
		return TargetQuestions, nil
	case TargetQuestions, TargetGroups, TargetUmbrella:
		return Target(s), nil
	default:
		return "", fmt.Errorf("unknown target %q", s)
	}
}

// Options controls subject resolution.
type Options struct {
	Target Target
	// GroupByClass groups student-mode rows by class instead of by student.
	GroupByClass bool
}

// questionStat is the per-question entry embedded in group content.
type questionStat struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	FullScore float64 `json:"full_score"`
	Rate      float64 `json:"rate"`
	Score     float64 `json:"score"`
}

// Resolve builds the ordered subject list for tbl.
func Resolve(tbl *normalize.Table, opts Options) ([]model.Subject, error) {
	if tbl == nil || len(tbl.Questions) == 0 {
		return nil, fmt.Errorf("resolve: table has no questions")
	}

	groups, rows := groupRows(tbl, opts)
	ordered := SortGroups(Dedup(groups))

	switch opts.Target {
	case "", TargetQuestions:
		return questionSubjects(tbl, ordered, rows), nil
	case TargetGroups:
		return groupSubjects(tbl, ordered, rows), nil
	case TargetUmbrella:
		return []model.Subject{umbrellaSubject(tbl, ordered, rows)}, nil
	default:
		return nil, fmt.Errorf("resolve: unknown target %q", opts.Target)
	}
}

// groupRows returns the group names in table order and the rows of each,
// regrouped by class when requested.
func groupRows(tbl *normalize.Table, opts Options) ([]string, map[string][]model.ScoreRow) {
	rows := make(map[string][]model.ScoreRow)
	var groups []string
	for _, r := range tbl.Rows {
		g := r.GroupName
		if opts.GroupByClass && tbl.Mode == model.ModeStudent {
			g = r.ClassID
			if g == "" {
				continue
			}
		}
		if _, ok := rows[g]; !ok {
			groups = append(groups, g)
		}
		rows[g] = append(rows[g], r)
	}
	return groups, rows
}

// stats averages the rows of one group per question, in question order.
func stats(tbl *normalize.Table, rows []model.ScoreRow) []questionStat {
	type acc struct {
		score float64
		n     int
	}
	sums := make(map[string]*acc)
	for _, r := range rows {
		a, ok := sums[r.SubjectID]
		if !ok {
			a = &acc{}
			sums[r.SubjectID] = a
		}
		a.score += r.AbsoluteScore()
		a.n++
	}

	var out []questionStat
	for _, q := range tbl.Questions {
		a, ok := sums[q.ID]
		if !ok {
			continue
		}
		full := tbl.FullScores[q.ID]
		if full <= 0 {
			full = normalize.DefaultFullScore
		}
		mean := a.score / float64(a.n)
		out = append(out, questionStat{
			ID:        q.ID,
			Label:     q.Label,
			FullScore: full,
			Score:     mean,
			Rate:      mean / full,
		})
	}
	return out
}

func questionSubjects(tbl *normalize.Table, ordered []string, rows map[string][]model.ScoreRow) []model.Subject {
	out := make([]model.Subject, 0, len(tbl.Questions))
	for _, q := range tbl.Questions {
		s := q
		content := make(map[string]any, len(q.Content)+2)
		for k, v := range q.Content {
			content[k] = v
		}
		rates := make(map[string]float64)
		for _, g := range ordered {
			for _, st := range stats(tbl, rows[g]) {
				if st.ID == q.ID {
					rates[g] = st.Rate
				}
			}
		}
		content["group_rates"] = rates
		content["group_order"] = ordered
		content["full_score"] = tbl.FullScores[q.ID]
		s.Content = content
		out = append(out, s)
	}
	return out
}

func groupSubjects(tbl *normalize.Table, ordered []string, rows map[string][]model.ScoreRow) []model.Subject {
	out := make([]model.Subject, 0, len(ordered))
	for i, g := range ordered {
		out = append(out, model.Subject{
			ID:        g,
			Kind:      model.SubjectGroup,
			Ordinal:   i + 1,
			Label:     g,
			GroupName: g,
			Content: map[string]any{
				"group":     g,
				"aggregate": IsAggregate(g),
				"questions": stats(tbl, rows[g]),
			},
		})
	}
	return out
}

func umbrellaSubject(tbl *normalize.Table, ordered []string, rows map[string][]model.ScoreRow) model.Subject {
	perGroup := make(map[string][]questionStat, len(ordered))
	for _, g := range ordered {
		perGroup[g] = stats(tbl, rows[g])
	}
	return model.Subject{
		ID:      model.UmbrellaSubjectID,
		Kind:    model.SubjectUmbrella,
		Ordinal: 1,
		Label:   model.UmbrellaSubjectID,
		Groups:  ordered,
		Content: map[string]any{
			"group_order": ordered,
			"groups":      perGroup,
		},
	}
}
