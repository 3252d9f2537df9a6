package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/seantiz/examlens/internal/model"
)

var (
	// ErrEmptyTable is returned when the table has no columns or rows.
	ErrEmptyTable = errors.New("empty table")
	// ErrNoQuestionColumn is returned when a class table has neither a
	// wide nor a long layout.
	ErrNoQuestionColumn = errors.New("no question_id column")
	// ErrNoScoreColumns is returned when a student table has no question columns.
	ErrNoScoreColumns = errors.New("no score columns")
)

// fullScoreMarkers are student-identifier values that declare full scores.
var fullScoreMarkers = []string{"满分", "full score"}

// Record is one parsed row keyed by its original column header.
type Record map[string]string

// RawTable is an uploaded table as produced by the external parser.
// Columns preserves the left-to-right header order.
type RawTable struct {
	Columns []string `json:"columns"`
	Rows    []Record `json:"rows"`
}

// StudentRow identifies one student in a student-mode table.
type StudentRow struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name,omitempty"`
	ClassID   string `json:"class_id,omitempty"`
}

// Table is the canonical normalized form of an upload.
type Table struct {
	Mode       model.Mode         `json:"mode"`
	Questions  []model.Subject    `json:"questions"`
	Rows       []model.ScoreRow   `json:"rows"`
	Groups     []string           `json:"groups"`
	FullScores map[string]float64 `json:"full_scores"`
	Labels     map[string]string  `json:"labels"`
	Students   []StudentRow       `json:"students,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// RowsFor returns the rows of one subject in table order.
func (t *Table) RowsFor(subjectID string) []model.ScoreRow {
	var out []model.ScoreRow
	for _, r := range t.Rows {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	return out
}

// RowsInGroup returns the rows of one group in table order.
func (t *Table) RowsInGroup(group string) []model.ScoreRow {
	var out []model.ScoreRow
	for _, r := range t.Rows {
		if r.GroupName == group {
			out = append(out, r)
		}
	}
	return out
}

// Normalize converts raw into a Table for the given mode.
func Normalize(raw RawTable, mode model.Mode) (*Table, error) {
	if len(raw.Columns) == 0 || len(raw.Rows) == 0 {
		return nil, ErrEmptyTable
	}
	switch mode {
	case model.ModeClass:
		return normalizeClass(raw)
	case model.ModeStudent:
		return normalizeStudent(raw)
	default:
		return nil, fmt.Errorf("normalize: unknown mode %q", mode)
	}
}

// tableBuilder accumulates ordinals and groups in first-seen order.
type tableBuilder struct {
	t        *Table
	ordinals map[string]string // original label -> Qn
	groups   map[string]bool
}

func newBuilder(mode model.Mode) *tableBuilder {
	return &tableBuilder{
		t: &Table{
			Mode:       mode,
			FullScores: make(map[string]float64),
			Labels:     make(map[string]string),
		},
		ordinals: make(map[string]string),
		groups:   make(map[string]bool),
	}
}

// question returns the ordinal ID for label, assigning the next one on
// first sight.
func (b *tableBuilder) question(label string) (string, bool) {
	if id, ok := b.ordinals[label]; ok {
		return id, false
	}
	n := len(b.t.Questions) + 1
	id := fmt.Sprintf("Q%d", n)
	b.ordinals[label] = id
	b.t.Labels[id] = label
	b.t.Questions = append(b.t.Questions, model.Subject{
		ID:      id,
		Kind:    model.SubjectQuestion,
		Ordinal: n,
		Label:   label,
	})
	return id, true
}

func (b *tableBuilder) subject(id string) *model.Subject {
	for i := range b.t.Questions {
		if b.t.Questions[i].ID == id {
			return &b.t.Questions[i]
		}
	}
	return nil
}

func (b *tableBuilder) group(name string) {
	if !b.groups[name] {
		b.groups[name] = true
		b.t.Groups = append(b.t.Groups, name)
	}
}

func (b *tableBuilder) warnf(format string, args ...any) {
	b.t.Warnings = append(b.t.Warnings, fmt.Sprintf(format, args...))
}

func (b *tableBuilder) addRow(row model.ScoreRow) {
	b.group(row.GroupName)
	b.t.Rows = append(b.t.Rows, row)
}

func normalizeClass(raw RawTable) (*Table, error) {
	cm := classifyColumns(raw.Columns)
	if !cm.has(KeyQuestionID) {
		return nil, ErrNoQuestionColumn
	}

	b := newBuilder(model.ModeClass)
	matched := 0
	for i, r := range raw.Rows {
		label := cm.cell(r, KeyQuestionID)
		if label == "" {
			b.warnf("row %d: missing question_id", i+1)
			continue
		}

		id, first := b.question(label)
		fullScore := parseFullScore(cm.cell(r, KeyFullScore))
		if first {
			b.t.FullScores[id] = fullScore
			s := b.subject(id)
			s.FullScore = fullScore
			s.Content = questionContent(label, cm.cell(r, KeyMeta))
			s.PriorAnalysis = parseAnalysis(cm.cell(r, KeyAnalysis))
		} else {
			fullScore = b.t.FullScores[id]
		}

		if isLongRow(cm, r) {
			matched++
			v, percent, err := ParseScore(cm.cell(r, KeyScoreRate))
			if err != nil {
				b.warnf("row %d: %v", i+1, err)
				continue
			}
			b.addRow(model.ScoreRow{
				SubjectID: id,
				GroupName: cm.cell(r, KeyGroupName),
				ScoreRate: v,
				FullScore: fullScore,
				Percent:   percent,
			})
			continue
		}

		melted := false
		for _, col := range cm.data {
			cell := strings.TrimSpace(r[col])
			if cell == "" {
				continue
			}
			v, percent, err := ParseScore(cell)
			if err != nil {
				b.warnf("row %d column %q: %v", i+1, col, err)
				continue
			}
			melted = true
			b.addRow(model.ScoreRow{
				SubjectID: id,
				GroupName: groupName(col),
				ScoreRate: v,
				FullScore: fullScore,
				Percent:   percent,
			})
		}
		if melted {
			matched++
		}
	}

	if matched == 0 {
		return nil, fmt.Errorf("normalize class table: %w", ErrNoQuestionColumn)
	}
	return b.t, nil
}

// isLongRow reports whether r already carries group_name and score_rate.
func isLongRow(cm columnMap, r Record) bool {
	return cm.cell(r, KeyGroupName) != "" && cm.cell(r, KeyScoreRate) != ""
}

// groupName returns the group a wide column melts into. Auto-computed
// score-rate columns keep their canonical name so the resolver can
// recognize them as aggregates.
func groupName(col string) string {
	if canonicalKey(col) == KeyScoreRate {
		return KeyScoreRate
	}
	return strings.TrimSpace(col)
}

func questionContent(label, meta string) map[string]any {
	content := map[string]any{KeyQuestionID: label}
	if meta == "" {
		return content
	}
	var structured map[string]any
	if err := json.Unmarshal([]byte(meta), &structured); err == nil {
		for k, v := range structured {
			content[k] = v
		}
		return content
	}
	content["content"] = meta
	return content
}

// parseAnalysis decodes a prior-analysis cell. JSON objects are kept as
// maps keyed by model label; anything else is shared across models.
func parseAnalysis(cell string) any {
	if cell == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(cell), &v); err == nil {
		return v
	}
	return cell
}

func normalizeStudent(raw RawTable) (*Table, error) {
	cm := classifyColumns(raw.Columns)
	var questionCols []string
	for _, col := range cm.data {
		if canonicalKey(col) == KeyScoreRate {
			continue
		}
		questionCols = append(questionCols, col)
	}
	if len(questionCols) == 0 {
		return nil, ErrNoScoreColumns
	}

	b := newBuilder(model.ModeStudent)
	colIDs := make(map[string]string, len(questionCols))
	for _, col := range questionCols {
		id, _ := b.question(strings.TrimSpace(col))
		colIDs[col] = id
	}

	idCol := cm.byKey[KeyStudentID]
	if idCol == "" {
		idCol = raw.Columns[0]
	}

	// Full-score rows may appear anywhere; extract them before scoring.
	var students []int
	for i, r := range raw.Rows {
		if isFullScoreMarker(r[idCol]) {
			for _, col := range questionCols {
				v, _, err := ParseScore(r[col])
				if err != nil || v <= 0 {
					continue
				}
				b.t.FullScores[colIDs[col]] = v
			}
			continue
		}
		students = append(students, i)
	}
	for _, col := range questionCols {
		id := colIDs[col]
		if _, ok := b.t.FullScores[id]; !ok {
			b.t.FullScores[id] = DefaultFullScore
		}
		b.subject(id).FullScore = b.t.FullScores[id]
		b.subject(id).Content = map[string]any{"header": strings.TrimSpace(col)}
	}

	for _, i := range students {
		r := raw.Rows[i]
		sid := strings.TrimSpace(r[idCol])
		name := cm.cell(r, KeyName)
		if sid == "" {
			sid = name
		}
		if sid == "" {
			b.warnf("row %d: missing student identifier", i+1)
			continue
		}
		classID := cm.cell(r, KeyClassID)
		b.t.Students = append(b.t.Students, StudentRow{StudentID: sid, Name: name, ClassID: classID})

		for _, col := range questionCols {
			cell := strings.TrimSpace(r[col])
			if cell == "" {
				continue
			}
			v, percent, err := ParseScore(cell)
			if err != nil {
				b.warnf("row %d column %q: %v", i+1, col, err)
				continue
			}
			id := colIDs[col]
			b.addRow(model.ScoreRow{
				SubjectID: id,
				GroupName: sid,
				ClassID:   classID,
				ScoreRate: v,
				FullScore: b.t.FullScores[id],
				Percent:   percent,
			})
		}
	}

	if len(b.t.Students) == 0 {
		return nil, fmt.Errorf("normalize student table: %w", ErrEmptyTable)
	}
	return b.t, nil
}

func isFullScoreMarker(cell string) bool {
	c := strings.ToLower(strings.TrimSpace(cell))
	for _, m := range fullScoreMarkers {
		if c == m {
			return true
		}
	}
	return false
}
