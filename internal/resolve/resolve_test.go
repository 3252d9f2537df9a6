package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/normalize"
)

func TestSortGroups(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"ClassB", "Grade", "ClassA"}, []string{"Grade", "ClassA", "ClassB"}},
		{[]string{"Class10", "Class2", "Class1"}, []string{"Class1", "Class2", "Class10"}},
		{[]string{"score_rate", "ClassA", "全体"}, []string{"全体", "score_rate", "ClassA"}},
		{[]string{"3班", "12班", "年级", "1班"}, []string{"年级", "1班", "3班", "12班"}},
		{nil, []string{}},
	}
	for _, tt := range tests {
		got := SortGroups(tt.in)
		if len(tt.want) == 0 {
			assert.Empty(t, got)
			continue
		}
		assert.Equal(t, tt.want, got)
	}
}

func TestSortGroupsDoesNotMutate(t *testing.T) {
	in := []string{"ClassB", "Grade", "ClassA"}
	_ = SortGroups(in)
	assert.Equal(t, []string{"ClassB", "Grade", "ClassA"}, in)
}

func TestSortGroupsDeterministic(t *testing.T) {
	in := []string{"b2", "B2", "a10", "a9", "Overall"}
	first := SortGroups(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, SortGroups(in))
	}
	assert.Equal(t, "Overall", first[0])
}

func TestDedup(t *testing.T) {
	assert.Equal(t,
		[]string{"Grade", "ClassA"},
		Dedup([]string{"Grade", "score_rate", "ClassA", "average_score"}))

	// Without a canonical aggregate the auto-computed column is the cohort.
	assert.Equal(t,
		[]string{"score_rate", "ClassA"},
		Dedup([]string{"score_rate", "ClassA"}))

	assert.Equal(t, []string{"ClassA"}, Dedup([]string{"ClassA", "ClassA"}))
}

func classTable(t *testing.T) *normalize.Table {
	t.Helper()
	tbl, err := normalize.Normalize(normalize.RawTable{
		Columns: []string{"question_id", "full_score", "ClassB", "score_rate", "Grade", "ClassA"},
		Rows: []normalize.Record{
			{"question_id": "1", "full_score": "10", "ClassB": "0.8", "score_rate": "0.7", "Grade": "0.7", "ClassA": "0.6"},
			{"question_id": "2", "full_score": "4", "ClassB": "0.5", "score_rate": "0.25", "Grade": "0.25", "ClassA": "0"},
		},
	}, model.ModeClass)
	require.NoError(t, err)
	return tbl
}

func TestResolveQuestions(t *testing.T) {
	subjects, err := Resolve(classTable(t), Options{Target: TargetQuestions})
	require.NoError(t, err)
	require.Len(t, subjects, 2)

	assert.Equal(t, "Q1", subjects[0].ID)
	assert.Equal(t, model.SubjectQuestion, subjects[0].Kind)
	assert.Equal(t, []string{"Grade", "ClassA", "ClassB"}, subjects[0].Content["group_order"])

	rates := subjects[0].Content["group_rates"].(map[string]float64)
	assert.InDelta(t, 0.8, rates["ClassB"], 1e-9)
	assert.NotContains(t, rates, "score_rate")
}

func TestResolveGroups(t *testing.T) {
	subjects, err := Resolve(classTable(t), Options{Target: TargetGroups})
	require.NoError(t, err)

	var ids []string
	for _, s := range subjects {
		ids = append(ids, s.ID)
		assert.Equal(t, model.SubjectGroup, s.Kind)
	}
	assert.Equal(t, []string{"Grade", "ClassA", "ClassB"}, ids)
	assert.Equal(t, 1, subjects[0].Ordinal)
	assert.Equal(t, true, subjects[0].Content["aggregate"])

	qs := subjects[2].Content["questions"].([]questionStat)
	require.Len(t, qs, 2)
	assert.InDelta(t, 8.0, qs[0].Score, 1e-9)
	assert.InDelta(t, 2.0, qs[1].Score, 1e-9)
}

func TestResolveUmbrella(t *testing.T) {
	subjects, err := Resolve(classTable(t), Options{Target: TargetUmbrella})
	require.NoError(t, err)
	require.Len(t, subjects, 1)

	u := subjects[0]
	assert.True(t, u.IsUmbrella())
	assert.Equal(t, model.UmbrellaSubjectID, u.ID)
	assert.Equal(t, []string{"Grade", "ClassA", "ClassB"}, u.Groups)
}

func TestResolveStudentByClass(t *testing.T) {
	tbl, err := normalize.Normalize(normalize.RawTable{
		Columns: []string{"student_id", "class_id", "A", "B"},
		Rows: []normalize.Record{
			{"student_id": "s1", "class_id": "Class10", "A": "50", "B": "100"},
			{"student_id": "s2", "class_id": "Class2", "A": "100", "B": "100"},
			{"student_id": "s3", "class_id": "Class10", "A": "100", "B": "50"},
		},
	}, model.ModeStudent)
	require.NoError(t, err)

	subjects, err := Resolve(tbl, Options{Target: TargetGroups, GroupByClass: true})
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, "Class2", subjects[0].ID)
	assert.Equal(t, "Class10", subjects[1].ID)

	qs := subjects[1].Content["questions"].([]questionStat)
	require.Len(t, qs, 2)
	assert.InDelta(t, 75.0, qs[0].Score, 1e-9)
}

func TestResolveEmpty(t *testing.T) {
	_, err := Resolve(&normalize.Table{}, Options{})
	require.Error(t, err)
}

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget("")
	require.NoError(t, err)
	assert.Equal(t, TargetQuestions, got)

	got, err = ParseTarget("umbrella")
	require.NoError(t, err)
	assert.Equal(t, TargetUmbrella, got)

	_, err = ParseTarget("everything")
	require.Error(t, err)
}
