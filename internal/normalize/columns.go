package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Canonical column keys.
const (
	KeyQuestionID   = "question_id"
	KeyFullScore    = "full_score"
	KeyID           = "id"
	KeyMeta         = "meta"
	KeyAnalysis     = "analysis"
	KeyStudentID    = "student_id"
	KeyName         = "name"
	KeyClassID      = "class_id"
	KeyAverageScore = "average_score"
	KeyGroupName    = "group_name"
	KeyScoreRate    = "score_rate"
)

// reserved columns are never melted into groups or renamed to questions.
var reserved = map[string]bool{
	KeyQuestionID:   true,
	KeyFullScore:    true,
	KeyID:           true,
	KeyMeta:         true,
	KeyAnalysis:     true,
	KeyStudentID:    true,
	KeyName:         true,
	KeyClassID:      true,
	KeyAverageScore: true,
}

// aliases lists accepted header spellings per canonical key, checked in
// aliasOrder so that overlapping aliases resolve deterministically.
var aliases = map[string][]string{
	KeyQuestionID:   {"question_id", "questionid", "qid", "题号", "题目编号", "小题号"},
	KeyFullScore:    {"full_score", "fullscore", "满分", "分值", "满分值"},
	KeyID:           {"id"},
	KeyMeta:         {"meta", "题目", "题目内容", "题干", "content"},
	KeyAnalysis:     {"analysis", "分析", "已有分析"},
	KeyStudentID:    {"student_id", "studentid", "学号", "考号", "准考证号", "学生编号"},
	KeyName:         {"name", "姓名", "学生姓名"},
	KeyClassID:      {"class_id", "classid", "班级", "班级编号", "班别"},
	KeyAverageScore: {"average_score", "averagescore", "平均分"},
	KeyGroupName:    {"group_name", "groupname", "分组"},
	KeyScoreRate:    {"score_rate", "scorerate", "得分率"},
}

var aliasOrder = []string{
	KeyQuestionID, KeyFullScore, KeyStudentID, KeyClassID, KeyName,
	KeyGroupName, KeyScoreRate, KeyAverageScore, KeyAnalysis, KeyMeta, KeyID,
}

// containedKeys are the identifier keys that may also match a header
// containing one of their non-ASCII aliases, e.g. "学号" in "学生学号".
// Every other key needs an exact match.
var containedKeys = []string{KeyStudentID, KeyClassID, KeyName}

// foldedAliases holds aliases in the same folded form as headers.
var foldedAliases = func() map[string][]string {
	out := make(map[string][]string, len(aliases))
	for key, list := range aliases {
		for _, a := range list {
			out[key] = append(out[key], foldHeader(a))
		}
	}
	return out
}()

// foldHeader trims, narrows full-width characters, lower-cases and drops
// separators so that "Student ID", "student_id" and "ｓｔｕｄｅｎｔ＿ｉｄ" compare equal.
func foldHeader(h string) string {
	h = width.Fold.String(strings.TrimSpace(h))
	h = strings.ToLower(h)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t':
			return -1
		}
		return r
	}, h)
}

// canonicalKey returns the canonical key a header maps to, or "" when the
// header is not recognized. Exact matches win over containment, which is
// limited to the non-ASCII aliases of containedKeys.
func canonicalKey(header string) string {
	f := foldHeader(header)
	if f == "" {
		return ""
	}
	for _, key := range aliasOrder {
		for _, a := range foldedAliases[key] {
			if f == a {
				return key
			}
		}
	}
	for _, key := range containedKeys {
		for _, a := range foldedAliases[key] {
			if !isASCII(a) && strings.Contains(f, a) {
				return key
			}
		}
	}
	return ""
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// columnMap records how each uploaded column was classified.
type columnMap struct {
	// byKey maps a canonical key to the first column carrying it.
	byKey map[string]string
	// data lists non-reserved columns in left-to-right order.
	data []string
}

func classifyColumns(columns []string) columnMap {
	cm := columnMap{byKey: make(map[string]string)}
	for _, col := range columns {
		key := canonicalKey(col)
		if key == "" {
			cm.data = append(cm.data, col)
			continue
		}
		if _, seen := cm.byKey[key]; !seen {
			cm.byKey[key] = col
		}
		// score_rate is not reserved: in wide tables it is an auto-computed
		// aggregate column melted like any other group.
		if key == KeyScoreRate {
			cm.data = append(cm.data, col)
		}
	}
	return cm
}

func (cm columnMap) has(key string) bool {
	_, ok := cm.byKey[key]
	return ok
}

func (cm columnMap) cell(r Record, key string) string {
	col, ok := cm.byKey[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(r[col])
}
