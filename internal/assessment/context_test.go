package assessment

import (
	"testing"

	"github.com/pitabwire/bugtriage/model"
)

func TestBuildContext(t *testing.T) {
	bug := model.Bug{
		ID:               "BUG-42",
		Title:            "Export truncates rows",
		Description:      "Only the first 1000 rows are written.",
		Severity:         "Major",
		AffectedVersions: []string{"2.1", " 2.2 "},
	}
	task := model.AssessmentTask{
		TaskID:         "task-1",
		ProductName:    "Reporter",
		ProductVersion: "2.2",
		ClientName:     "Acme",
	}

	ctx := BuildContext(bug, task)

	wantStrings := map[string]string{
		KeyBugID:          "BUG-42",
		KeyBugTitle:       "Export truncates rows",
		KeyBugSeverity:    "Major",
		KeyBugDescription: "Only the first 1000 rows are written.",
		KeyProductName:    "Reporter",
		KeyProductVersion: "2.2",
		KeyClientName:     "Acme",
	}
	for k, want := range wantStrings {
		if got, _ := ctx[k].AsString(); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if !ctx[KeyVersionAffected].Equal(model.Bool(true)) {
		t.Errorf("versionAffected = %v, want true", ctx[KeyVersionAffected])
	}
	if !ctx[KeySeverityIsMajorOrCritical].Equal(model.Bool(true)) {
		t.Errorf("severityIsMajorOrCritical = %v, want true", ctx[KeySeverityIsMajorOrCritical])
	}
	if !ctx[KeyAffectedVersions].Equal(model.Strings("2.1", " 2.2 ")) {
		t.Errorf("affectedVersions = %v", ctx[KeyAffectedVersions])
	}
	if _, ok := ctx[KeyStudyName]; ok {
		t.Error("studyName should be absent when the task has none")
	}
}

func TestBuildContext_noAffectedVersions(t *testing.T) {
	ctx := BuildContext(model.Bug{ID: "B", Severity: "Minor"}, model.AssessmentTask{TaskID: "t", ProductVersion: "1.0"})

	list, ok := ctx[KeyAffectedVersions].AsList()
	if !ok || len(list) != 0 {
		t.Errorf("affectedVersions = %v, want empty list", ctx[KeyAffectedVersions])
	}
	if !ctx[KeyVersionAffected].Equal(model.Bool(false)) {
		t.Error("versionAffected should be false")
	}
}

func TestVersionAffected(t *testing.T) {
	tests := []struct {
		affected []string
		version  string
		want     bool
	}{
		{[]string{"1.0", "1.1"}, "1.1", true},
		{[]string{"v2.0-RC"}, "V2.0-rc", true},
		{[]string{"1.0"}, " 1.0 ", true},
		{[]string{"1.0"}, "1.01", false},
		{[]string{"1.0"}, "", false},
		{[]string{""}, "  ", false},
		{nil, "1.0", false},
	}
	for _, tt := range tests {
		if got := VersionAffected(tt.affected, tt.version); got != tt.want {
			t.Errorf("VersionAffected(%q, %q) = %v, want %v", tt.affected, tt.version, got, tt.want)
		}
	}
}

func TestMajorOrCritical(t *testing.T) {
	for _, s := range []string{"Major", "major", "CRITICAL", " Critical "} {
		if !MajorOrCritical(s) {
			t.Errorf("MajorOrCritical(%q) = false", s)
		}
	}
	for _, s := range []string{"Minor", "Trivial", "", "Blocker"} {
		if MajorOrCritical(s) {
			t.Errorf("MajorOrCritical(%q) = true", s)
		}
	}
}
