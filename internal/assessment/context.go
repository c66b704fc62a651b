// Package assessment turns an assessed bug into one bug_assessment
// workflow execution per affected product instance.
package assessment

import (
	"strings"

	"github.com/pitabwire/bugtriage/model"
)

// Context keys written by BuildContext and read by the canonical schema.
const (
	KeyBugID                     = "bugId"
	KeyBugTitle                  = "bugTitle"
	KeyBugSeverity               = "bugSeverity"
	KeyBugDescription            = "bugDescription"
	KeyProductName               = "productName"
	KeyProductVersion            = "productVersion"
	KeyAffectedVersions          = "affectedVersions"
	KeyVersionAffected           = "versionAffected"
	KeySeverityIsMajorOrCritical = "severityIsMajorOrCritical"
	KeyClientName                = "clientName"
	KeyStudyName                 = "studyName"
)

// BuildContext derives the initial workflow context of task from bug.
func BuildContext(bug model.Bug, task model.AssessmentTask) model.Context {
	affected := bug.AffectedVersions
	if affected == nil {
		affected = []string{}
	}

	ctx := model.Context{
		KeyBugID:                     model.String(bug.ID),
		KeyBugTitle:                  model.String(bug.Title),
		KeyBugSeverity:               model.String(bug.Severity),
		KeyBugDescription:            model.String(bug.Description),
		KeyProductName:               model.String(task.ProductName),
		KeyProductVersion:            model.String(task.ProductVersion),
		KeyAffectedVersions:          model.Strings(affected...),
		KeyVersionAffected:           model.Bool(VersionAffected(affected, task.ProductVersion)),
		KeySeverityIsMajorOrCritical: model.Bool(MajorOrCritical(bug.Severity)),
	}
	if task.ClientName != "" {
		ctx[KeyClientName] = model.String(task.ClientName)
	}
	if task.StudyName != "" {
		ctx[KeyStudyName] = model.String(task.StudyName)
	}
	return ctx
}

// VersionAffected reports whether version appears in affected. Surrounding
// whitespace and letter case are ignored; a blank version never matches.
func VersionAffected(affected []string, version string) bool {
	version = strings.TrimSpace(version)
	if version == "" {
		return false
	}
	for _, v := range affected {
		if strings.EqualFold(strings.TrimSpace(v), version) {
			return true
		}
	}
	return false
}

// MajorOrCritical reports whether severity is Major or Critical.
func MajorOrCritical(severity string) bool {
	s := strings.TrimSpace(severity)
	return strings.EqualFold(s, "major") || strings.EqualFold(s, "critical")
}
