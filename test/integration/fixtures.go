package integration

import (
	"encoding/json"
	"fmt"

	"github.com/pitabwire/bugtriage/model"
)

func AnalystClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-analyst",
		Email:     "analyst@triage.example.com",
		Roles:     []string{"qa_analyst"},
	}
}

// ServiceClaims is the bug intake service. It carries no email, so audit
// entries record its subject.
func ServiceClaims() TestClaims {
	return TestClaims{SubjectID: "svc-bug-intake", Roles: []string{"service"}}
}

func BugFixture(id, severity string, versions ...string) model.Bug {
	return model.Bug{
		ID:               id,
		Title:            "Report export drops the last row",
		Description:      "Exports of more than 1000 rows lose the final row.",
		Severity:         severity,
		AffectedVersions: versions,
	}
}

// TaskFixture is an assessment task for version of the Reporter product.
func TaskFixture(id, version string) model.AssessmentTask {
	return model.AssessmentTask{
		TaskID:         id,
		ProductName:    "Reporter",
		ProductVersion: version,
		ClientName:     "Acme Pharma",
		StudyName:      "ACME-301",
	}
}

// FormatJSON renders v for failure messages.
func FormatJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
