package hermes

import "strings"

const (
	SubjectCoefficientsReplaced = "railkpi.coefficients.replaced"
	SubjectCoefficientsRestored = "railkpi.coefficients.restored"
	SubjectCalibrationBatch     = "railkpi.calibration.batch.completed"

	// SubjectCalibrationRequest carries CalibrationRequestEvent payloads from
	// survey pipelines.
	SubjectCalibrationRequest = "railkpi.calibration.request"

	StreamName   = "RAILKPI_EVENTS"
	StreamMaxAge = "2160h" // 90 days
)

// StreamSubjects are captured by the JetStream stream.
var StreamSubjects = []string{"railkpi.>"}

// subjectToken makes a rail type or KPI code safe as a single NATS token.
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

func SubjectCalibrationCompleted(railType, kpi string) string {
	return "railkpi.calibration." + subjectToken(railType) + "." + subjectToken(kpi) + ".completed"
}

func SubjectCalibrationFailed(railType, kpi string) string {
	return "railkpi.calibration." + subjectToken(railType) + "." + subjectToken(kpi) + ".failed"
}
