package hermes

import "testing"

func TestCalibrationSubjects(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{SubjectCalibrationCompleted("high_speed", "TV"), "railkpi.calibration.high_speed.TV.completed"},
		{SubjectCalibrationFailed("metropolitan", "EAI"), "railkpi.calibration.metropolitan.EAI.failed"},
		{SubjectCalibrationCompleted("city line", "a.b"), "railkpi.calibration.city_line.a_b.completed"},
		{SubjectCalibrationFailed("", "TV"), "railkpi.calibration._.TV.failed"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}
