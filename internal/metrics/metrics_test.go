package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerRecording(t *testing.T) {
	Convey("Given a manager on a private registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithPrometheusRegistry(registry), WithNamespace("test"))

		Convey("When frames and recognitions are recorded", func() {
			m.RecordFrame(2, 30*time.Millisecond)
			m.RecordFrame(0, 10*time.Millisecond)
			m.RecordRecognition(OutcomeMatched)
			m.RecordRecognition(OutcomeSpoof)
			m.RecordRecognition(OutcomeSpoof)

			Convey("Then the counters reflect them", func() {
				So(testutil.ToFloat64(m.framesProcessed), ShouldEqual, 2)
				So(testutil.ToFloat64(m.facesDetected), ShouldEqual, 2)
				So(testutil.ToFloat64(m.recognitions.WithLabelValues(OutcomeMatched)), ShouldEqual, 1)
				So(testutil.ToFloat64(m.recognitions.WithLabelValues(OutcomeSpoof)), ShouldEqual, 2)
			})
		})

		Convey("When deliveries are recorded", func() {
			m.RecordDelivery(true, 0.4)
			m.RecordDelivery(false, 0)
			m.RecordDelivery(false, 0)

			Convey("Then success and failure are split", func() {
				So(testutil.ToFloat64(m.deliveries.WithLabelValues("success")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.deliveries.WithLabelValues("failure")), ShouldEqual, 2)
				So(testutil.CollectAndCount(m.recognitionLatency), ShouldEqual, 1)
			})
		})

		Convey("When PPE verdicts are recorded", func() {
			m.RecordPPEVerdict(true, true)
			m.RecordPPEVerdict(true, false)
			m.RecordPPEVerdict(false, true)

			Convey("Then each label is counted once", func() {
				So(testutil.ToFloat64(m.ppeVerdicts.WithLabelValues("true")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.ppeVerdicts.WithLabelValues("false")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.ppeVerdicts.WithLabelValues("unavailable")), ShouldEqual, 1)
			})
		})

		Convey("When gauges are set", func() {
			m.SetMarkedIdentities(3)
			m.SetGalleryEntries(12)
			m.RecordCollaboratorError(CollaboratorLiveness)

			Convey("Then the handler exposes them", func() {
				rec := httptest.NewRecorder()
				m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
				body, _ := io.ReadAll(rec.Body)
				So(rec.Code, ShouldEqual, 200)
				So(strings.Contains(string(body), "test_pipeline_marked_identities 3"), ShouldBeTrue)
				So(strings.Contains(string(body), "test_pipeline_gallery_entries 12"), ShouldBeTrue)
				So(strings.Contains(string(body), `test_pipeline_collaborator_errors_total{collaborator="liveness"} 1`), ShouldBeTrue)
			})
		})
	})
}

func TestNilManagerIsNoop(t *testing.T) {
	Convey("Given a nil manager", t, func() {
		var m *Manager

		Convey("Then recording does not panic", func() {
			So(func() {
				m.RecordFrame(1, time.Millisecond)
				m.RecordRecognition(OutcomeUnknown)
				m.RecordCollaboratorError(CollaboratorFace)
				m.RecordDelivery(true, 1)
				m.RecordPPEVerdict(true, true)
				m.SetMarkedIdentities(1)
				m.SetGalleryEntries(1)
			}, ShouldNotPanic)
		})
	})
}

func TestManagerOptions(t *testing.T) {
	Convey("Given a manager with a custom subsystem and buckets", t, func() {
		m := NewManager(
			WithPrometheusRegistry(prometheus.NewRegistry()),
			WithNamespace("site"),
			WithSubsystem("gate"),
			WithHistogramBuckets([]float64{0.5, 2}),
		)

		Convey("When a frame is recorded", func() {
			m.RecordFrame(1, time.Second)

			Convey("Then names and buckets follow the options", func() {
				rec := httptest.NewRecorder()
				m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
				body := rec.Body.String()
				So(body, ShouldContainSubstring, "site_gate_frames_processed_total 1")
				So(body, ShouldContainSubstring, `site_gate_frame_duration_seconds_bucket{le="0.5"} 0`)
				So(body, ShouldContainSubstring, `site_gate_frame_duration_seconds_bucket{le="2"} 1`)
			})
		})
	})
}

func TestDefaultRegistry(t *testing.T) {
	Convey("Given a manager without a registry option", t, func() {
		m := NewManager()

		Convey("Then it owns a private registry with runtime collectors", func() {
			So(m.Registry(), ShouldNotBeNil)
			families, err := m.Registry().Gather()
			So(err, ShouldBeNil)
			found := false
			for _, f := range families {
				if f.GetName() == "go_goroutines" {
					found = true
				}
			}
			So(found, ShouldBeTrue)
		})
	})
}
