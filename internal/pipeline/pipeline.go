// Package pipeline runs the per-frame recognition and attendance flow: detect faces,
// match them against the gallery, verify liveness, check PPE and deliver records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/detector"
	"github.com/kozaktomas/face-attendance/internal/frames"
	"github.com/kozaktomas/face-attendance/internal/imaging"
	"github.com/kozaktomas/face-attendance/internal/index"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/ppe"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// FaceDetector finds and embeds faces in a JPEG frame.
type FaceDetector interface {
	DetectFaces(ctx context.Context, frame []byte) ([]detector.Face, error)
}

// LivenessChecker decides whether a face crop shows a live person.
type LivenessChecker interface {
	IsLive(ctx context.Context, crop []byte, box imaging.Box) (bool, error)
}

// PPEChecker produces the PPE verdict of a frame. The verdict is always usable; the
// error only explains a degraded one.
type PPEChecker interface {
	Check(ctx context.Context, frame []byte) (ppe.Verdict, error)
}

// AuditRecorder stores every delivery attempt.
type AuditRecorder interface {
	RecordDelivery(ctx context.Context, rec attendance.Record, verdict ppe.Verdict, deliveryErr error) error
}

// Skip reasons reported for faces that were not evaluated.
const (
	SkipEmptyCrop    = "empty_crop"
	SkipDimension    = "dimension_mismatch"
	SkipNoEmbedding  = "no_embedding"
	SkipUndecodable  = "undecodable_frame"
	SkipLivenessCrop = "liveness_crop_failed"
)

// Pipeline processes frames one at a time. It holds no per-frame state, so
// ProcessFrame may be called from one goroutine while the tracker is read from others.
type Pipeline struct {
	index     index.Index
	policy    recognition.Policy
	faces     FaceDetector
	liveness  LivenessChecker
	ppe       PPEChecker
	tracker   *attendance.Tracker
	sink      attendance.Sink
	audit     AuditRecorder
	metrics   *metrics.Manager
	log       logs.Log
	now       func() time.Time
	observers []func(FrameResult)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPolicy sets the match decision policy.
func WithPolicy(p recognition.Policy) Option {
	return func(pl *Pipeline) { pl.policy = p }
}

// WithLiveness enables the liveness gate. Without it every face counts as live.
func WithLiveness(l LivenessChecker) Option {
	return func(pl *Pipeline) { pl.liveness = l }
}

// WithPPE sets the PPE checker. Without it every verdict is the degrade-open one.
func WithPPE(c PPEChecker) Option {
	return func(pl *Pipeline) { pl.ppe = c }
}

// WithTracker sets the session tracker.
func WithTracker(t *attendance.Tracker) Option {
	return func(pl *Pipeline) { pl.tracker = t }
}

// WithAudit stores delivery attempts.
func WithAudit(a AuditRecorder) Option {
	return func(pl *Pipeline) { pl.audit = a }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Manager) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logs.Log) Option {
	return func(pl *Pipeline) { pl.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

// WithObserver registers a callback that receives every frame result.
func WithObserver(fn func(FrameResult)) Option {
	return func(pl *Pipeline) { pl.observers = append(pl.observers, fn) }
}

// New creates a pipeline. idx, faces and sink are required.
func New(idx index.Index, faces FaceDetector, sink attendance.Sink, opts ...Option) (*Pipeline, error) {
	if idx == nil || faces == nil || sink == nil {
		return nil, errors.New("pipeline requires an index, a face detector and a sink")
	}
	p := &Pipeline{
		index:  idx,
		policy: recognition.NewPolicy(constants.DefaultMatchThreshold),
		faces:  faces,
		sink:   sink,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracker == nil {
		p.tracker = attendance.NewTracker()
	}
	if p.log == nil {
		l, err := logs.NewLog()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		p.log = l
	}
	return p, nil
}

// Tracker returns the session tracker.
func (p *Pipeline) Tracker() *attendance.Tracker {
	return p.tracker
}

// frameState carries what is computed at most once per frame.
type frameState struct {
	frame   frames.Frame
	img     image.Image
	verdict *ppe.Verdict
}

// ProcessFrame runs one frame through the pipeline. Collaborator failures degrade
// the result for this frame only and are never returned.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame frames.Frame) FrameResult {
	start := p.now()
	result := FrameResult{
		Seq:        frame.Seq,
		Source:     frame.Source,
		CapturedAt: frame.CapturedAt,
	}

	faces, err := p.faces.DetectFaces(ctx, frame.Data)
	if err != nil {
		p.log.Warnf("Frame %d: face detection failed: %v", frame.Seq, err)
		p.metrics.RecordCollaboratorError(metrics.CollaboratorFace)
		result.DetectorError = err.Error()
		faces = nil
	}

	state := &frameState{frame: frame, img: frame.Image}
	for _, face := range faces {
		fr := p.processFace(ctx, state, face)
		if fr.Record != nil {
			result.Records = append(result.Records, *fr.Record)
		}
		result.Faces = append(result.Faces, fr)
	}

	if state.verdict != nil {
		v := *state.verdict
		result.PPE = &v
		result.PPEStatus = ppe.StatusString(v)
	}
	result.Duration = p.now().Sub(start)
	p.metrics.RecordFrame(len(faces), result.Duration)
	p.metrics.SetMarkedIdentities(p.tracker.MarkedCount())

	for _, fn := range p.observers {
		fn(result)
	}
	return result
}

func (p *Pipeline) processFace(ctx context.Context, state *frameState, face detector.Face) FaceResult {
	fr := FaceResult{Index: face.Index, Box: face.Box}

	if len(face.Embedding) == 0 {
		return p.skip(fr, SkipNoEmbedding)
	}
	if dim := p.index.Dim(); dim > 0 && len(face.Embedding) != dim {
		return p.skip(fr, SkipDimension)
	}

	img, err := state.image()
	if err != nil {
		p.log.Warnf("Frame %d: %v", state.frame.Seq, err)
		return p.skip(fr, SkipUndecodable)
	}
	crop, err := imaging.CropSquare(img, face.Box, constants.LivenessCropSize)
	if err != nil {
		return p.skip(fr, SkipEmptyCrop)
	}

	match := p.index.Query(face.Embedding)
	fr.Similarity = match.Similarity
	fr.Match = p.policy.Decide(match)

	live, err := p.checkLiveness(ctx, crop, face.Box)
	if err != nil {
		p.log.Warnf("Frame %d face %d: liveness check failed, treating as spoof: %v", state.frame.Seq, face.Index, err)
		p.metrics.RecordCollaboratorError(metrics.CollaboratorLiveness)
	}
	fr.Live = live
	fr.Identity = recognition.ApplyLiveness(fr.Match, live)
	p.metrics.RecordRecognition(outcome(fr.Identity))

	if recognition.Markable(fr.Identity) {
		p.mark(ctx, state, &fr)
	}
	fr.Label = displayLabel(fr, state.verdict)
	return fr
}

func (p *Pipeline) skip(fr FaceResult, reason string) FaceResult {
	fr.Identity = constants.UnknownIdentity
	fr.Skipped = reason
	fr.Label = constants.UnknownIdentity
	p.metrics.RecordRecognition(metrics.OutcomeSkipped)
	return fr
}

func (p *Pipeline) checkLiveness(ctx context.Context, crop image.Image, box imaging.Box) (bool, error) {
	if p.liveness == nil {
		return true, nil
	}
	data, err := imaging.EncodeJPEG(crop)
	if err != nil {
		return false, err
	}
	return p.liveness.IsLive(ctx, data, box)
}

// mark delivers a record for fr.Identity unless the tracker says it is already
// marked, in flight or waiting for a retry.
func (p *Pipeline) mark(ctx context.Context, state *frameState, fr *FaceResult) {
	if !p.tracker.Begin(fr.Identity, p.now()) {
		fr.AlreadyMarked = p.tracker.State(fr.Identity) == attendance.Marked
		return
	}

	verdict := p.frameVerdict(ctx, state)
	rec := attendance.NewRecord(fr.Identity, state.frame.CapturedAt, p.now(), verdict)

	deliveryErr := p.sink.Deliver(ctx, rec)
	if p.audit != nil {
		if err := p.audit.RecordDelivery(ctx, rec, verdict, deliveryErr); err != nil {
			p.log.Warnf("Failed to store attendance audit for %s: %v", rec.Identity, err)
		}
	}

	if deliveryErr != nil {
		retryAt := p.tracker.Fail(fr.Identity, p.now())
		p.metrics.RecordDelivery(false, 0)
		p.log.Warnf("Attendance delivery for %s failed, next attempt after %s: %v",
			fr.Identity, retryAt.Format(time.RFC3339), deliveryErr)
		fr.DeliveryError = deliveryErr.Error()
		return
	}

	p.tracker.Complete(fr.Identity, p.now())
	p.metrics.RecordDelivery(true, rec.RecognitionSeconds)
	p.log.Infof("Marked %s present (%.2fs, PPE %s)", fr.Identity, rec.RecognitionSeconds, ppe.StatusString(verdict))
	fr.Record = &rec
}

// frameVerdict computes the PPE verdict on first use within a frame.
func (p *Pipeline) frameVerdict(ctx context.Context, state *frameState) ppe.Verdict {
	if state.verdict != nil {
		return *state.verdict
	}

	v := ppe.Unavailable()
	if p.ppe != nil {
		var err error
		v, err = p.ppe.Check(ctx, state.frame.Data)
		if err != nil && !errors.Is(err, ppe.ErrUnavailable) {
			p.log.Warnf("Frame %d: %v", state.frame.Seq, err)
			p.metrics.RecordCollaboratorError(metrics.CollaboratorPPE)
		}
	}
	p.metrics.RecordPPEVerdict(v.Available, v.Compliant)
	state.verdict = &v
	return v
}

func (s *frameState) image() (image.Image, error) {
	if s.img != nil {
		return s.img, nil
	}
	img, err := imaging.Decode(s.frame.Data)
	if err != nil {
		return nil, err
	}
	s.img = img
	return img, nil
}

func outcome(identity string) string {
	switch identity {
	case constants.SpoofIdentity:
		return metrics.OutcomeSpoof
	case constants.UnknownIdentity:
		return metrics.OutcomeUnknown
	default:
		return metrics.OutcomeMatched
	}
}
