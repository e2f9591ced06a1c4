// Package stream implements the scheduling domain's one genuinely
// domain-specific Operation: locate a show's audio, reserve a slot on the
// mixing endpoint, and push an SRT-encoded stream to it via ffmpeg. It
// registers itself into a scheduling.OperationFactory the way
// operations.Register does for the built-in "test" operation, but needs
// external service clients the factory alone can't construct, so it
// exposes its own Register taking those clients plus a Config.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radio-aktywne/mantis/internal/scheduling"
	"github.com/radio-aktywne/mantis/internal/services/calendar"
	"github.com/radio-aktywne/mantis/internal/services/format"
	"github.com/radio-aktywne/mantis/internal/services/prerecordings"
	"github.com/radio-aktywne/mantis/internal/services/records"
	"github.com/radio-aktywne/mantis/internal/services/reserve"
)

// naiveLocalLayout parses the wall-clock-only "start" parameter, which
// carries no zone: it is interpreted against the resolved event's own
// timezone, never UTC directly.
const naiveLocalLayout = "2006-01-02T15:04:05.999999"

// Parameters is the stream operation's JSON parameter shape.
type Parameters struct {
	ID    uuid.UUID `json:"id"`
	Start string    `json:"start"`
}

// Result is returned as the task's Completed.result.
type Result struct {
	Event uuid.UUID `json:"event"`
	Start string    `json:"start"`
	Port  int       `json:"port"`
}

// CalendarClient is the subset of calendar.Client the stream operation
// needs. Declared consumer-side so tests can fake it.
type CalendarClient interface {
	GetEvent(ctx context.Context, id uuid.UUID) (calendar.Event, error)
	ListAllSchedule(ctx context.Context, start, end time.Time, where string) ([]calendar.Schedule, error)
}

// PrerecordingsClient is the subset of prerecordings.Client the stream
// operation needs.
type PrerecordingsClient interface {
	ListAll(ctx context.Context, event uuid.UUID, after, before time.Time) ([]prerecordings.Entry, error)
	Download(ctx context.Context, event uuid.UUID, start time.Time) (io.ReadCloser, string, error)
}

// RecordsClient is the subset of records.Client the stream operation
// needs.
type RecordsClient interface {
	ListAll(ctx context.Context, event uuid.UUID, after, before time.Time) ([]records.Entry, error)
	Download(ctx context.Context, event uuid.UUID, start time.Time) (io.ReadCloser, string, error)
}

// ReserveClient is the subset of reserve.Client the stream operation needs.
type ReserveClient interface {
	Reserve(ctx context.Context, req reserve.Request, deadline time.Time) (reserve.Reservation, error)
}

// Config bundles the deployment knobs spec section 6 lists under
// operations.stream and the emistream block.
type Config struct {
	// Timeout bounds the reservation 409-retry loop (default 1h).
	Timeout time.Duration
	// ReplayWindow bounds how far back a "replay" event looks for its
	// source live broadcast.
	ReplayWindow time.Duration
	// TempDir is the parent directory per-task download directories are
	// created under. Empty means os.TempDir().
	TempDir string
	// EmistreamHost is resolved via DNS at stream time, immediately
	// before the ffmpeg subprocess is spawned.
	EmistreamHost string
	// FFmpegPath is the ffmpeg binary to exec. Empty means "ffmpeg" off
	// $PATH.
	FFmpegPath string
}

// Operation implements scheduling.Operation for the "stream" type.
type Operation struct {
	Calendar      CalendarClient
	Prerecordings PrerecordingsClient
	Records       RecordsClient
	Reserve       ReserveClient
	Config        Config
	Log           zerolog.Logger
}

// Register installs the "stream" operation, bound to the given service
// clients and config, into factory.
func Register(factory *scheduling.OperationFactory, cal CalendarClient, pre PrerecordingsClient, rec RecordsClient, res ReserveClient, cfg Config, log zerolog.Logger) {
	factory.Register("stream", func() scheduling.Operation {
		return &Operation{Calendar: cal, Prerecordings: pre, Records: rec, Reserve: res, Config: cfg, Log: log}
	})
}

func (op *Operation) Run(ctx context.Context, parameters json.RawMessage, _ map[string]json.RawMessage) (json.RawMessage, error) {
	var params Parameters
	if err := json.Unmarshal(parameters, &params); err != nil {
		return nil, fmt.Errorf("decoding stream parameters: %w", err)
	}

	event, instance, err := op.findInstance(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := validateInstance(event, instance); err != nil {
		return nil, err
	}

	tempDir, err := os.MkdirTemp(op.Config.TempDir, "mantis-stream-"+event.ID.String()+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	mediaPath, tag, err := op.download(ctx, event, instance, tempDir)
	if err != nil {
		return nil, err
	}
	op.Log.Debug().Str("event", event.ID.String()).Str("format", tag).Msg("media downloaded")

	if err := sleepUntil(ctx, instance.Start.Add(-10*time.Second)); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(effectiveTimeout(op.Config.Timeout))
	reservation, err := op.Reserve.Reserve(ctx, reserve.Request{Event: event.ID, Format: tag, Record: false}, deadline)
	if err != nil {
		return nil, err
	}
	op.Log.Debug().Str("event", event.ID.String()).Int("port", reservation.Port).Msg("slot reserved")

	if err := sleepUntil(ctx, instance.Start.Add(-1*time.Second)); err != nil {
		return nil, err
	}

	if err := op.runFFmpeg(ctx, mediaPath, tag, reservation); err != nil {
		return nil, err
	}
	op.Log.Info().Str("event", event.ID.String()).Msg("stream finished")

	return json.Marshal(Result{Event: event.ID, Start: params.Start, Port: reservation.Port})
}

func effectiveTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

// findInstance implements spec section 4.5 step 1: resolve the event, then
// locate the calendar instance whose start (in the event's own timezone)
// matches the requested naive datetime.
func (op *Operation) findInstance(ctx context.Context, params Parameters) (calendar.Event, calendar.EventInstance, error) {
	event, err := op.Calendar.GetEvent(ctx, params.ID)
	if err != nil {
		var notFound *calendar.NotFoundError
		if errors.As(err, &notFound) {
			return calendar.Event{}, calendar.EventInstance{}, &EventNotFoundError{ID: params.ID}
		}
		return calendar.Event{}, calendar.EventInstance{}, err
	}

	loc, err := time.LoadLocation(event.Timezone)
	if err != nil {
		return calendar.Event{}, calendar.EventInstance{}, fmt.Errorf("loading timezone %q: %w", event.Timezone, err)
	}

	localStart, err := time.ParseInLocation(naiveLocalLayout, params.Start, loc)
	if err != nil {
		return calendar.Event{}, calendar.EventInstance{}, fmt.Errorf("parsing start %q: %w", params.Start, err)
	}
	utcStart := localStart.UTC()

	dayStart := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), 0, 0, 0, 0, loc)
	windowStart := dayStart.UTC()
	windowEnd := dayStart.Add(24 * time.Hour).UTC()

	schedules, err := op.Calendar.ListAllSchedule(ctx, windowStart, windowEnd, "")
	if err != nil {
		return calendar.Event{}, calendar.EventInstance{}, err
	}

	for _, sched := range schedules {
		if sched.Event.ID != event.ID {
			continue
		}
		for _, inst := range sched.Instances {
			if inst.Start.UTC().Equal(utcStart) {
				return event, inst, nil
			}
		}
	}

	return calendar.Event{}, calendar.EventInstance{}, &InstanceNotFoundError{ID: params.ID, Start: params.Start}
}

// validateInstance implements spec section 4.5 step 2.
func validateInstance(event calendar.Event, instance calendar.EventInstance) error {
	if event.Type != "replay" && event.Type != "prerecorded" {
		return &UnexpectedEventTypeError{ID: event.ID, Type: event.Type}
	}
	if time.Now().UTC().After(instance.End.UTC()) {
		return &InstanceAlreadyEndedError{ID: event.ID}
	}
	return nil
}

// download implements spec section 4.5 step 3.
func (op *Operation) download(ctx context.Context, event calendar.Event, instance calendar.EventInstance, tempDir string) (path string, formatTag string, err error) {
	var body io.ReadCloser
	var contentType string

	switch event.Type {
	case "prerecorded":
		entries, err := op.Prerecordings.ListAll(ctx, event.ID, instance.Start.Add(-time.Second), instance.End.Add(time.Second))
		if err != nil {
			return "", "", err
		}
		found := false
		for _, e := range entries {
			if e.Start.UTC().Equal(instance.Start.UTC()) {
				body, contentType, err = op.Prerecordings.Download(ctx, event.ID, e.Start)
				if err != nil {
					return "", "", err
				}
				found = true
				break
			}
		}
		if !found {
			return "", "", &DownloadUnavailableError{ID: event.ID}
		}

	case "replay":
		windowStart := instance.Start.Add(-op.replayWindow())
		windowEnd := instance.Start

		candidates, err := op.Calendar.ListAllSchedule(ctx, windowStart, windowEnd, fmt.Sprintf("show_id=%s&type=live", event.ShowID))
		if err != nil {
			return "", "", err
		}

		var bestEvent uuid.UUID
		var bestStart time.Time
		have := false

		for _, sched := range candidates {
			starts := make(map[time.Time]struct{}, len(sched.Instances))
			for _, inst := range sched.Instances {
				starts[inst.Start.UTC()] = struct{}{}
			}

			recs, err := op.Records.ListAll(ctx, sched.Event.ID, windowStart, windowEnd)
			if err != nil {
				return "", "", err
			}
			for _, r := range recs {
				if _, ok := starts[r.Start.UTC()]; !ok {
					continue
				}
				if !have || r.Start.After(bestStart) {
					bestEvent = sched.Event.ID
					bestStart = r.Start
					have = true
				}
			}
		}

		if !have {
			return "", "", &DownloadUnavailableError{ID: event.ID}
		}

		body, contentType, err = op.Records.Download(ctx, bestEvent, bestStart)
		if err != nil {
			return "", "", err
		}

	default:
		return "", "", &UnexpectedEventTypeError{ID: event.ID, Type: event.Type}
	}
	defer body.Close()

	tag, err := format.Lookup(contentType)
	if err != nil {
		return "", "", err
	}

	path = filepath.Join(tempDir, "media."+tag)
	f, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("creating media file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", "", fmt.Errorf("downloading media: %w", err)
	}

	return path, tag, nil
}

func (op *Operation) replayWindow() time.Duration {
	if op.Config.ReplayWindow <= 0 {
		return 24 * time.Hour
	}
	return op.Config.ReplayWindow
}

// sleepUntil blocks until t or ctx is cancelled, whichever comes first.
// Negative durations are clamped to zero per spec section 4.5 steps 4/6.
func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runFFmpeg implements spec section 4.5 step 7.
func (op *Operation) runFFmpeg(ctx context.Context, mediaPath, tag string, reservation reserve.Reservation) error {
	ips, err := net.DefaultResolver.LookupHost(ctx, op.Config.EmistreamHost)
	if err != nil {
		return fmt.Errorf("resolving emistream host: %w", err)
	}
	host := op.Config.EmistreamHost
	if len(ips) > 0 {
		host = ips[0]
	}

	bin := op.Config.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}

	target := fmt.Sprintf("srt://%s:%d", host, reservation.Port)
	cmd := exec.CommandContext(ctx, bin,
		"-re", "-f", tag, "-i", mediaPath,
		"-acodec", "copy", "-f", tag, "-passphrase", reservation.Credentials.Token,
		target,
	)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg exited: %w: %s", err, stderr.String())
	}
	return nil
}
