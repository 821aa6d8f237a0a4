package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/brewbridge/internal/firmware"
	"github.com/nerrad567/brewbridge/internal/server"
	"github.com/nerrad567/brewbridge/internal/session"
)

// DeviceListNotReady is the getDeviceList reply while a refresh is incomplete.
const DeviceListNotReady = "device-list-not-up-to-date"

var (
	errMissingValue = errors.New("value required")
	errNoProfiles   = errors.New("no profile store configured")
	errLocalOnly    = errors.New("command accepted on the local socket only")
)

// responder answers one request. *server.Conn satisfies it.
type responder interface {
	Reply(server.Reply) error
	Decline()
}

// logStatus is the reply document for the logging keywords.
type logStatus struct {
	Status  int    `json:"status"`
	Message string `json:"statusMessage"`
	RunID   string `json:"runId,omitempty"`
}

// Handle serves one command server connection.
func (l *Loop) Handle(ctx context.Context, c *server.Conn) {
	l.handle(ctx, c.Request(), c, l.now())
}

func (l *Loop) handle(ctx context.Context, req server.Request, r responder, now time.Time) {
	reply, immediate := l.dispatch(ctx, req, r, now)
	if !immediate {
		return
	}
	if err := r.Reply(reply); err != nil {
		l.log.Warn("sending reply failed", "keyword", req.Keyword, "error", err)
	}
}

// dispatch maps a request onto the session. It returns immediate=false
// when r will be answered later or has been declined.
func (l *Loop) dispatch(ctx context.Context, req server.Request, r responder, now time.Time) (reply server.Reply, immediate bool) {
	s := l.sess

	switch req.Keyword {
	case server.KeywordLCD:
		lines, err := s.LCD()
		if err != nil {
			return server.Error(err), true
		}
		return jsonReply(lines), true

	case server.KeywordGetMode:
		mode, err := s.Mode()
		if err != nil {
			return server.Error(err), true
		}
		return server.Value(mode), true

	case server.KeywordGetBeer:
		return tempReply(s.BeerSetpoint()), true

	case server.KeywordGetFridge:
		return tempReply(s.FridgeSetpoint()), true

	case server.KeywordGetControlConstants:
		return rawReply(s.ControlConstants()), true

	case server.KeywordGetControlSettings:
		return rawReply(s.ControlSettings()), true

	case server.KeywordGetControlVariables:
		err := s.RequestControlVariables(func(_ firmware.Frame, err error) {
			if err != nil {
				if session.IsTimeout(err) {
					l.log.Warn("controller did not answer", "keyword", req.Keyword)
				}
				l.answer(req, r, server.Error(err))
				return
			}
			l.answer(req, r, rawReply(s.ControlVariables()))
		})
		if err != nil {
			return server.Error(err), true
		}
		return server.Reply{}, false

	case server.KeywordSetBeer, server.KeywordSetFridge:
		temp, err := parseTemp(req)
		if err != nil {
			return server.Error(err), true
		}
		if req.Keyword == server.KeywordSetBeer {
			err = s.SetBeer(temp)
		} else {
			err = s.SetFridge(temp)
		}
		return ackOrError(err), true

	case server.KeywordSetOff:
		return ackOrError(s.SetOff()), true

	case server.KeywordSetActiveProfile:
		return ackOrError(l.activateProfile(ctx, req, now)), true

	case server.KeywordSetParameters:
		if !req.HasValue {
			return server.Error(errMissingValue), true
		}
		return ackOrError(s.SetParameters(json.RawMessage(req.Value))), true

	case server.KeywordGetDeviceList:
		list, err := s.DeviceList()
		if errors.Is(err, session.ErrStaleDeviceList) {
			return server.Value(DeviceListNotReady), true
		}
		if err != nil {
			return server.Error(err), true
		}
		return jsonReply(list), true

	case server.KeywordRefreshDeviceList:
		withValues := strings.EqualFold(req.Value, server.ValueReadValues)
		return ackOrError(s.RefreshDeviceList(withValues)), true

	case server.KeywordApplyDevice:
		if !req.HasValue {
			return server.Error(errMissingValue), true
		}
		err := s.ApplyDevice(json.RawMessage(req.Value), func(_ firmware.Frame, err error) {
			l.answer(req, r, ackOrError(err))
		})
		if err != nil {
			return server.Error(err), true
		}
		return server.Reply{}, false

	case server.KeywordWriteDevice:
		if !req.HasValue {
			return server.Error(errMissingValue), true
		}
		return ackOrError(s.WriteDevice(json.RawMessage(req.Value))), true

	case server.KeywordGetVersion:
		v, err := s.Version()
		if err != nil {
			return server.Error(err), true
		}
		return jsonReply(v), true

	case server.KeywordGetDashInfo:
		return jsonReply(s.DashInfo()), true

	case server.KeywordStartNewBrew:
		name := strings.TrimSpace(req.Value)
		if name == "" {
			return jsonReply(logStatus{Status: 1, Message: "Brew name is required."}), true
		}
		runID := s.StartNewBrew(name)
		return jsonReply(logStatus{
			Message: fmt.Sprintf("Successfully switched to new brew %q.", name),
			RunID:   runID,
		}), true

	case server.KeywordPauseLogging:
		if !s.PauseLogging() {
			return jsonReply(logStatus{Status: -1, Message: "Logging already paused or stopped."}), true
		}
		return jsonReply(logStatus{Message: "Successfully paused logging."}), true

	case server.KeywordResumeLogging:
		if !s.ResumeLogging() {
			return jsonReply(logStatus{Status: 1, Message: "Logging was not paused."}), true
		}
		return jsonReply(logStatus{Message: "Continued logging data."}), true

	case server.KeywordStopLogging:
		s.StopLogging()
		return jsonReply(logStatus{Message: "Successfully stopped logging."}), true

	case server.KeywordResetController:
		return ackOrError(s.ResetEEPROM()), true

	case server.KeywordRestartController:
		return ackOrError(s.Restart()), true

	case server.KeywordResetWiFi:
		return ackOrError(s.ResetWiFi()), true

	case server.KeywordStopScript, server.KeywordQuit:
		l.log.Info("stop requested", "keyword", req.Keyword)
		l.stopping = true
		return server.Ack(), true

	default:
		l.log.Warn("declining unknown keyword", "keyword", req.Keyword)
		r.Decline()
		return server.Reply{}, false
	}
}

// answer delivers a deferred reply.
func (l *Loop) answer(req server.Request, r responder, reply server.Reply) {
	if err := r.Reply(reply); err != nil {
		l.log.Warn("sending deferred reply failed", "keyword", req.Keyword, "error", err)
	}
}

func (l *Loop) activateProfile(ctx context.Context, req server.Request, now time.Time) error {
	if l.profiles == nil {
		return errNoProfiles
	}
	id, err := strconv.ParseInt(strings.TrimSpace(req.Value), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid profile id %q", req.Value)
	}
	p, err := l.profiles.Get(ctx, id)
	if err != nil {
		return err
	}
	return l.sess.ActivateProfile(p, now, now)
}

// localOnly names the commands refused over MQTT. They stop the bridge,
// reboot the controller or rewrite its hardware configuration.
var localOnly = map[string]bool{
	server.KeywordQuit:              true,
	server.KeywordStopScript:        true,
	server.KeywordResetController:   true,
	server.KeywordRestartController: true,
	server.KeywordResetWiFi:         true,
	server.KeywordApplyDevice:       true,
	server.KeywordWriteDevice:       true,
	server.KeywordSetParameters:     true,
}

// handleRemote serves a request line received over MQTT.
func (l *Loop) handleRemote(ctx context.Context, line string, now time.Time) {
	req, err := server.ParseRequest(line)
	if err != nil {
		l.log.Warn("ignoring remote command", "error", err)
		return
	}
	w := remoteResponder{state: l.state, req: req}
	if localOnly[req.Keyword] {
		l.log.Warn("refusing remote command", "command", req.Keyword)
		if err := w.Reply(server.Error(errLocalOnly)); err != nil {
			l.log.Warn("publishing remote response failed", "error", err)
		}
		return
	}
	l.handle(ctx, req, w, now)
}

// remoteResponder publishes replies to the device response topic.
type remoteResponder struct {
	state *StatePublisher
	req   server.Request
}

func (r remoteResponder) Reply(reply server.Reply) error {
	if r.state == nil {
		return nil
	}
	return r.state.PublishResponse(r.req, reply)
}

func (remoteResponder) Decline() {}

func parseTemp(req server.Request) (float64, error) {
	if !req.HasValue {
		return 0, errMissingValue
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(req.Value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid temperature %q", req.Value)
	}
	return v, nil
}

func tempReply(v float64, err error) server.Reply {
	if err != nil {
		return server.Error(err)
	}
	return server.Value(firmware.FormatTemp(v))
}

func rawReply(raw json.RawMessage, err error) server.Reply {
	if err != nil {
		return server.Error(err)
	}
	return server.RawJSON(raw)
}

func jsonReply(v any) server.Reply {
	r, err := server.JSON(v)
	if err != nil {
		return server.Error(err)
	}
	return r
}

func ackOrError(err error) server.Reply {
	if err != nil {
		return server.Error(err)
	}
	return server.Ack()
}
