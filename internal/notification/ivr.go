package notification

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Responder records a donor's answer given over the phone.
type Responder interface {
	RespondByVoice(ctx context.Context, requestID, donorID types.ID, accepted bool) error
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, requestID, donorID types.ID, accepted bool) error

func (f ResponderFunc) RespondByVoice(ctx context.Context, requestID, donorID types.ID, accepted bool) error {
	return f(ctx, requestID, donorID, accepted)
}

var (
	acceptWords  = []string{"yes", "haan", "ha", "accept", "ready"}
	declineWords = []string{"no", "nahin", "nahi", "reject", "mana"}
	hindiWords   = []string{"haan", "nahi", "namaste", "kripya"}
)

// Answer classifies IVR input. Digits win over speech; speech is matched
// word by word so "know" is not read as "no".
func Answer(digits, speech string) (accepted, ok bool) {
	switch digits {
	case "1":
		return true, true
	case "2":
		return false, true
	}
	words := strings.Fields(strings.ToLower(speech))
	if containsAny(words, acceptWords) {
		return true, true
	}
	if containsAny(words, declineWords) {
		return false, true
	}
	return false, false
}

func spokeHindi(speech string) bool {
	return containsAny(strings.Fields(strings.ToLower(speech)), hindiWords)
}

func containsAny(words, vocabulary []string) bool {
	for _, w := range words {
		w = strings.Trim(w, ".,!?")
		for _, v := range vocabulary {
			if w == v {
				return true
			}
		}
	}
	return false
}

// TwiML verbs.
type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr"`
	Text    string   `xml:",chardata"`
}

type gather struct {
	XMLName   xml.Name `xml:"Gather"`
	Input     string   `xml:"input,attr"`
	NumDigits int      `xml:"numDigits,attr"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	Timeout   int      `xml:"timeout,attr"`
	Says      []say
}

type hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

const ivrVoice = "alice"

func speak(text string) say {
	return say{Voice: ivrVoice, Text: text}
}

// IVRHandler serves the webhooks the voice provider calls during an alert.
type IVRHandler struct {
	calls     CallStore
	responder Responder
	logger    *zap.Logger
}

// NewIVRHandler creates the IVR webhook handler. responder may be nil, in
// which case answers are only acknowledged.
func NewIVRHandler(calls CallStore, responder Responder, logger *zap.Logger) *IVRHandler {
	return &IVRHandler{
		calls:     calls,
		responder: responder,
		logger:    logger.Named("ivr"),
	}
}

// Routes registers the IVR routes
func (h *IVRHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ivr", h.Prompt)
	r.Post("/ivr/handle", h.Handle)
	return r
}

func (h *IVRHandler) handleAction(r *http.Request, cid string) string {
	return strings.TrimSuffix(r.URL.Path, "/") + "/handle?cid=" + url.QueryEscape(cid)
}

func (h *IVRHandler) gatherFor(action string, says ...say) gather {
	return gather{
		Input:     "speech dtmf",
		NumDigits: 1,
		Action:    action,
		Method:    http.MethodPost,
		Timeout:   6,
		Says:      says,
	}
}

// Prompt reads the alert to the donor and waits for a key press or speech.
func (h *IVRHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	cid := r.URL.Query().Get("cid")
	call := h.lookup(r.Context(), cid)

	hospitalName := call.HospitalName
	if hospitalName == "" {
		hospitalName = "the hospital"
	}
	bloodGroup := call.BloodGroup
	if bloodGroup == "" {
		bloodGroup = "required"
	}

	intro := fmt.Sprintf("Hello %s. This is an urgent request from %s. We need %s blood. Press 1 to accept, press 2 to decline.",
		call.DonorName, hospitalName, bloodGroup)
	hindi := "Namaste. Yah ek aavashyak khoon dan anurodh hai. Kripya ek dabayein sweekar ke liye, do dabayein inkar ke liye."

	h.write(w, twiml{Verbs: []any{
		h.gatherFor(h.handleAction(r, cid), speak(intro), speak(hindi)),
		speak("We did not receive any input. Goodbye."),
	}})
}

// Handle interprets the donor's input and records the answer.
func (h *IVRHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w)
		return
	}

	cid := r.URL.Query().Get("cid")
	speech := r.PostForm.Get("SpeechResult")
	hindi := spokeHindi(speech)

	accepted, ok := Answer(r.PostForm.Get("Digits"), speech)
	if !ok {
		prompt := "Please press 1 to accept or press 2 to decline."
		if hindi {
			prompt = "Kripya ek dabayein sweekar ke liye, do dabayein inkar ke liye."
		}
		action := strings.TrimSuffix(r.URL.Path, "/") + "?cid=" + url.QueryEscape(cid)
		h.write(w, twiml{Verbs: []any{h.gatherFor(action, speak(prompt))}})
		return
	}

	call := h.lookup(r.Context(), cid)
	if reply, recorded := h.record(r.Context(), cid, call, accepted); !recorded {
		h.write(w, twiml{Verbs: []any{speak(reply), hangup{}}})
		return
	}

	var reply string
	switch {
	case accepted && hindi:
		reply = "Dhanyavaad. Aapka sweekar darj kar liya gaya hai. Hum jaldi sampark karenge."
	case accepted:
		reply = "Thank you. Your acceptance has been recorded. We will contact you shortly."
	case hindi:
		reply = "Dhanyavaad. Aapka uttar inkar ke roop mein darj kiya gaya hai."
	default:
		reply = "Thank you. Your response has been recorded as decline."
	}
	h.write(w, twiml{Verbs: []any{speak(reply), hangup{}}})
}

// record forwards the answer when the call is tied to a request. It returns
// a replacement reply and false when the answer could not be accepted.
func (h *IVRHandler) record(ctx context.Context, cid string, call *CallContext, accepted bool) (string, bool) {
	if h.responder == nil || !call.Answerable() {
		return "", true
	}

	err := h.responder.RespondByVoice(ctx, call.RequestID, call.DonorID, accepted)
	switch {
	case err == nil:
		if derr := h.calls.Delete(ctx, cid); derr != nil {
			h.logger.Warn("failed to drop call context", zap.String("cid", cid), zap.Error(derr))
		}
		return "", true
	case errors.IsCooldownActive(err):
		end := ""
		if appErr, ok := errors.As(err); ok {
			end = appErr.Details["cooldown_end"]
		}
		return fmt.Sprintf("Thank you. You are not yet eligible to donate again until %s. Goodbye.", end), false
	case errors.IsNotFound(err):
		return "This request has already been answered. Goodbye.", false
	default:
		h.logger.Error("failed to record voice answer",
			zap.String("cid", cid),
			zap.String("request_id", call.RequestID.String()),
			zap.Error(err),
		)
		return "We are experiencing a system error. Please try again later.", false
	}
}

func (h *IVRHandler) lookup(ctx context.Context, cid string) *CallContext {
	if cid == "" {
		return &CallContext{}
	}
	call, err := h.calls.Get(ctx, cid)
	if err != nil {
		if !errors.IsNotFound(err) {
			h.logger.Warn("failed to load call context", zap.String("cid", cid), zap.Error(err))
		}
		return &CallContext{}
	}
	return call
}

func (h *IVRHandler) fail(w http.ResponseWriter) {
	h.write(w, twiml{Verbs: []any{
		speak("We are experiencing a system error. Please try again later."),
		hangup{},
	}})
}

func (h *IVRHandler) write(w http.ResponseWriter, resp twiml) {
	out, err := xml.Marshal(resp)
	if err != nil {
		h.logger.Error("failed to render twiml", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	w.Write(out)
}
