package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
)

// Minimal TwiML response builder for the verbs the dialer actually emits.
// It intentionally avoids the provider SDK's TwiML package; webhook
// responses are a thin adapter concern and easier to audit as plain XML.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	Loop    int      `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName    xml.Name         `xml:"Dial"`
	Conference *twimlConference `xml:"Conference,omitempty"`
}

type twimlConference struct {
	StartConferenceOnEnter string `xml:"startConferenceOnEnter,attr"`
	EndConferenceOnExit    string `xml:"endConferenceOnExit,attr"`
	Beep                   string `xml:"beep,attr,omitempty"`
	StatusCallback         string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackMethod   string `xml:"statusCallbackMethod,attr,omitempty"`
	StatusCallbackEvent    string `xml:"statusCallbackEvent,attr,omitempty"`
	Name                   string `xml:",chardata"`
}

// ConferenceJoinOptions controls how a leg enters the conference.
//
// The agent leg joins with StartOnEnter so the conference connects audio
// only once the agent is present; customer legs join with StartOnEnter
// false to avoid a customer hearing silence before the agent arrives.
type ConferenceJoinOptions struct {
	StartOnEnter bool
	EndOnExit    bool

	// StatusCallbackURL receives conference lifecycle callbacks (start,
	// end, participant join/leave). The provider honors these attributes
	// from the first participant only, so set them on every join.
	StatusCallbackURL string
}

// JoinConferenceTwiML bridges the answering leg into the named conference.
func JoinConferenceTwiML(conferenceName string, opts ConferenceJoinOptions) (string, error) {
	if conferenceName == "" {
		return "", errors.New("telephony: conference name required")
	}
	conf := &twimlConference{
		StartConferenceOnEnter: boolAttr(opts.StartOnEnter),
		EndConferenceOnExit:    boolAttr(opts.EndOnExit),
		Beep:                   "false",
		Name:                   conferenceName,
	}
	if opts.StatusCallbackURL != "" {
		conf.StatusCallback = opts.StatusCallbackURL
		conf.StatusCallbackMethod = "POST"
		conf.StatusCallbackEvent = "start end join leave"
	}
	r := twimlResponse{Verbs: []any{twimlDial{Conference: conf}}}
	return renderTwiML(r)
}

// HoldTwiML parks a call: an optional announcement, then a hold loop. When
// no music URL is configured the caller hears a long silence punctuated by
// a redirect back to the same URL, which re-evaluates the call's state.
func HoldTwiML(message, musicURL, refreshURL string) (string, error) {
	var r twimlResponse
	if message != "" {
		r.Verbs = append(r.Verbs, twimlSay{Text: message})
	}
	if musicURL != "" {
		r.Verbs = append(r.Verbs, twimlPlay{Loop: 0, URL: musicURL})
	} else {
		r.Verbs = append(r.Verbs, twimlPause{Length: 60})
	}
	if refreshURL != "" {
		r.Verbs = append(r.Verbs, twimlRedirect{Method: "POST", URL: refreshURL})
	}
	return renderTwiML(r)
}

// HangupTwiML terminates the answering leg.
func HangupTwiML() (string, error) {
	return renderTwiML(twimlResponse{Verbs: []any{twimlHangup{}}})
}

// WaitTwiML keeps the leg alive without audio while asynchronous AMD
// resolves; refreshURL re-checks once the pause ends.
func WaitTwiML(seconds int, refreshURL string) (string, error) {
	if seconds <= 0 {
		seconds = 2
	}
	r := twimlResponse{Verbs: []any{twimlPause{Length: seconds}}}
	if refreshURL != "" {
		r.Verbs = append(r.Verbs, twimlRedirect{Method: "POST", URL: refreshURL})
	}
	return renderTwiML(r)
}

func boolAttr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func renderTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
