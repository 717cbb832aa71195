package telephony

import (
	"fmt"
	"strings"
)

// ConferenceLegParams describes one leg of a two-party conference with its
// media forked to a relay session
type ConferenceLegParams struct {
	Greeting       string
	StreamURL      string // websocket URL the provider streams raw media to
	ConferenceName string
	// EndConferenceOnExit ends the whole conference when this leg hangs up.
	// Set for the agent leg so a departing agent tears the call down.
	EndConferenceOnExit bool
}

// ConferenceLegTwiml builds the call-control instructions for one conference
// leg: greet, start the raw media fork, then join the named conference.
func ConferenceLegTwiml(params ConferenceLegParams) string {
	return fmt.Sprintf(`<Response>
  <Say>%s</Say>
  <Start>
    <Stream url="%s"/>
  </Start>
  <Dial>
    <Conference record="record-from-start" startConferenceOnEnter="true" endConferenceOnExit="%t">%s</Conference>
  </Dial>
</Response>`,
		xmlEscape(params.Greeting),
		xmlEscape(params.StreamURL),
		params.EndConferenceOnExit,
		xmlEscape(params.ConferenceName))
}

// StreamURL converts the public HTTP base URL into the websocket URL for a
// session's media stream endpoint
func StreamURL(baseURL, sessionID string) string {
	wsBase := baseURL
	if strings.HasPrefix(wsBase, "https://") {
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	} else if strings.HasPrefix(wsBase, "http://") {
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	return fmt.Sprintf("%s/api/v1/twilio-stream/%s", strings.TrimRight(wsBase, "/"), sessionID)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}
