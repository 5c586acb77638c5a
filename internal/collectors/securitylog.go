package collectors

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	eventLogon             = 4624
	eventLogoff            = 4634
	eventUserLogoff        = 4647
	eventSessionDisconnect = 4779
)

// Logon types for RemoteInteractive (RDP) and Unlock, which is what a
// reconnect to a disconnected session records.
var rdpLogonTypes = map[string]bool{"10": true, "7": true}

var ignoredSourceIPs = map[string]bool{"": true, "-": true, "::1": true, "127.0.0.1": true}

const (
	logonQuery      = "*[System[(EventID=4624)]] and *[EventData[Data[@Name='LogonType']='10' or Data[@Name='LogonType']='7']]"
	disconnectQuery = "*[System[(EventID=4779 or EventID=4634 or EventID=4647)]]"
)

// WevtutilSource queries the Security log with wevtutil.exe.
type WevtutilSource struct {
	run func(ctx context.Context, query string, maxEvents int) ([]byte, error)
}

func NewWevtutilSource() *WevtutilSource {
	return &WevtutilSource{
		run: func(ctx context.Context, query string, maxEvents int) ([]byte, error) {
			return runTool(ctx, "wevtutil", "qe", "Security",
				"/q:"+query, "/f:xml", "/rd:true", fmt.Sprintf("/c:%d", maxEvents))
		},
	}
}

func (s *WevtutilSource) LatestLogons(ctx context.Context, usernames []string, maxEvents int) (map[string]RDPEvent, error) {
	out, err := s.run(ctx, logonQuery, maxEvents)
	if err != nil {
		return map[string]RDPEvent{}, fmt.Errorf("wevtutil logons: %w", err)
	}
	return ParseLogonEvents(out, usernames), nil
}

func (s *WevtutilSource) LatestDisconnects(ctx context.Context, usernames []string, maxEvents int) (map[string]RDPEvent, error) {
	out, err := s.run(ctx, disconnectQuery, maxEvents)
	if err != nil {
		return map[string]RDPEvent{}, fmt.Errorf("wevtutil disconnects: %w", err)
	}
	return ParseDisconnectEvents(out, usernames), nil
}

type securityEvent struct {
	System struct {
		EventID     int `xml:"EventID"`
		TimeCreated struct {
			SystemTime string `xml:"SystemTime,attr"`
		} `xml:"TimeCreated"`
	} `xml:"System"`
	Data []struct {
		Name  string `xml:"Name,attr"`
		Value string `xml:",chardata"`
	} `xml:"EventData>Data"`
}

func (e securityEvent) field(name string) string {
	for _, d := range e.Data {
		if d.Name == name {
			return strings.TrimSpace(d.Value)
		}
	}
	return ""
}

func (e securityEvent) created() time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(e.System.TimeCreated.SystemTime))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// ParseLogonEvents picks the latest RDP logon per wanted user from
// wevtutil XML output. Loopback and empty source addresses are skipped.
func ParseLogonEvents(data []byte, usernames []string) map[string]RDPEvent {
	wanted := wantedSet(usernames)
	result := make(map[string]RDPEvent)

	for _, ev := range decodeEvents(data) {
		if ev.System.EventID != eventLogon {
			continue
		}
		user := strings.ToLower(ev.field("TargetUserName"))
		if !wanted[user] || !rdpLogonTypes[ev.field("LogonType")] {
			continue
		}
		ip := ev.field("IpAddress")
		if ignoredSourceIPs[ip] {
			continue
		}
		keepLatest(result, user, RDPEvent{IP: ip, Time: ev.created()})
	}

	return result
}

// ParseDisconnectEvents picks the latest session disconnect or logoff per
// wanted user. 4634 logoffs only count for RDP logon types.
func ParseDisconnectEvents(data []byte, usernames []string) map[string]RDPEvent {
	wanted := wantedSet(usernames)
	result := make(map[string]RDPEvent)

	for _, ev := range decodeEvents(data) {
		var user, ip string
		switch ev.System.EventID {
		case eventSessionDisconnect:
			user = ev.field("AccountName")
			ip = ev.field("ClientAddress")
		case eventLogoff:
			if !rdpLogonTypes[ev.field("LogonType")] {
				continue
			}
			user = ev.field("TargetUserName")
		case eventUserLogoff:
			user = ev.field("TargetUserName")
		default:
			continue
		}
		user = strings.ToLower(user)
		if !wanted[user] {
			continue
		}
		if ignoredSourceIPs[ip] {
			ip = ""
		}
		keepLatest(result, user, RDPEvent{IP: ip, Time: ev.created()})
	}

	return result
}

// keepLatest replaces the stored event only with a strictly newer one. An
// event without a timestamp never displaces one that has a timestamp.
func keepLatest(result map[string]RDPEvent, user string, ev RDPEvent) {
	current, ok := result[user]
	switch {
	case !ok:
		result[user] = ev
	case ev.Time.IsZero():
	case current.Time.IsZero() || ev.Time.After(current.Time):
		result[user] = ev
	}
}

// decodeEvents streams <Event> elements out of wevtutil output, which has
// no single root element. Decoding stops at the first malformed element and
// keeps what was read before it.
func decodeEvents(data []byte) []securityEvent {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var events []securityEvent
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("security log parse stopped", "error", err, "events", len(events))
			}
			return events
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Event" {
			continue
		}
		var ev securityEvent
		if err := dec.DecodeElement(&ev, &start); err != nil {
			log.Debug("security log parse stopped", "error", err, "events", len(events))
			return events
		}
		events = append(events, ev)
	}
}

func wantedSet(usernames []string) map[string]bool {
	wanted := make(map[string]bool, len(usernames))
	for _, u := range usernames {
		wanted[strings.ToLower(strings.TrimSpace(u))] = true
	}
	return wanted
}
