package collectors

import (
	"context"
	"testing"
	"time"
)

func logonEvent(user, logonType, ip, at string) string {
	return `<Event xmlns='http://schemas.microsoft.com/win/2004/08/events/event'><System><Provider Name='Microsoft-Windows-Security-Auditing'/><EventID>4624</EventID><TimeCreated SystemTime='` + at + `'/></System><EventData><Data Name='TargetUserName'>` + user + `</Data><Data Name='LogonType'>` + logonType + `</Data><Data Name='IpAddress'>` + ip + `</Data></EventData></Event>`
}

func disconnectEvent(id, userField, user, extra, at string) string {
	return `<Event xmlns='http://schemas.microsoft.com/win/2004/08/events/event'><System><EventID>` + id + `</EventID><TimeCreated SystemTime='` + at + `'/></System><EventData><Data Name='` + userField + `'>` + user + `</Data>` + extra + `</EventData></Event>`
}

func TestParseLogonEventsKeepsLatestPerUser(t *testing.T) {
	data := logonEvent("Alice", "10", "1.2.3.4", "2026-01-18T12:34:56.1234567Z") +
		logonEvent("alice", "10", "5.6.7.8", "2026-01-18T10:00:00.0000000Z") +
		logonEvent("alice", "3", "9.9.9.9", "2026-01-18T13:00:00.0000000Z") +
		logonEvent("bob", "10", "127.0.0.1", "2026-01-18T13:00:00.0000000Z") +
		logonEvent("bob", "7", "-", "2026-01-18T13:00:00.0000000Z") +
		logonEvent("mallory", "10", "6.6.6.6", "2026-01-18T13:00:00.0000000Z")

	got := ParseLogonEvents([]byte(data), []string{"alice", "bob"})

	alice, ok := got["alice"]
	if !ok {
		t.Fatalf("expected alice logon, got %+v", got)
	}
	if alice.IP != "1.2.3.4" {
		t.Fatalf("alice ip = %q, want 1.2.3.4", alice.IP)
	}
	want := time.Date(2026, 1, 18, 12, 34, 56, 123456700, time.UTC)
	if !alice.Time.Equal(want) {
		t.Fatalf("alice time = %v, want %v", alice.Time, want)
	}
	if _, ok := got["bob"]; ok {
		t.Fatalf("loopback and empty addresses should be skipped: %+v", got["bob"])
	}
	if _, ok := got["mallory"]; ok {
		t.Fatal("unmonitored users should be ignored")
	}
}

func TestParseLogonEventsNullTimestampNeverWins(t *testing.T) {
	data := logonEvent("alice", "10", "1.1.1.1", "not-a-time") +
		logonEvent("alice", "10", "2.2.2.2", "2026-01-18T09:00:00Z") +
		logonEvent("alice", "10", "3.3.3.3", "") +
		logonEvent("alice", "10", "4.4.4.4", "2026-01-18T09:00:00Z")

	got := ParseLogonEvents([]byte(data), []string{"alice"})
	if got["alice"].IP != "2.2.2.2" {
		t.Fatalf("expected first event with a timestamp to win ties, got %+v", got["alice"])
	}
}

func TestParseDisconnectEvents(t *testing.T) {
	data := disconnectEvent("4779", "AccountName", "alice", `<Data Name='ClientAddress'>1.2.3.4</Data>`, "2026-01-18T12:00:00Z") +
		disconnectEvent("4647", "TargetUserName", "alice", "", "2026-01-18T12:30:00Z") +
		disconnectEvent("4634", "TargetUserName", "bob", `<Data Name='LogonType'>3</Data>`, "2026-01-18T12:45:00Z") +
		disconnectEvent("4634", "TargetUserName", "carol", `<Data Name='LogonType'>10</Data>`, "2026-01-18T11:00:00Z")

	got := ParseDisconnectEvents([]byte(data), []string{"alice", "bob", "carol"})

	if at := got["alice"].Time; !at.Equal(time.Date(2026, 1, 18, 12, 30, 0, 0, time.UTC)) {
		t.Fatalf("alice disconnect = %v, want the 4647 logoff", at)
	}
	if _, ok := got["bob"]; ok {
		t.Fatal("network logoffs should not count as RDP disconnects")
	}
	if _, ok := got["carol"]; !ok {
		t.Fatal("expected carol's RDP logoff")
	}
}

func TestParseEventsToleratesGarbage(t *testing.T) {
	data := logonEvent("alice", "10", "1.2.3.4", "2026-01-18T12:00:00Z") + "<Event><System><EventID>"
	got := ParseLogonEvents([]byte(data), []string{"alice"})
	if got["alice"].IP != "1.2.3.4" {
		t.Fatalf("events before a malformed element should survive, got %+v", got)
	}

	if got := ParseLogonEvents(nil, []string{"alice"}); len(got) != 0 {
		t.Fatalf("empty input should give empty map, got %+v", got)
	}
}

func TestWevtutilSourcePassesQueryAndCount(t *testing.T) {
	var gotQuery string
	var gotMax int
	src := &WevtutilSource{run: func(ctx context.Context, query string, maxEvents int) ([]byte, error) {
		gotQuery, gotMax = query, maxEvents
		return []byte(logonEvent("alice", "10", "1.2.3.4", "2026-01-18T12:00:00Z")), nil
	}}

	got, err := src.LatestLogons(context.Background(), []string{"alice"}, 250)
	if err != nil {
		t.Fatalf("LatestLogons: %v", err)
	}
	if gotQuery != logonQuery || gotMax != 250 {
		t.Fatalf("query=%q max=%d", gotQuery, gotMax)
	}
	if got["alice"].IP != "1.2.3.4" {
		t.Fatalf("unexpected result %+v", got)
	}
}
