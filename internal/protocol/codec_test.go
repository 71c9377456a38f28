package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsafMeizner/reels-battle/internal/protocol"
)

func TestDecodeMembership(t *testing.T) {
	ev, err := protocol.Decode(protocol.EventMembership, []byte(`{"players":{"p1":"sharer","p2":null},"seq":4}`))
	require.NoError(t, err)

	m, ok := ev.(protocol.Membership)
	require.True(t, ok)
	assert.Equal(t, protocol.RoleSharer, m.RoleOf("p1"))
	assert.Equal(t, protocol.RoleUnassigned, m.RoleOf("p2"))
	assert.Equal(t, protocol.RoleUnassigned, m.RoleOf("missing"))
	assert.Equal(t, uint64(4), m.Seq)
}

func TestEncodeMembershipUnassignedIsNull(t *testing.T) {
	event, data, err := protocol.Encode(protocol.NewMembership("p1", protocol.RoleUnassigned, 0))
	require.NoError(t, err)
	assert.Equal(t, "lobbyUpdate", event)
	assert.JSONEq(t, `{"players":{"p1":null}}`, string(data))

	_, data, err = protocol.Encode(protocol.NewMembership("p1", protocol.RoleWatcher, 2))
	require.NoError(t, err)
	assert.JSONEq(t, `{"players":{"p1":"watcher"},"seq":2}`, string(data))
}

func TestWireNames(t *testing.T) {
	cases := []struct {
		ev   protocol.Event
		want string
		json string
	}{
		{
			ev:   protocol.RoundStarted{SharerIDs: []string{"p1", "p2"}},
			want: "roundStart",
			json: `{"sharerIds":["p1","p2"]}`,
		},
		{
			ev:   protocol.Offer{To: "p3", From: "p1", SDP: protocol.SessionDescription{Type: "offer", SDP: "v=0"}, Round: "r1"},
			want: "offer",
			json: `{"to":"p3","from":"p1","sdp":{"type":"offer","sdp":"v=0"},"round":"r1"}`,
		},
		{
			ev:   protocol.Answer{To: "p1", From: "p3", SDP: protocol.SessionDescription{Type: "answer", SDP: "v=0"}},
			want: "answer",
			json: `{"to":"p1","from":"p3","sdp":{"type":"answer","sdp":"v=0"}}`,
		},
		{
			ev:   protocol.Candidate{To: "p1", From: "p3", Candidate: protocol.ICECandidate{Candidate: "candidate:1"}},
			want: "iceCandidate",
			json: `{"to":"p1","from":"p3","candidate":{"candidate":"candidate:1"}}`,
		},
		{
			ev:   protocol.Vote{Which: protocol.SideB},
			want: "newVote",
			json: `{"which":"B"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			event, data, err := protocol.Encode(tc.ev)
			require.NoError(t, err)
			assert.Equal(t, tc.want, event)
			assert.JSONEq(t, tc.json, string(data))

			back, err := protocol.Decode(event, data)
			require.NoError(t, err)
			assert.Equal(t, tc.ev, back)
		})
	}
}

func TestCandidateKeepsBrowserFields(t *testing.T) {
	raw := `{"to":"p1","from":"p3","candidate":{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0,"usernameFragment":"abcd"}}`
	ev, err := protocol.Decode(protocol.EventCandidate, []byte(raw))
	require.NoError(t, err)

	c := ev.(protocol.Candidate)
	require.NotNil(t, c.Candidate.SDPMid)
	require.NotNil(t, c.Candidate.SDPMLineIndex)
	assert.Equal(t, "0", *c.Candidate.SDPMid)
	assert.Equal(t, uint16(0), *c.Candidate.SDPMLineIndex)
	assert.Equal(t, "abcd", *c.Candidate.UsernameFragment)

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name  string
		event string
		data  string
		want  error
	}{
		{"unknown event", "chat", `{}`, protocol.ErrUnknownEvent},
		{"malformed json", protocol.EventVote, `{"which":`, protocol.ErrInvalidMessage},
		{"unknown side", protocol.EventVote, `{"which":"C"}`, protocol.ErrInvalidMessage},
		{"empty membership", protocol.EventMembership, `{"players":{}}`, protocol.ErrInvalidMessage},
		{"unknown role", protocol.EventMembership, `{"players":{"p1":"judge"}}`, protocol.ErrInvalidMessage},
		{"one sharer", protocol.EventRoundStart, `{"sharerIds":["p1"]}`, protocol.ErrInvalidMessage},
		{"same sharer twice", protocol.EventRoundStart, `{"sharerIds":["p1","p1"]}`, protocol.ErrInvalidMessage},
		{"offer without recipient", protocol.EventOffer, `{"from":"p1","sdp":{"type":"offer","sdp":"v=0"}}`, protocol.ErrInvalidMessage},
		{"offer carrying an answer", protocol.EventOffer, `{"to":"p3","from":"p1","sdp":{"type":"answer","sdp":"v=0"}}`, protocol.ErrInvalidMessage},
		{"answer without sdp", protocol.EventAnswer, `{"to":"p1","from":"p3","sdp":{"type":"answer"}}`, protocol.ErrInvalidMessage},
		{"candidate without sender", protocol.EventCandidate, `{"to":"p1","candidate":{"candidate":"c"}}`, protocol.ErrInvalidMessage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.Decode(tc.event, []byte(tc.data))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	_, _, err := protocol.Encode(nil)
	require.ErrorIs(t, err, protocol.ErrInvalidMessage)

	_, _, err = protocol.Encode(protocol.Vote{Which: "C"})
	require.ErrorIs(t, err, protocol.ErrInvalidMessage)
}

func TestParseRole(t *testing.T) {
	r, err := protocol.ParseRole("watcher")
	require.NoError(t, err)
	assert.Equal(t, protocol.RoleWatcher, r)

	_, err = protocol.ParseRole("Watcher")
	require.ErrorIs(t, err, protocol.ErrInvalidMessage)
	assert.Equal(t, "unassigned", protocol.RoleUnassigned.String())
}

func TestNormalizeRoomCode(t *testing.T) {
	code, err := protocol.NormalizeRoomCode("  abc123 ")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", code)

	for _, bad := range []string{"", "ABC12", "ABC1234", "ABC-12", "abc 12"} {
		_, err := protocol.NormalizeRoomCode(bad)
		assert.Error(t, err, bad)
	}
}

func TestGenerateRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		code := protocol.GenerateRoomCode()
		norm, err := protocol.NormalizeRoomCode(code)
		require.NoError(t, err)
		assert.Equal(t, code, norm)
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "0")
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}
